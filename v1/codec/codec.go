// Package codec encodes cached values for the distributed tier.
//
// Stores move strings, so binary codecs (msgpack, CBOR, gob) are usually
// wrapped with Text when the backend is not binary safe (e.g. a TEXT column).
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec defines methods for encoding and decoding values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON implements Codec using encoding/json. It is the default.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Gob implements Codec using encoding/gob.
type Gob struct{}

func (Gob) Marshal(v any) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (Gob) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Msgpack implements Codec using vmihailenco/msgpack. The zero value is ready
// to use. Use `msgpack:"name"` tags for explicit field names.
type Msgpack struct{}

func (Msgpack) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CBOR implements Codec using fxamacker/cbor. Construct with NewCBOR.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds a CBOR codec. With deterministic set the encoding follows
// RFC 8949 core deterministic rules. Times are encoded as RFC3339Nano.
func NewCBOR(deterministic bool) (CBOR, error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

// MustCBOR is like NewCBOR but panics on error.
func MustCBOR(deterministic bool) CBOR {
	c, err := NewCBOR(deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR) Marshal(v any) ([]byte, error) {
	if c.enc == nil {
		return nil, fmt.Errorf("codec: CBOR not initialized, use NewCBOR")
	}
	return c.enc.Marshal(v)
}

func (c CBOR) Unmarshal(data []byte, v any) error {
	if c.dec == nil {
		return fmt.Errorf("codec: CBOR not initialized, use NewCBOR")
	}
	return c.dec.Unmarshal(data, v)
}

// Text wraps a codec so that its output is standard base64.
func Text(c Codec) Codec { return textCodec{inner: c} }

type textCodec struct{ inner Codec }

func (t textCodec) Marshal(v any) ([]byte, error) {
	raw, err := t.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func (t textCodec) Unmarshal(data []byte, v any) error {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return fmt.Errorf("codec: base64: %w", err)
	}
	return t.inner.Unmarshal(raw[:n], v)
}

// ByName returns the codec registered under name: json, gob, msgpack, cbor.
// Binary codecs are returned wrapped with Text.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "gob":
		return Text(Gob{}), nil
	case "msgpack":
		return Text(Msgpack{}), nil
	case "cbor":
		c, err := NewCBOR(false)
		if err != nil {
			return nil, err
		}
		return Text(c), nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
