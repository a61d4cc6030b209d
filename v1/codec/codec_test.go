package codec

import (
	"testing"
)

type item struct {
	ID    int64   `json:"id" msgpack:"id" cbor:"id"`
	Name  string  `json:"name" msgpack:"name" cbor:"name"`
	Price float64 `json:"price" msgpack:"price" cbor:"price"`
}

func TestCodecs(t *testing.T) {
	codecs := map[string]Codec{
		"json":         JSON{},
		"gob":          Gob{},
		"msgpack":      Msgpack{},
		"cbor":         MustCBOR(false),
		"cbor-det":     MustCBOR(true),
		"text-msgpack": Text(Msgpack{}),
	}
	in := item{ID: 7, Name: "widget", Price: 9.5}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			data, err := c.Marshal(in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var out item
			if err := c.Unmarshal(data, &out); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if out != in {
				t.Fatalf("expected %+v, got %+v", in, out)
			}
		})
	}
}

func TestCorruptInput(t *testing.T) {
	var out item
	if err := (JSON{}).Unmarshal([]byte("{not json"), &out); err == nil {
		t.Fatal("expected json error")
	}
	if err := Text(JSON{}).Unmarshal([]byte("!!!"), &out); err == nil {
		t.Fatal("expected base64 error")
	}
}

func TestZeroCBOR(t *testing.T) {
	if _, err := (CBOR{}).Marshal(1); err == nil {
		t.Fatal("expected error from uninitialized CBOR")
	}
}

func TestByName(t *testing.T) {
	for _, n := range []string{"", "json", "gob", "msgpack", "cbor"} {
		if _, err := ByName(n); err != nil {
			t.Fatalf("%q: %v", n, err)
		}
	}
	if _, err := ByName("yaml"); err == nil {
		t.Fatal("expected unknown codec error")
	}
}
