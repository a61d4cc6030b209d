package keys

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Param.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindDecimal
	KindEntity
	KindIntCollection
	KindEntityCollection
	KindOpaque
)

// Entity is anything identified by a numeric id.
type Entity interface {
	EntityID() int64
}

// Param is a key template argument. The set of variants is closed; build
// values with the constructors below.
type Param struct {
	kind Kind
	i    int64
	f    float64
	ids  []int64
	v    any
}

// Null projects to the literal "null".
func Null() Param { return Param{kind: KindNull} }

// Int projects to its base-10 form.
func Int(v int64) Param { return Param{kind: KindInt, i: v} }

// Decimal projects to the shortest exact representation with a '.' separator.
func Decimal(v float64) Param { return Param{kind: KindDecimal, f: v} }

// EntityRef projects to the entity id. A nil entity projects to "null".
func EntityRef(e Entity) Param {
	if e == nil {
		return Null()
	}
	return Param{kind: KindEntity, i: e.EntityID()}
}

// Ints projects to an order-independent hash of the ids.
func Ints[I ~int | ~int32 | ~int64](ids []I) Param {
	out := make([]int64, len(ids))
	for n, id := range ids {
		out[n] = int64(id)
	}
	return Param{kind: KindIntCollection, ids: out}
}

// Entities projects to an order-independent hash of the entity ids.
func Entities[E Entity](es []E) Param {
	out := make([]int64, len(es))
	for n, e := range es {
		out[n] = e.EntityID()
	}
	return Param{kind: KindEntityCollection, ids: out}
}

// Opaque projects to fmt.Sprint(v). A nil value projects to "null".
func Opaque(v any) Param {
	if v == nil {
		return Null()
	}
	return Param{kind: KindOpaque, v: v}
}

// Kind reports the variant.
func (p Param) Kind() Kind { return p.kind }

// Token returns the string substituted into a template.
func (p Param) Token() string {
	switch p.kind {
	case KindNull:
		return "null"
	case KindInt, KindEntity:
		return strconv.FormatInt(p.i, 10)
	case KindDecimal:
		return strconv.FormatFloat(p.f, 'f', -1, 64)
	case KindIntCollection, KindEntityCollection:
		return IdsHash(p.ids)
	case KindOpaque:
		return fmt.Sprint(p.v)
	default:
		panic(fmt.Sprintf("keys: unknown param kind %d", p.kind))
	}
}

func (p Param) String() string { return p.Token() }

// IdsHash sorts ids ascending, joins them with ", " and returns the hex
// SHA-1 digest of the result.
func IdsHash(ids []int64) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	var b strings.Builder
	for n, id := range sorted {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
