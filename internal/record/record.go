// Package record implements the Record type from spec §3: an ordered
// mapping from field name to a tagged value, serialized to JSON in
// declaration order rather than the sorted-key order encoding/json's
// map handling would otherwise produce.
package record

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Kind tags which arm of Value is populated.
type Kind int

const (
	KindString Kind = iota
	KindInt32
	KindInt64
	KindDouble
)

// Value is a tagged union over the record field types spec §3 allows:
// string, int32, int64, double.
type Value struct {
	Kind   Kind
	Str    string
	Int32  int32
	Int64  int64
	Double float64
}

func String(v string) Value  { return Value{Kind: KindString, Str: v} }
func Int32(v int32) Value    { return Value{Kind: KindInt32, Int32: v} }
func Int64(v int64) Value    { return Value{Kind: KindInt64, Int64: v} }
func Double(v float64) Value { return Value{Kind: KindDouble, Double: v} }

// Record is an ordered field map. The zero value is not usable; use New.
type Record struct {
	order []string
	index map[string]int
	vals  []Value
}

// New returns an empty Record ready for Set calls.
func New() *Record {
	return &Record{index: make(map[string]int)}
}

// Set writes a field, replacing any existing value for name in place
// (position preserved) or appending a new field at the end.
func (r *Record) Set(name string, v Value) {
	if i, ok := r.index[name]; ok {
		r.vals[i] = v
		return
	}
	r.index[name] = len(r.order)
	r.order = append(r.order, name)
	r.vals = append(r.vals, v)
}

// Get returns the field's value and whether it is present.
func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.vals[i], true
}

// Has reports whether name is present.
func (r *Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// AddInt64 implements the int64_sum handler semantics: add to an
// existing int64 field or insert a new one.
func (r *Record) AddInt64(name string, delta int64) {
	if i, ok := r.index[name]; ok {
		r.vals[i].Int64 += delta
		r.vals[i].Kind = KindInt64
		return
	}
	r.Set(name, Int64(delta))
}

// Delete removes a field if present, used by the aggregator's field
// pruning pass. Removing a field shifts later fields' positions down by
// one so emission order is preserved for what remains.
func (r *Record) Delete(name string) {
	i, ok := r.index[name]
	if !ok {
		return
	}
	r.order = append(r.order[:i], r.order[i+1:]...)
	r.vals = append(r.vals[:i], r.vals[i+1:]...)
	delete(r.index, name)
	for k := i; k < len(r.order); k++ {
		r.index[r.order[k]] = k
	}
}

// Fields returns field names in emission order.
func (r *Record) Fields() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Clone deep-copies the record, used when a source record must survive
// past its aggregation-bucket merge (the aggregator keeps the first
// merged record and mutates it in place; callers that need an
// independent copy use this).
func (r *Record) Clone() *Record {
	c := New()
	for i, name := range r.order {
		c.Set(name, r.vals[i])
	}
	return c
}

// MarshalJSON writes fields in declaration order, matching spec §3's
// "order of emission matches schema order; type is emitted first".
func (r *Record) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 128)
	buf = append(buf, '{')
	for i, name := range r.order {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendJSONString(buf, name)
		buf = append(buf, ':')
		var err error
		buf, err = appendValue(buf, r.vals[i])
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", name)
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case KindString:
		return appendJSONString(buf, v.Str), nil
	case KindInt32:
		return strconv.AppendInt(buf, int64(v.Int32), 10), nil
	case KindInt64:
		return strconv.AppendInt(buf, v.Int64, 10), nil
	case KindDouble:
		return strconv.AppendFloat(buf, v.Double, 'g', -1, 64), nil
	default:
		return nil, errors.Errorf("unknown value kind %d", v.Kind)
	}
}

func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r < 0x20 {
				buf = append(buf, fmt.Sprintf(`\u%04x`, r)...)
				continue
			}
			buf = append(buf, string(r)...)
		}
	}
	buf = append(buf, '"')
	return buf
}
