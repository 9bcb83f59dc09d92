package temporal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var jsonNull = []byte("null")

// Opt is an optional stored business value. The zero Opt is absent, which is
// distinct from a present zero value (for example an empty postcode).
type Opt[V comparable] struct {
	value V
	set   bool
}

// Some returns a present value.
func Some[V comparable](v V) Opt[V] {
	return Opt[V]{value: v, set: true}
}

// None returns an absent value.
func None[V comparable]() Opt[V] {
	return Opt[V]{}
}

// Get returns the value and whether it is present.
func (o Opt[V]) Get() (V, bool) {
	return o.value, o.set
}

// IsSet reports whether a value is present.
func (o Opt[V]) IsSet() bool {
	return o.set
}

// OrZero returns the value, or V's zero value when absent.
func (o Opt[V]) OrZero() V {
	return o.value
}

func (o Opt[V]) String() string {
	if !o.set {
		return "<none>"
	}
	return fmt.Sprint(o.value)
}

// MarshalJSON encodes an absent value as null.
func (o Opt[V]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return jsonNull, nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as absent.
func (o *Opt[V]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*o = Opt[V]{}
		return nil
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

type fieldState uint8

const (
	fieldUnknown fieldState = iota
	fieldDelete
	fieldValue
)

// Field is an inbound tri-state value: unknown (the sender did not supply it),
// delete (the sender explicitly retracted it) or a concrete value.
// The zero Field is unknown.
//
// JSON: a missing member decodes as unknown, null as delete, anything else as
// a value. Use the omitzero tag option so unknown fields are not encoded.
type Field[V comparable] struct {
	state fieldState
	value V
}

// Unknown returns a field the sender did not supply.
func Unknown[V comparable]() Field[V] {
	return Field[V]{}
}

// Delete returns an explicit retraction.
func Delete[V comparable]() Field[V] {
	return Field[V]{state: fieldDelete}
}

// Value returns a field carrying v.
func Value[V comparable](v V) Field[V] {
	return Field[V]{state: fieldValue, value: v}
}

// IsUnknown reports whether the sender did not supply the field.
func (f Field[V]) IsUnknown() bool { return f.state == fieldUnknown }

// IsDelete reports whether the field is an explicit retraction.
func (f Field[V]) IsDelete() bool { return f.state == fieldDelete }

// Get returns the concrete value, if any.
func (f Field[V]) Get() (V, bool) {
	return f.value, f.state == fieldValue
}

// IsZero reports true for unknown fields; used by the omitzero tag option.
func (f Field[V]) IsZero() bool {
	return f.state == fieldUnknown
}

// Map returns the field with fn applied to its value. Unknown and delete
// pass through unchanged.
func (f Field[V]) Map(fn func(V) V) Field[V] {
	if f.state != fieldValue {
		return f
	}
	return Value(fn(f.value))
}

// sameValue compares with an Equal method when V has one, so instants in
// different locations compare by instant.
func sameValue[V comparable](a, b V) bool {
	if eq, ok := any(a).(interface{ Equal(V) bool }); ok {
		return eq.Equal(b)
	}
	return a == b
}

// AssignTo applies the field to a stored value and reports whether it changed.
//
// Unknown never changes dst. Delete clears dst and is a change whenever a value
// was present, including a present zero value. A concrete value overwrites dst
// and is a change iff it differs from what was stored.
func (f Field[V]) AssignTo(dst *Opt[V]) bool {
	switch f.state {
	case fieldDelete:
		if !dst.set {
			return false
		}
		*dst = Opt[V]{}
		return true
	case fieldValue:
		if dst.set && sameValue(dst.value, f.value) {
			return false
		}
		*dst = Some(f.value)
		return true
	default:
		return false
	}
}

func (f Field[V]) String() string {
	switch f.state {
	case fieldDelete:
		return "<delete>"
	case fieldValue:
		return fmt.Sprint(f.value)
	default:
		return "<unknown>"
	}
}

// MarshalJSON encodes delete as null. Unknown also encodes as null, so struct
// members of type Field must carry omitzero.
func (f Field[V]) MarshalJSON() ([]byte, error) {
	if f.state != fieldValue {
		return jsonNull, nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON decodes null as delete and any other value as a concrete value.
func (f *Field[V]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*f = Delete[V]()
		return nil
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Value(v)
	return nil
}
