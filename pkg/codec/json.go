package codec

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"unsafe"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// JSON is the cache value encoding. Its policy is fixed for every write path:
//
//   - null object members are left out of the payload, so absent and null
//     fields decode identically (both leave the Go zero value).
//   - reference cycles are broken: a pointer, map or slice that points back at
//     a value already being encoded higher up the same path is written as
//     absent. Shared references that do not form a cycle are encoded in full
//     at every occurrence. Cyclic graphs therefore do not round-trip exactly.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return "json" }

// Marshal implements Codec.
func (JSON) Marshal(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	acyclic := breakCycles(reflect.ValueOf(v), make(map[visit]struct{}))

	raw, err := json.Marshal(acyclic.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnencodable, err)
	}

	// Round-trip through a generic tree to drop null members. UseNumber keeps
	// numeric literals exactly as the first pass wrote them.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnencodable, err)
	}
	out, err := json.Marshal(dropNulls(tree))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnencodable, err)
	}
	return out, nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUndecodable)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return nil
}

// dropNulls removes null members from objects. Nulls inside arrays are kept
// so element positions survive.
func dropNulls(node any) any {
	switch n := node.(type) {
	case map[string]any:
		for k, child := range n {
			if child == nil {
				delete(n, k)
				continue
			}
			n[k] = dropNulls(child)
		}
		return n
	case []any:
		for i, child := range n {
			n[i] = dropNulls(child)
		}
		return n
	default:
		return node
	}
}

func isStructOrStructPointer(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

func isMarshaler(t reflect.Type) bool {
	return t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType)
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// breakCycles returns a copy of v in which every back-reference to a value on
// the current path is replaced by the zero value of its type. Only the fields
// encoding/json sees are rewritten: exported fields, and embedded unexported
// structs whose exported fields are promoted.
func breakCycles(v reflect.Value, onPath map[visit]struct{}) reflect.Value {
	if !v.IsValid() {
		return v
	}
	t := v.Type()
	if isMarshaler(t) || (t.Kind() != reflect.Pointer && isMarshaler(reflect.PointerTo(t))) {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		key := visit{ptr: v.Pointer(), typ: t}
		if _, seen := onPath[key]; seen {
			return reflect.Zero(t)
		}
		onPath[key] = struct{}{}
		defer delete(onPath, key)

		out := reflect.New(t.Elem())
		out.Elem().Set(breakCycles(v.Elem(), onPath))
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		key := visit{ptr: v.Pointer(), typ: t}
		if _, seen := onPath[key]; seen {
			return reflect.Zero(t)
		}
		onPath[key] = struct{}{}
		defer delete(onPath, key)

		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), breakCycles(iter.Value(), onPath))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		key := visit{ptr: v.Pointer(), typ: t, len: v.Len()}
		if _, seen := onPath[key]; seen {
			return reflect.Zero(t)
		}
		onPath[key] = struct{}{}
		defer delete(onPath, key)

		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(breakCycles(v.Index(i), onPath))
		}
		return out

	case reflect.Array:
		out := reflect.New(t).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(breakCycles(v.Index(i), onPath))
		}
		return out

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(t).Elem()
		inner := breakCycles(v.Elem(), onPath)
		if inner.IsValid() {
			out.Set(inner)
		}
		return out

	case reflect.Struct:
		out := reflect.New(t).Elem()
		out.Set(v)
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			field := out.Field(i)
			if !sf.IsExported() {
				if !sf.Anonymous || !isStructOrStructPointer(sf.Type) {
					continue
				}
				// out is addressable, so the promoted fields can be rewritten
				// in the copy through an unrestricted view of the field.
				field = reflect.NewAt(sf.Type, unsafe.Pointer(field.UnsafeAddr())).Elem()
			}
			field.Set(breakCycles(field, onPath))
		}
		return out

	default:
		return v
	}
}
