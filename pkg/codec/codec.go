// Package codec implements the reflective serializer: it converts
// arbitrary user-defined record values into a canonical tagged-JSON form
// and reconstructs them, without code generation. New resource and state
// types become serializable by registering their concrete Go type once
// against a string tag; fields are then discovered through reflection.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// typeTagField is the JSON key carrying the record's registered tag.
const typeTagField = ".type"

// Codec is a custom (toJSON, fromJSON) pair for an opaque leaf type, such
// as a URL or a time value, whose JSON shape is not "one entry per
// exported field".
type Codec struct {
	Encode func(v any) (any, error)
	Decode func(raw any) (any, error)
}

// FieldMapper lets a caller transform or intercept a single field's raw
// JSON before the default decode runs. Returning handled=true supplies
// value directly (already the correctly typed Go value) and skips the
// registry's own decoding of that field. It is used, for example, to
// rewrite a "dependencies" array of id strings into a live resource
// reference list during the two-pass reconstruction described for
// DependentResources.
type FieldMapper func(fieldName string, raw json.RawMessage) (value any, handled bool, err error)

// Registry is the reflective serializer's type registry.
type Registry struct {
	tagOf    map[reflect.Type]string
	typeOf   map[string]reflect.Type
	codecs   map[reflect.Type]Codec
}

// NewRegistry returns an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		tagOf:  make(map[reflect.Type]string),
		typeOf: make(map[string]reflect.Type),
		codecs: make(map[reflect.Type]Codec),
	}
}

// Register associates a type tag with the concrete Go struct type of
// sample. sample may be a value or a pointer to one; registration always
// resolves to the underlying struct type. Decoding later constructs a new
// pointer to this type and fills it field by field.
func (r *Registry) Register(tag string, sample any) {
	t := underlying(reflect.TypeOf(sample))
	r.tagOf[t] = tag
	r.typeOf[tag] = t
}

// RegisterCodec installs a custom encode/decode pair for an opaque leaf
// type. Instances of the type (including through pointers) are encoded
// and decoded via the codec instead of the default field walk.
func (r *Registry) RegisterCodec(sample any, c Codec) {
	t := underlying(reflect.TypeOf(sample))
	r.codecs[t] = c
}

// TagFor returns the registered tag for a concrete record type, or false
// if it was never registered.
func (r *Registry) TagFor(v any) (string, bool) {
	t := underlying(reflect.TypeOf(v))
	tag, ok := r.tagOf[t]
	return tag, ok
}

// TypeFor resolves a registered tag back to its reflect.Type.
func (r *Registry) TypeFor(tag string) (reflect.Type, bool) {
	t, ok := r.typeOf[tag]
	return t, ok
}

// Encode converts v into its canonical tagged-JSON form. It rejects
// object graphs containing cycles (a value whose encoding is already in
// progress higher up the same call stack).
func (r *Registry) Encode(v any) (json.RawMessage, error) {
	return r.encodeValue(reflect.ValueOf(v), map[uintptr]bool{})
}

func (r *Registry) encodeValue(v reflect.Value, inProgress map[uintptr]bool) (json.RawMessage, error) {
	if !v.IsValid() {
		return json.Marshal(nil)
	}

	// Unwrap interfaces to their dynamic value.
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return json.Marshal(nil)
		}
		v = v.Elem()
	}

	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return json.Marshal(nil)
		}
		ptr := v.Pointer()
		if inProgress[ptr] {
			return nil, fmt.Errorf("codec: cycle detected encoding %s", v.Type())
		}
		inProgress[ptr] = true
		defer delete(inProgress, ptr)
		return r.encodeValue(v.Elem(), inProgress)
	}

	t := v.Type()
	if c, ok := r.codecs[t]; ok {
		out, err := c.Encode(v.Interface())
		if err != nil {
			return nil, fmt.Errorf("codec: custom encode of %s: %w", t, err)
		}
		return json.Marshal(out)
	}

	switch v.Kind() {
	case reflect.Struct:
		return r.encodeStruct(v, inProgress)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return json.Marshal([]any{})
		}
		items := make([]json.RawMessage, v.Len())
		for i := 0; i < v.Len(); i++ {
			raw, err := r.encodeValue(v.Index(i), inProgress)
			if err != nil {
				return nil, err
			}
			items[i] = raw
		}
		return json.Marshal(items)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("codec: map keys must be strings, got %s", v.Type().Key())
		}
		obj := make(map[string]json.RawMessage, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			raw, err := r.encodeValue(iter.Value(), inProgress)
			if err != nil {
				return nil, err
			}
			obj[iter.Key().String()] = raw
		}
		return json.Marshal(obj)
	case reflect.String:
		// Covers both plain strings and named string enums, which encode
		// as their symbolic name.
		return json.Marshal(v.String())
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return json.Marshal(v.Interface())
	default:
		return nil, fmt.Errorf("codec: unsupported field kind %s", v.Kind())
	}
}

func (r *Registry) encodeStruct(v reflect.Value, inProgress map[uintptr]bool) (json.RawMessage, error) {
	t := v.Type()
	tag, ok := r.tagOf[t]
	if !ok {
		return nil, fmt.Errorf("codec: type %s was never registered", t)
	}

	fields := leafFields(t)
	obj := make(map[string]json.RawMessage, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		name := fieldName(f)
		if name == "-" {
			continue
		}
		raw, err := r.encodeValue(v.FieldByIndex(f.Index), inProgress)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		obj[name] = raw
		names = append(names, name)
	}

	sort.Strings(names)
	buf := []byte("{")
	tagRaw, _ := json.Marshal(tag)
	buf = append(buf, []byte(fmt.Sprintf("%q:%s", typeTagField, tagRaw))...)
	for _, name := range names {
		buf = append(buf, ',')
		keyRaw, _ := json.Marshal(name)
		buf = append(buf, keyRaw...)
		buf = append(buf, ':')
		buf = append(buf, obj[name]...)
	}
	buf = append(buf, '}')
	return json.RawMessage(buf), nil
}

// Decode reconstructs a value of the type registered under the raw
// object's ".type" tag. mapper, if non-nil, is consulted for every
// top-level field of the record before the default decode runs.
func (r *Registry) Decode(raw json.RawMessage, mapper FieldMapper) (any, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("codec: not a JSON object: %w", err)
	}

	tagRaw, ok := obj[typeTagField]
	if !ok {
		return nil, fmt.Errorf("codec: missing %q", typeTagField)
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return nil, fmt.Errorf("codec: %q is not a string", typeTagField)
	}

	t, ok := r.typeOf[tag]
	if !ok {
		return nil, &UnresolvedTypeError{Tag: tag}
	}

	ptr := reflect.New(t)
	elem := ptr.Elem()
	for _, f := range leafFields(t) {
		name := fieldName(f)
		if name == "-" {
			continue
		}

		fieldRaw, present := obj[name]

		if mapper != nil {
			value, handled, err := mapper(name, fieldRaw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			if handled {
				if value != nil {
					elem.FieldByIndex(f.Index).Set(reflect.ValueOf(value))
				}
				continue
			}
		}

		if !present {
			if isOptional(f) {
				continue
			}
			return nil, fmt.Errorf("codec: %s: required field %q absent from JSON", tag, name)
		}

		decoded, err := r.decodeInto(fieldRaw, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		elem.FieldByIndex(f.Index).Set(decoded)
	}

	return ptr.Interface(), nil
}

// leafFields returns every exported, non-anonymous field of t, including
// those promoted from embedded structs (so that a concrete resource
// type's embedded Base contributes "id" and "dependencies" inline rather
// than nested under a "base" object).
func leafFields(t reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r *Registry) decodeInto(raw json.RawMessage, target reflect.Type) (reflect.Value, error) {
	if string(raw) == "null" {
		return reflect.Zero(target), nil
	}

	underlyingTarget := underlying(target)
	if c, ok := r.codecs[underlyingTarget]; ok {
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return reflect.Value{}, err
		}
		decoded, err := c.Decode(generic)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("custom decode: %w", err)
		}
		dv := reflect.ValueOf(decoded)
		if target.Kind() == reflect.Ptr {
			out := reflect.New(target.Elem())
			out.Elem().Set(dv.Convert(target.Elem()))
			return out, nil
		}
		return dv.Convert(target), nil
	}

	switch target.Kind() {
	case reflect.Ptr:
		inner, err := r.decodeInto(raw, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(target.Elem())
		out.Elem().Set(inner)
		return out, nil

	case reflect.Struct:
		decoded, err := r.Decode(raw, nil)
		if err != nil {
			var unresolved *UnresolvedTypeError
			if errUnresolved(err, &unresolved) {
				return reflect.Value{}, err
			}
			return reflect.Value{}, err
		}
		return reflect.ValueOf(decoded).Elem(), nil

	case reflect.Slice:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeSlice(target, len(items), len(items))
		for i, item := range items {
			v, err := r.decodeInto(item, target.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out.Index(i).Set(v)
		}
		return out, nil

	case reflect.Map:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeMapWithSize(target, len(obj))
		for k, item := range obj {
			v, err := r.decodeInto(item, target.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k), v)
		}
		return out, nil

	case reflect.Interface:
		// Interface-typed fields (e.g. a Resource reference) must be
		// resolved by a FieldMapper; without one, there is no concrete
		// type to allocate.
		return reflect.Value{}, fmt.Errorf("codec: cannot decode interface field %s without a mapper", target)

	case reflect.String:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return reflect.Value{}, fmt.Errorf("expected string, got %s: %w", raw, err)
		}
		return reflect.ValueOf(s).Convert(target), nil

	case reflect.Bool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b).Convert(target), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n).Convert(target), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(n).Convert(target), nil

	case reflect.Float32, reflect.Float64:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(target), nil

	default:
		return reflect.Value{}, fmt.Errorf("codec: unsupported field kind %s", target.Kind())
	}
}

// UnresolvedTypeError is returned when a ".type" tag has no registered
// concrete type. Callers decoding a ResourceState use this to fall back
// to a bare base state, per the serializer's forward-compatibility rule.
type UnresolvedTypeError struct {
	Tag string
}

func (e *UnresolvedTypeError) Error() string {
	return fmt.Sprintf("codec: unresolved type tag %q", e.Tag)
}

func errUnresolved(err error, target **UnresolvedTypeError) bool {
	u, ok := err.(*UnresolvedTypeError)
	if ok {
		*target = u
	}
	return ok
}

func underlying(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func fieldName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("drift"); ok {
		if tag == "-" {
			return "-"
		}
		return splitComma(tag)[0]
	}
	return lowerFirst(f.Name)
}

func isOptional(f reflect.StructField) bool {
	tag, ok := f.Tag.Lookup("drift")
	if !ok {
		return false
	}
	for _, part := range splitComma(tag) {
		if part == "omitempty" {
			return true
		}
	}
	return f.Type.Kind() == reflect.Ptr || f.Type.Kind() == reflect.Slice || f.Type.Kind() == reflect.Map
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
