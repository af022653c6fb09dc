// Package safejson renders arbitrary Go values as JSON text without failing.
//
// It differs from encoding/json in four ways:
//   - *big.Int and big.Int render as decimal strings;
//   - func, chan, complex and Undefined values are left out of objects (and
//     render as null inside arrays);
//   - a map, slice or pointer reached again while it is still being traversed
//     renders as the string "[Circular]";
//   - NaN and infinities render as null.
package safejson

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"mqdiag/pkg/jsoncodec"
)

const CircularMarker = "[Circular]"

type undefined struct{}

// Undefined marks a value that must not appear in the output at all.
var Undefined = undefined{}

var (
	undefinedType     = reflect.TypeOf(undefined{})
	bigIntType        = reflect.TypeOf(big.Int{})
	jsonNumberType    = reflect.TypeOf(json.Number(""))
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Serialize returns the JSON text of v.
func Serialize(v interface{}) string {
	return string(Marshal(v))
}

// Marshal returns the JSON encoding of v. Traversal state is local to the call.
func Marshal(v interface{}) []byte {
	e := &encoder{active: make(map[visit]struct{})}
	e.encode(reflect.ValueOf(v))
	return e.buf.Bytes()
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type encoder struct {
	buf    bytes.Buffer
	active map[visit]struct{}
}

func (e *encoder) encode(v reflect.Value) {
	if !v.IsValid() {
		e.buf.WriteString("null")
		return
	}

	if e.encodeSpecial(v) {
		return
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			e.buf.WriteString("null")
			return
		}
		e.encode(v.Elem())
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		e.encodeFloat(v.Float(), v.Type().Bits())
	case reflect.String:
		e.encodeString(v.String())
	case reflect.Pointer:
		if v.IsNil() {
			e.buf.WriteString("null")
			return
		}
		e.enter(visit{ptr: v.Pointer(), typ: v.Type()}, func() { e.encode(v.Elem()) })
	case reflect.Map:
		if v.IsNil() {
			e.buf.WriteString("null")
			return
		}
		e.enter(visit{ptr: v.Pointer(), typ: v.Type()}, func() { e.encodeMap(v) })
	case reflect.Slice:
		if v.IsNil() {
			e.buf.WriteString("null")
			return
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			e.encodeString(base64.StdEncoding.EncodeToString(v.Bytes()))
			return
		}
		e.enter(visit{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}, func() { e.encodeArray(v) })
	case reflect.Array:
		e.encodeArray(v)
	case reflect.Struct:
		e.encodeStruct(v)
	default:
		e.buf.WriteString("null")
	}
}

// enter runs fn unless the reference is already on the traversal path.
func (e *encoder) enter(key visit, fn func()) {
	if _, ok := e.active[key]; ok {
		e.encodeString(CircularMarker)
		return
	}
	e.active[key] = struct{}{}
	fn()
	delete(e.active, key)
}

func (e *encoder) encodeSpecial(v reflect.Value) bool {
	if !v.CanInterface() {
		return false
	}
	t := v.Type()

	switch {
	case t == bigIntType:
		n := v.Interface().(big.Int)
		e.encodeString(n.String())
		return true
	case t.Kind() == reflect.Pointer && t.Elem() == bigIntType:
		if v.IsNil() {
			e.buf.WriteString("null")
		} else {
			e.encodeString(v.Interface().(*big.Int).String())
		}
		return true
	case t == jsonNumberType:
		num := v.String()
		if num != "" && jsoncodec.Valid([]byte(num)) {
			e.buf.WriteString(num)
		} else {
			e.encodeString(num)
		}
		return true
	}

	if t.Kind() == reflect.Pointer && v.IsNil() {
		return false
	}

	if t.Implements(marshalerType) {
		raw, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil || !jsoncodec.Valid(raw) {
			e.buf.WriteString("null")
			return true
		}
		e.buf.Write(raw)
		return true
	}
	if t.Implements(textMarshalerType) {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			e.buf.WriteString("null")
			return true
		}
		e.encodeString(string(text))
		return true
	}
	return false
}

func (e *encoder) encodeFloat(f float64, bits int) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		e.buf.WriteString("null")
		return
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	s := strconv.FormatFloat(f, format, -1, bits)
	if format == 'e' {
		// 1e-07 -> 1e-7
		if n := len(s); n >= 4 && s[n-4] == 'e' && s[n-3] == '-' && s[n-2] == '0' {
			s = s[:n-2] + s[n-1:]
		}
	}
	e.buf.WriteString(s)
}

func (e *encoder) encodeString(s string) {
	raw, err := jsoncodec.Marshal(s)
	if err != nil {
		e.buf.WriteString(strconv.Quote(s))
		return
	}
	e.buf.Write(raw)
}

func (e *encoder) encodeArray(v reflect.Value) {
	e.buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		elem := v.Index(i)
		if omitted(elem) {
			e.buf.WriteString("null")
			continue
		}
		e.encode(elem)
	}
	e.buf.WriteByte(']')
}

func (e *encoder) encodeMap(v reflect.Value) {
	type entry struct {
		key   string
		value reflect.Value
	}

	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		if omitted(iter.Value()) {
			continue
		}
		entries = append(entries, entry{key: mapKey(iter.Key()), value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	e.buf.WriteByte('{')
	for i, ent := range entries {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.encodeString(ent.key)
		e.buf.WriteByte(':')
		e.encode(ent.value)
	}
	e.buf.WriteByte('}')
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if text, err := tm.MarshalText(); err == nil {
				return string(text)
			}
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	}
	return fmt.Sprint(k.Interface())
}

func (e *encoder) encodeStruct(v reflect.Value) {
	e.buf.WriteByte('{')
	first := true
	e.writeFields(v, &first)
	e.buf.WriteByte('}')
}

func (e *encoder) writeFields(v reflect.Value, first *bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fv := v.Field(i)

		name, opts, skip := fieldName(sf)
		if skip {
			continue
		}

		if sf.Anonymous && name == "" {
			if fv.Kind() == reflect.Struct {
				e.writeFields(fv, first)
				continue
			}
			if fv.Kind() == reflect.Pointer && fv.Type().Elem().Kind() == reflect.Struct {
				if fv.IsNil() {
					continue
				}
				// Promoted fields of a struct already on the path are written by
				// the enclosing traversal, so a back-reference adds nothing.
				key := visit{ptr: fv.Pointer(), typ: fv.Type()}
				if _, ok := e.active[key]; ok {
					continue
				}
				e.active[key] = struct{}{}
				e.writeFields(fv.Elem(), first)
				delete(e.active, key)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if omitted(fv) || (strings.Contains(opts, "omitempty") && isEmpty(fv)) {
			continue
		}

		if !*first {
			e.buf.WriteByte(',')
		}
		*first = false
		e.encodeString(name)
		e.buf.WriteByte(':')
		e.encode(fv)
	}
}

func fieldName(sf reflect.StructField) (name, opts string, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", "", true
	}
	name, opts, _ = strings.Cut(tag, ",")
	return name, opts, false
}

// omitted reports whether v has no JSON representation and should be dropped.
func omitted(v reflect.Value) bool {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() {
		return false
	}
	if v.Type() == undefinedType {
		return true
	}
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
