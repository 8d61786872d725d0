// Package value implements the Tuna runtime value universe: a tagged
// union with variants int, double, bool, string, array, object, none,
// and the arithmetic, comparison, hashing and indexing primitives that
// the VM opcodes build on (spec.md §3, §4.1).
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"tuna/internal/tunaerr"
)

// Value is the runtime datum. nil represents none. Scalars use the
// native Go int64/float64/bool/string; composites use the pointer types
// below so mutation through Get/Set is visible to the caller, mirroring
// *Array/*Map in the teacher's vm package.
type Value interface{}

// Array is the ordered-sequence variant.
type Array struct {
	Elements []Value
}

// Object is the string-keyed mapping variant. Insertion order is not
// significant (spec.md §3), so a plain map suffices.
type Object struct {
	Fields map[string]Value
}

func NewObject() *Object {
	return &Object{Fields: make(map[string]Value)}
}

func NewArray(elems ...Value) *Array {
	return &Array{Elements: elems}
}

// Clone deep-copies a value so mutation through Set never aliases two
// logically distinct values (values are strictly tree-shaped per §3).
func Clone(v Value) Value {
	switch v := v.(type) {
	case *Array:
		elems := make([]Value, len(v.Elements))
		for i, e := range v.Elements {
			elems[i] = Clone(e)
		}
		return &Array{Elements: elems}
	case *Object:
		fields := make(map[string]Value, len(v.Fields))
		for k, f := range v.Fields {
			fields[k] = Clone(f)
		}
		return &Object{Fields: fields}
	default:
		return v
	}
}

// TypeTag names the §4.2 getType result string for a value.
func TypeTag(v Value) string {
	switch v.(type) {
	case nil:
		return "none"
	case int64:
		return "int"
	case bool:
		return "bool"
	case float64:
		return "doub"
	case *Array:
		return "arr"
	case string:
		return "str"
	case *Object:
		return "obj"
	default:
		return "none"
	}
}

func IsNone(v Value) bool {
	return v == nil
}

// ToString succeeds on string/int/double, fails otherwise (§4.1).
func ToString(v Value) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", tunaerr.Type("to_string", "value of type %s is not stringifiable", TypeTag(v))
	}
}

func ToBool(v Value) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, tunaerr.Type("to_bool", "value of type %s is not a bool", TypeTag(v))
	}
	return b, nil
}

func ToArray(v Value) (*Array, error) {
	a, ok := v.(*Array)
	if !ok {
		return nil, tunaerr.Type("to_array", "value of type %s is not an array", TypeTag(v))
	}
	return a, nil
}

func ToObject(v Value) (*Object, error) {
	o, ok := v.(*Object)
	if !ok {
		return nil, tunaerr.Type("to_object", "value of type %s is not an object", TypeTag(v))
	}
	return o, nil
}

// Get indexes into an object (string key) or array (int/double index,
// truncated), returning nil (not an error) if absent. Indexing a scalar
// or indexing with the wrong key type is a TypeError.
func Get(v Value, index Value) (Value, bool, error) {
	switch v := v.(type) {
	case *Object:
		key, ok := index.(string)
		if !ok {
			return nil, false, tunaerr.Type("get", "object index must be a string")
		}
		val, ok := v.Fields[key]
		return val, ok, nil
	case *Array:
		i, err := arrayIndex(index)
		if err != nil {
			return nil, false, err
		}
		if i < 0 || i >= len(v.Elements) {
			return nil, false, nil
		}
		return v.Elements[i], true, nil
	default:
		return nil, false, tunaerr.Type("get", "cannot index into value of type %s", TypeTag(v))
	}
}

func arrayIndex(index Value) (int, error) {
	switch i := index.(type) {
	case int64:
		return int(i), nil
	case float64:
		return int(i), nil
	default:
		return 0, tunaerr.Type("get", "array index must be numeric")
	}
}

// Set walks all but the last path step via Get, then sets or inserts the
// last step on an object. A non-object final target is an error (§4.1).
func Set(root Value, path []Value, newVal Value) error {
	if len(path) == 0 {
		return tunaerr.Type("set", "empty path")
	}
	cur := root
	for _, step := range path[:len(path)-1] {
		next, ok, err := Get(cur, step)
		if err != nil {
			return err
		}
		if !ok {
			return tunaerr.Resolution("set", "intermediate path step not present")
		}
		cur = next
	}
	last := path[len(path)-1]
	obj, ok := cur.(*Object)
	if !ok {
		return tunaerr.Type("set", "cannot set a field on value of type %s", TypeTag(cur))
	}
	key, ok := last.(string)
	if !ok {
		return tunaerr.Type("set", "final path step must be a string key")
	}
	obj.Fields[key] = newVal
	return nil
}

// Delete walks all but the last path step via Get, then removes the last
// step's key from the resulting object. Mirrors Set's traversal.
func Delete(root Value, path []Value) error {
	if len(path) == 0 {
		return tunaerr.Type("delete", "empty path")
	}
	cur := root
	for _, step := range path[:len(path)-1] {
		next, ok, err := Get(cur, step)
		if err != nil {
			return err
		}
		if !ok {
			return tunaerr.Resolution("delete", "intermediate path step not present")
		}
		cur = next
	}
	last := path[len(path)-1]
	obj, ok := cur.(*Object)
	if !ok {
		return tunaerr.Type("delete", "cannot delete a field on value of type %s", TypeTag(cur))
	}
	key, ok := last.(string)
	if !ok {
		return tunaerr.Type("delete", "final path step must be a string key")
	}
	delete(obj.Fields, key)
	return nil
}

// TryPush appends to an array; anything else fails.
func TryPush(v Value, elem Value) error {
	arr, ok := v.(*Array)
	if !ok {
		return tunaerr.Type("arrayPush", "cannot push onto value of type %s", TypeTag(v))
	}
	arr.Elements = append(arr.Elements, elem)
	return nil
}

// Equals is true only for matching-scalar variants with equal contents,
// or both none. Composite values are never equal under this operation.
func Equals(a, b Value) bool {
	if a == nil && b == nil {
		return true
	}
	switch a := a.(type) {
	case int64:
		bi, ok := b.(int64)
		return ok && a == bi
	case float64:
		bf, ok := b.(float64)
		return ok && a == bf
	case bool:
		bb, ok := b.(bool)
		return ok && a == bb
	case string:
		bs, ok := b.(string)
		return ok && a == bs
	default:
		return false
	}
}

type Ordering int

const (
	Less Ordering = iota
	Equal
	Greater
)

// Compare is defined only when both operands are numeric.
func Compare(a, b Value) (Ordering, error) {
	da, err := toDouble(a)
	if err != nil {
		return Equal, tunaerr.Type("compare", "can only compare numbers")
	}
	db, err := toDouble(b)
	if err != nil {
		return Equal, tunaerr.Type("compare", "can only compare numbers")
	}
	switch {
	case da < db:
		return Less, nil
	case da > db:
		return Greater, nil
	default:
		return Equal, nil
	}
}

func toDouble(v Value) (float64, error) {
	switch v := v.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, tunaerr.Type("compare", "not a number")
	}
}

func isNumeric(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

// Plus implements §4.1's widening/concatenation table.
func Plus(a, b Value) (Value, error) {
	switch a := a.(type) {
	case int64:
		switch b := b.(type) {
		case int64:
			return a + b, nil
		case float64:
			return float64(a) + b, nil
		case string:
			return strconv.FormatInt(a, 10) + b, nil
		}
	case float64:
		switch b := b.(type) {
		case int64:
			return a + float64(b), nil
		case float64:
			return a + b, nil
		case string:
			return strconv.FormatFloat(a, 'g', -1, 64) + b, nil
		}
	case string:
		switch b := b.(type) {
		case string:
			return a + b, nil
		case int64:
			return a + strconv.FormatInt(b, 10), nil
		case float64:
			return a + strconv.FormatFloat(b, 'g', -1, 64), nil
		}
	}
	return nil, tunaerr.Type("plus", "cannot add %s and %s", TypeTag(a), TypeTag(b))
}

// Minus, Multiply, Divide are numbers-only; integer division truncates,
// division by zero fails for ints and produces IEEE infinities/NaN for
// doubles (§4.1).
func Minus(a, b Value) (Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return nil, tunaerr.Type("nMinus", "cannot subtract %s and %s", TypeTag(a), TypeTag(b))
	}
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			return ai - bi, nil
		}
		bf, _ := b.(float64)
		return float64(ai) - bf, nil
	}
	af, _ := a.(float64)
	if bi, ok := b.(int64); ok {
		return af - float64(bi), nil
	}
	bf, _ := b.(float64)
	return af - bf, nil
}

func Multiply(a, b Value) (Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return nil, tunaerr.Type("nMult", "cannot multiply %s and %s", TypeTag(a), TypeTag(b))
	}
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			return ai * bi, nil
		}
		bf, _ := b.(float64)
		return float64(ai) * bf, nil
	}
	af, _ := a.(float64)
	if bi, ok := b.(int64); ok {
		return af * float64(bi), nil
	}
	bf, _ := b.(float64)
	return af * bf, nil
}

func Divide(a, b Value) (Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return nil, tunaerr.Type("nDivide", "cannot divide %s and %s", TypeTag(a), TypeTag(b))
	}
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			if bi == 0 {
				return nil, tunaerr.Type("nDivide", "integer division by zero")
			}
			return ai / bi, nil
		}
		bf, _ := b.(float64)
		return float64(ai) / bf, nil
	}
	af, _ := a.(float64)
	if bi, ok := b.(int64); ok {
		return af / float64(bi), nil
	}
	bf, _ := b.(float64)
	return af / bf, nil
}

// Hash is the deterministic structural hash of §3: scalars write a
// type-tag byte then their bit pattern; doubles use IEEE bit-encoding;
// objects sort keys lexicographically and feed key-bytes||hash(value);
// arrays concatenate element hashes in order; none contributes nothing.
//
// fnv-1a is used as the underlying mixing function: it is deterministic
// across runs (unlike hash/maphash, which is seeded), needs no
// third-party library, and the convention is frozen here exactly once —
// signing depends on it never changing (spec.md §9).
func Hash(v Value) uint64 {
	h := newFnv()
	writeHash(h, v)
	return h.sum()
}

type fnvState struct{ v uint64 }

func newFnv() *fnvState { return &fnvState{v: 14695981039346656037} }

func (h *fnvState) writeByte(b byte) {
	h.v ^= uint64(b)
	h.v *= 1099511628211
}

func (h *fnvState) writeBytes(bs []byte) {
	for _, b := range bs {
		h.writeByte(b)
	}
}

func (h *fnvState) sum() uint64 { return h.v }

const (
	tagNone byte = iota
	tagInt
	tagDouble
	tagBool
	tagString
	tagArray
	tagObject
)

func writeHash(h *fnvState, v Value) {
	switch v := v.(type) {
	case nil:
		// none contributes nothing
	case int64:
		h.writeByte(tagInt)
		var buf [8]byte
		putUint64(buf[:], uint64(v))
		h.writeBytes(buf[:])
	case float64:
		h.writeByte(tagDouble)
		var buf [8]byte
		putUint64(buf[:], math.Float64bits(v))
		h.writeBytes(buf[:])
	case bool:
		h.writeByte(tagBool)
		if v {
			h.writeByte(1)
		} else {
			h.writeByte(0)
		}
	case string:
		h.writeByte(tagString)
		h.writeBytes([]byte(v))
	case *Array:
		h.writeByte(tagArray)
		for _, e := range v.Elements {
			var buf [8]byte
			putUint64(buf[:], Hash(e))
			h.writeBytes(buf[:])
		}
	case *Object:
		h.writeByte(tagObject)
		keys := make([]string, 0, len(v.Fields))
		for k := range v.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.writeBytes([]byte(k))
			var buf [8]byte
			putUint64(buf[:], Hash(v.Fields[k]))
			h.writeBytes(buf[:])
		}
	default:
		h.writeByte(tagNone)
	}
}

func putUint64(buf []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

// RoleMessage computes the 8-byte big-endian message a role signature is
// taken over: hash(name-bytes || hash(state)) (spec.md §3). Centralized
// here so schema.Adheres and the VM's signRole opcode compute byte-for-
// byte the same message — any divergence would silently invalidate every
// previously signed role (spec.md §9).
func RoleMessage(name string, state Value) []byte {
	stateHash := Hash(state)
	var stateHashBytes [8]byte
	putUint64(stateHashBytes[:], stateHash)

	h := newFnv()
	h.writeBytes([]byte(name))
	h.writeBytes(stateHashBytes[:])

	var msg [8]byte
	putUint64(msg[:], h.sum())
	return msg[:]
}

// Encode serializes a Value as the untagged JSON representation of §6:
// dispatch happens purely by JSON shape at decode time, so encoding is
// just "write the natural JSON for this Go type".
func Encode(v Value) (json.RawMessage, error) {
	switch v := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case int64:
		return json.RawMessage(strconv.FormatInt(v, 10)), nil
	case float64:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		// Force a decimal point so a whole-valued double round-trips as
		// double rather than int (see Decode).
		if !bytes.ContainsAny(b, ".eE") {
			b = append(b, '.', '0')
		}
		return b, nil
	case bool:
		return json.Marshal(v)
	case string:
		return json.Marshal(v)
	case *Array:
		parts := make([]json.RawMessage, len(v.Elements))
		for i, e := range v.Elements {
			enc, err := Encode(e)
			if err != nil {
				return nil, err
			}
			parts[i] = enc
		}
		return json.Marshal(parts)
	case *Object:
		m := make(map[string]json.RawMessage, len(v.Fields))
		for k, fv := range v.Fields {
			enc, err := Encode(fv)
			if err != nil {
				return nil, err
			}
			m[k] = enc
		}
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("value: cannot encode %T", v)
	}
}

// Decode parses the §6 untagged JSON representation, dispatching by
// shape. A JSON number with a fractional part or exponent decodes as
// double; a bare integer decodes as int; everything else follows its
// shape directly.
func Decode(raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var anyVal interface{}
	if err := dec.Decode(&anyVal); err != nil {
		return nil, err
	}
	return fromAny(anyVal)
}

func fromAny(anyVal interface{}) (Value, error) {
	switch v := anyVal.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		return v, nil
	case json.Number:
		s := v.String()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("value: invalid number %q", s)
		}
		return f, nil
	case []interface{}:
		elems := make([]Value, len(v))
		for i, e := range v {
			cv, err := fromAny(e)
			if err != nil {
				return nil, err
			}
			elems[i] = cv
		}
		return &Array{Elements: elems}, nil
	case map[string]interface{}:
		fields := make(map[string]Value, len(v))
		for k, fv := range v {
			cv, err := fromAny(fv)
			if err != nil {
				return nil, err
			}
			fields[k] = cv
		}
		return &Object{Fields: fields}, nil
	default:
		return nil, fmt.Errorf("value: cannot decode %T", v)
	}
}

// DebugString renders a value for CLI/log output; not part of the
// core value model, used only at the edges.
func DebugString(v Value) string {
	switch v := v.(type) {
	case nil:
		return "none"
	case *Array:
		s := "["
		for i, e := range v.Elements {
			if i > 0 {
				s += ", "
			}
			s += DebugString(e)
		}
		return s + "]"
	case *Object:
		s := "{"
		first := true
		keys := make([]string, 0, len(v.Fields))
		for k := range v.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !first {
				s += ", "
			}
			first = false
			s += fmt.Sprintf("%s: %s", k, DebugString(v.Fields[k]))
		}
		return s + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}
