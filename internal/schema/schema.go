// Package schema implements the recursive structural type descriptors
// of spec.md §3 and the `adheres` conformance judgement of §4.3,
// including role-value signature verification.
package schema

import (
	"crypto/ed25519"

	"tuna/internal/value"
)

// Kind discriminates a Schema's variant.
type Kind string

const (
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindMap    Kind = "map"
	KindUnion  Kind = "union"
	KindAlias  Kind = "alias"
	KindRole   Kind = "role"
	KindInt    Kind = "int"
	KindDouble Kind = "double"
	KindBool   Kind = "bool"
	KindString Kind = "string"
	KindNone   Kind = "none"
	KindAny    Kind = "any"
)

// Schema is a recursive descriptor. Only the fields relevant to its Kind
// are populated; this mirrors the teacher's tagged-union-via-discriminant
// convention (kind + payload, never inheritance).
type Schema struct {
	Kind Kind

	Object map[string]*Schema // KindObject
	Elem   *Schema            // KindArray, KindMap
	Union  []*Schema          // KindUnion
	Alias  string             // KindAlias
	Role   string             // KindRole: reserved role name
	State  *Schema            // KindRole: state schema
}

// Registry resolves alias names to schemas (spec.md §3).
type Registry map[string]*Schema

func (s *Schema) IsNone() bool {
	return s != nil && s.Kind == KindNone
}

// IsOptional is true iff s is a union containing none.
func (s *Schema) IsOptional() bool {
	if s == nil || s.Kind != KindUnion {
		return false
	}
	for _, o := range s.Union {
		if o.IsNone() {
			return true
		}
	}
	return false
}

// Adheres is the §4.3 conformance algorithm. pubKey is the 32-byte
// Ed25519 public key used to verify role signatures.
func (s *Schema) Adheres(v value.Value, reg Registry, pubKey ed25519.PublicKey) bool {
	if s == nil {
		return false
	}
	switch s.Kind {
	case KindUnion:
		for _, o := range s.Union {
			if o.Adheres(v, reg, pubKey) {
				return true
			}
		}
		return false
	case KindAlias:
		target, ok := reg[s.Alias]
		if !ok {
			return false
		}
		return target.Adheres(v, reg, pubKey)
	case KindMap:
		obj, ok := v.(*value.Object)
		if !ok {
			return false
		}
		for _, fv := range obj.Fields {
			if !s.Elem.Adheres(fv, reg, pubKey) {
				return false
			}
		}
		return true
	case KindObject:
		return adheresObject(s, v, reg, pubKey)
	case KindArray:
		arr, ok := v.(*value.Array)
		if !ok {
			return false
		}
		for _, ev := range arr.Elements {
			if !s.Elem.Adheres(ev, reg, pubKey) {
				return false
			}
		}
		return true
	case KindNone:
		return value.IsNone(v)
	case KindRole:
		return adheresRole(s, v, reg, pubKey)
	case KindAny:
		return true
	case KindDouble:
		switch v.(type) {
		case float64, int64:
			return true
		default:
			return false
		}
	case KindInt:
		_, ok := v.(int64)
		return ok
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// adheresObject implements the §3 structural rule: every schema key
// either maps to a conforming value or is optional and absent, and no
// unexpected keys beyond optional slack.
func adheresObject(s *Schema, v value.Value, reg Registry, pubKey ed25519.PublicKey) bool {
	obj, ok := v.(*value.Object)
	if !ok {
		return false
	}
	optionalsMissing := 0
	for k, fieldSchema := range s.Object {
		fv, present := obj.Fields[k]
		if !present {
			if fieldSchema.IsOptional() {
				optionalsMissing++
				continue
			}
			return false
		}
		if !fieldSchema.Adheres(fv, reg, pubKey) {
			return false
		}
	}
	return len(s.Object)-optionalsMissing >= len(obj.Fields)
}

// adheresRole performs the reserved-key extraction, 64-byte signature
// validation, hash computation, Ed25519 verification, and recursion into
// the state schema (spec.md §3, §4.3).
func adheresRole(s *Schema, v value.Value, reg Registry, pubKey ed25519.PublicKey) bool {
	obj, ok := v.(*value.Object)
	if !ok {
		return false
	}
	nameVal, ok := obj.Fields["_name"]
	if !ok {
		return false
	}
	name, ok := nameVal.(string)
	if !ok || name != s.Role {
		return false
	}
	sigVal, ok := obj.Fields["_sig"]
	if !ok {
		return false
	}
	sigArr, ok := sigVal.(*value.Array)
	if !ok || len(sigArr.Elements) != 64 {
		return false
	}
	sig := make([]byte, 64)
	for i, e := range sigArr.Elements {
		iv, ok := e.(int64)
		if !ok || iv < 0 || iv > 255 {
			return false
		}
		sig[i] = byte(iv)
	}

	state, hasState := obj.Fields["_state"]
	if !hasState {
		state = value.NewObject()
	}

	msg := value.RoleMessage(name, state)
	if !ed25519.Verify(pubKey, msg, sig) {
		return false
	}
	return s.State.Adheres(state, reg, pubKey)
}
