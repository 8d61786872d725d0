// Package bytecode defines Tuna's closed opcode enumeration (spec.md
// §3, §4.2): each Op is a tagged variant with inline operands,
// serializable as {"kind": ..., "data": ...} the way the teacher's own
// bytecode.OpCode/Chunk pair is the wire format for its VM, except Tuna
// opcodes carry their operands inline rather than through a side
// constants pool, per spec.md §6.
package bytecode

import (
	"encoding/json"
	"fmt"

	"tuna/internal/schema"
	"tuna/internal/value"
)

// Kind is the opcode tag. The full enumeration mirrors spec.md §4.2.
type Kind string

const (
	Instantiate     Kind = "instantiate"
	Noop            Kind = "noop"
	PopStack        Kind = "popStack"
	MoveStackTopToHeap Kind = "moveStackTopToHeap"

	CopyFromHeap  Kind = "copyFromHeap"
	OverwriteArg  Kind = "overwriteArg"
	AssertHeapLen Kind = "assertHeapLen"
	TruncateHeap  Kind = "truncateHeap"

	TryGetField    Kind = "tryGetField"
	FieldAccess    Kind = "fieldAccess"
	FieldExists    Kind = "fieldExists"
	GetField       Kind = "getField"
	SetField       Kind = "setField"
	SetNestedField Kind = "setNestedField"
	AssignPreviousToField Kind = "assignPreviousToField"

	GetSavedField    Kind = "getSavedField"
	SetSavedField    Kind = "setSavedField"
	DeleteSavedField Kind = "deleteSavedField"
	PushSavedField   Kind = "pushSavedField"
	MoveStackToHeapArray Kind = "moveStackToHeapArray"

	ArrayPush    Kind = "arrayPush"
	PArrayPush   Kind = "pArrayPush"
	ArrayLen     Kind = "arrayLen"
	NdArrayLen   Kind = "ndArrayLen"
	PopArray     Kind = "popArray"
	FlattenArray Kind = "flattenArray"

	GetKeys              Kind = "getKeys"
	RepackageCollection  Kind = "repackageCollection"
	ExtractFields        Kind = "extractFields"

	OffsetOpCursor         Kind = "offsetOpCursor"
	ConditionallySkipXops  Kind = "conditonallySkipXops"
	ReturnStackTop         Kind = "returnStackTop"
	ReturnVoid             Kind = "returnVoid"

	NegatePrev Kind = "negatePrev"
	ToBool     Kind = "toBool"
	Equal      Kind = "equal"
	LessOp     Kind = "less"
	LessEq     Kind = "lesseq"
	BoolAnd    Kind = "boolAnd"
	BoolOr     Kind = "boolOr"

	PlusOp  Kind = "plus"
	NMinus  Kind = "nMinus"
	NDivide Kind = "nDivide"
	NMult   Kind = "nMult"

	StringConcat Kind = "stringConcat"

	StackTopMatches             Kind = "stackTopMatches"
	EnforceSchemaOnHeap         Kind = "enforceSchemaOnHeap"
	EnforceSchemaInstanceOnHeap Kind = "enforceSchemaInstanceOnHeap"
	IsLastNone                  Kind = "isLastNone"
	GetType                     Kind = "getType"

	Invoke Kind = "invoke"

	SignRole Kind = "signRole"

	RaiseError Kind = "raiseError"
)

// Op is a single instruction: a Kind tag plus whichever inline operands
// that kind uses. Unused fields are zero. This is the Go equivalent of
// the teacher's `kind` + payload discriminated union, used directly as
// a []Op program rather than raw bytes + a constants pool.
type Op struct {
	Kind Kind

	// instantiate
	Value value.Value

	// truncateHeap, assertHeapLen: local counts
	Count uint64

	// tryGetField, fieldAccess, assignPreviousToField: field name
	Field string

	// getField/setField/getSavedField/setSavedField/deleteSavedField/
	// pushSavedField: field depth
	Depth uint64
	// copyFromHeap/overwriteArg/
	// getSavedField/setSavedField/deleteSavedField/pushSavedField/
	// moveStackToHeapArray/enforceSchemaOnHeap/enforceSchemaInstanceOnHeap:
	// heap slot index
	Index uint64

	// setNestedField: literal string path
	Path []string
	// extractFields: list of non-empty paths
	Selectors [][]string

	// offsetOpCursor
	Offset uint64
	Fwd    bool

	// conditonallySkipXops
	Skip uint64

	// stringConcat
	NStrings uint64
	Joiner   string

	// pArrayPush
	StackOffset uint64

	// stackTopMatches, enforceSchemaOnHeap
	SchemaName string
	// enforceSchemaInstanceOnHeap: inline schema descriptor
	Schema *schema.Schema

	// invoke
	Name string
	Argc uint64

	// raiseError
	Message string
}

// wireOp is the {"kind","data"} JSON shape spec.md §6 requires.
type wireOp struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// operandData mirrors Op's fields one-for-one except Value, which needs
// the §6 untagged-by-shape value codec rather than Go's default
// interface{} marshaling (which cannot tell int64 from float64 or
// reconstruct *value.Array/*value.Object).
type operandData struct {
	Value json.RawMessage `json:"value,omitempty"`

	Count uint64 `json:"count,omitempty"`
	Field string `json:"field,omitempty"`

	Depth uint64 `json:"depth,omitempty"`
	Index uint64 `json:"index,omitempty"`

	Path      []string   `json:"path,omitempty"`
	Selectors [][]string `json:"selectors,omitempty"`

	Offset uint64 `json:"offset,omitempty"`
	Fwd    bool   `json:"fwd,omitempty"`

	Skip uint64 `json:"skip,omitempty"`

	NStrings uint64 `json:"nStrings,omitempty"`
	Joiner   string `json:"joiner,omitempty"`

	StackOffset uint64 `json:"stackOffset,omitempty"`

	SchemaName string         `json:"schemaName,omitempty"`
	Schema     *schema.Schema `json:"schema,omitempty"`

	Name string `json:"name,omitempty"`
	Argc uint64 `json:"argc,omitempty"`

	Message string `json:"message,omitempty"`
}

func (o Op) MarshalJSON() ([]byte, error) {
	d := operandData{
		Count: o.Count, Field: o.Field, Depth: o.Depth, Index: o.Index,
		Path: o.Path, Selectors: o.Selectors, Offset: o.Offset, Fwd: o.Fwd,
		Skip: o.Skip, NStrings: o.NStrings, Joiner: o.Joiner,
		StackOffset: o.StackOffset, SchemaName: o.SchemaName, Schema: o.Schema,
		Name: o.Name, Argc: o.Argc, Message: o.Message,
	}
	if o.Kind == Instantiate {
		enc, err := value.Encode(o.Value)
		if err != nil {
			return nil, fmt.Errorf("bytecode: encoding instantiate operand: %w", err)
		}
		d.Value = enc
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireOp{Kind: o.Kind, Data: payload})
}

func (o *Op) UnmarshalJSON(b []byte) error {
	var w wireOp
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*o = Op{Kind: w.Kind}
	if len(w.Data) == 0 {
		return nil
	}
	var d operandData
	if err := json.Unmarshal(w.Data, &d); err != nil {
		return fmt.Errorf("bytecode: decoding %s operands: %w", w.Kind, err)
	}
	o.Count, o.Field, o.Depth, o.Index = d.Count, d.Field, d.Depth, d.Index
	o.Path, o.Selectors, o.Offset, o.Fwd = d.Path, d.Selectors, d.Offset, d.Fwd
	o.Skip, o.NStrings, o.Joiner = d.Skip, d.NStrings, d.Joiner
	o.StackOffset, o.SchemaName, o.Schema = d.StackOffset, d.SchemaName, d.Schema
	o.Name, o.Argc, o.Message = d.Name, d.Argc, d.Message
	if w.Kind == Instantiate && len(d.Value) > 0 {
		v, err := value.Decode(d.Value)
		if err != nil {
			return fmt.Errorf("bytecode: decoding instantiate operand: %w", err)
		}
		o.Value = v
	}
	return nil
}
