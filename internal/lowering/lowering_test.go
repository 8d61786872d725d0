package lowering

import (
	"testing"

	"tuna/internal/bytecode"
	"tuna/internal/ir"
	"tuna/internal/scope"
)

// checkJumpsSelfConsistent verifies spec.md §8's lowering golden-test
// requirement: every offsetOpCursor/conditonallySkipXops lands on another
// opcode in the same vector, or one past the end.
func checkJumpsSelfConsistent(t *testing.T, ops []bytecode.Op) {
	t.Helper()
	for i, op := range ops {
		var target int
		switch op.Kind {
		case bytecode.OffsetOpCursor:
			if op.Fwd {
				target = i + 1 + int(op.Offset)
			} else {
				target = i + 1 - int(op.Offset) - 1
			}
		case bytecode.ConditionallySkipXops:
			target = i + 1 + int(op.Skip)
		default:
			continue
		}
		if target < 0 || target > len(ops) {
			t.Fatalf("op %d (%s) jumps to %d, out of bounds [0, %d]", i, op.Kind, target, len(ops))
		}
	}
}

func TestExprScalarLiteral(t *testing.T) {
	ops := Expr(scope.New(), &ir.AnyValue{Kind: ir.VInt, Int: 7})
	if len(ops) != 1 || ops[0].Kind != bytecode.Instantiate || ops[0].Value != int64(7) {
		t.Fatalf("scalar literal lowering = %+v", ops)
	}
}

func TestExprObjectLiteral(t *testing.T) {
	v := &ir.AnyValue{Kind: ir.VObject, Fields: []ir.Field{
		{Key: "a", Value: &ir.AnyValue{Kind: ir.VInt, Int: 1}},
	}}
	ops := Expr(scope.New(), v)
	// instantiate(empty obj), instantiate("a"), instantiate(1), setField{depth:1}
	if len(ops) != 4 {
		t.Fatalf("object literal lowering has %d ops, want 4: %+v", len(ops), ops)
	}
	if ops[0].Kind != bytecode.Instantiate || ops[1].Kind != bytecode.Instantiate ||
		ops[2].Kind != bytecode.Instantiate || ops[3].Kind != bytecode.SetField {
		t.Fatalf("unexpected op sequence: %+v", ops)
	}
	if ops[3].Depth != 1 {
		t.Fatalf("setField depth = %d, want 1", ops[3].Depth)
	}
}

func TestExprBinaryOpTables(t *testing.T) {
	tests := []struct {
		sign ir.Sign
		want []bytecode.Kind
	}{
		{ir.Eq, []bytecode.Kind{bytecode.Equal}},
		{ir.Neq, []bytecode.Kind{bytecode.Equal, bytecode.NegatePrev}},
		{ir.Lt, []bytecode.Kind{bytecode.LessOp}},
		{ir.Gt, []bytecode.Kind{bytecode.LessEq, bytecode.NegatePrev}},
		{ir.Geq, []bytecode.Kind{bytecode.LessOp, bytecode.NegatePrev}},
	}
	left := &ir.AnyValue{Kind: ir.VInt, Int: 1}
	right := &ir.AnyValue{Kind: ir.VInt, Int: 2}
	for _, tt := range tests {
		ops := Expr(scope.New(), &ir.AnyValue{Kind: ir.VBinary, Sign: tt.sign, Left: left, Right: right})
		tail := ops[len(ops)-len(tt.want):]
		for i, k := range tt.want {
			if tail[i].Kind != k {
				t.Fatalf("sign %v: op %d = %s, want %s", tt.sign, i, tail[i].Kind, k)
			}
		}
	}
}

func TestForEachJumpsConsistentAndPrefixed(t *testing.T) {
	r := &ir.Root{
		Kind:          ir.RForEach,
		ForEachTarget: &ir.AnyValue{Kind: ir.VSaved, Name: "xs"},
		ForEachArg:    "item",
		ForEachBody:   nil,
	}
	sizer := scope.New()
	sizer.Add("xs")
	ops := Stmt(sizer, r)
	checkJumpsSelfConsistent(t, ops)

	if ops[len(ops)-1].Kind != bytecode.PopStack {
		t.Fatalf("forEach must end with popStack to discard the leftover array, got %s", ops[len(ops)-1].Kind)
	}
}

func TestBranchJumpsConsistentAndJoinsAtNoop(t *testing.T) {
	branches := []*ir.Conditional{
		{Condition: &ir.AnyValue{Kind: ir.VBool, Bool: true}, Body: []*ir.Root{
			{Kind: ir.RReturn, ReturnVal: &ir.AnyValue{Kind: ir.VInt, Int: 1}},
		}},
		{Condition: &ir.AnyValue{Kind: ir.VBool, Bool: false}, Body: []*ir.Root{
			{Kind: ir.RReturn, ReturnVal: &ir.AnyValue{Kind: ir.VInt, Int: 2}},
		}},
	}
	ops := lowerBranch(scope.New(), branches)
	checkJumpsSelfConsistent(t, ops)
	if ops[len(ops)-1].Kind != bytecode.Noop {
		t.Fatalf("branch lowering must end with the join noop, got %s", ops[len(ops)-1].Kind)
	}
}

func TestFunctionPrologueEnforcesParams(t *testing.T) {
	fn := &ir.Function{
		Name: "f",
		Params: []ir.Param{
			{Name: "x", Schema: nil},
		},
		Body: nil,
	}
	ops := Function(fn)
	if ops[0].Kind != bytecode.AssertHeapLen || ops[0].Count != 1 {
		t.Fatalf("expected assertHeapLen(1) first, got %+v", ops[0])
	}
	if ops[1].Kind != bytecode.EnforceSchemaInstanceOnHeap {
		t.Fatalf("expected enforceSchemaInstanceOnHeap second, got %s", ops[1].Kind)
	}
	if ops[2].Kind != bytecode.ConditionallySkipXops || ops[2].Skip != 1 {
		t.Fatalf("expected conditonallySkipXops(1) third, got %+v", ops[2])
	}
	if ops[3].Kind != bytecode.RaiseError {
		t.Fatalf("expected raiseError fourth, got %s", ops[3].Kind)
	}
}
