// Package lowering translates ir.Function/ir.Root/ir.AnyValue trees into
// linear bytecode.Op vectors, per spec.md §4.5. It is a direct Go port of
// the original Rust compiler's backend.rs Compilable trait impls, using
// scope.Sizer for local-slot bookkeeping the same way backend.rs threads
// a ScopeSizer through every call.
package lowering

import (
	"tuna/internal/bytecode"
	"tuna/internal/ir"
	"tuna/internal/scope"
	"tuna/internal/value"
)

// Function lowers a top-level function definition into its opcode vector,
// including the parameter-schema enforcement prologue spec.md §4.5 requires.
func Function(fn *ir.Function) []bytecode.Op {
	sizer := scope.New()
	var ops []bytecode.Op

	ops = append(ops, bytecode.Op{Kind: bytecode.AssertHeapLen, Count: uint64(len(fn.Params))})
	for _, p := range fn.Params {
		slot := sizer.Add(p.Name)
		ops = append(ops,
			bytecode.Op{Kind: bytecode.EnforceSchemaInstanceOnHeap, Schema: p.Schema, Index: slot},
			bytecode.Op{Kind: bytecode.ConditionallySkipXops, Skip: 1},
			bytecode.Op{Kind: bytecode.RaiseError, Message: "Input did not match expectations for " + p.Name},
		)
	}

	ops = append(ops, Stmts(sizer, fn.Body)...)
	return ops
}

// Stmts lowers a statement sequence in order, threading the same sizer
// through every statement so later statements see earlier Save bindings.
func Stmts(sizer *scope.Sizer, body []*ir.Root) []bytecode.Op {
	var ops []bytecode.Op
	for _, stmt := range body {
		ops = append(ops, Stmt(sizer, stmt)...)
	}
	return ops
}

// Stmt lowers a single Root statement.
func Stmt(sizer *scope.Sizer, r *ir.Root) []bytecode.Op {
	switch r.Kind {
	case ir.RSave:
		var ops []bytecode.Op
		ops = append(ops, Expr(sizer, r.SaveVal)...)
		sizer.Add(r.SaveName)
		ops = append(ops, bytecode.Op{Kind: bytecode.MoveStackTopToHeap})
		return ops

	case ir.RUpdate:
		return lowerUpdate(sizer, r)

	case ir.RCall:
		return lowerCall(sizer, r.Call)

	case ir.RReturn:
		if r.ReturnVal == nil {
			return []bytecode.Op{{Kind: bytecode.ReturnVoid}}
		}
		ops := Expr(sizer, r.ReturnVal)
		return append(ops, bytecode.Op{Kind: bytecode.ReturnStackTop})

	case ir.RForEach:
		return lowerForEach(sizer, r)

	case ir.RBranch:
		return lowerBranch(sizer, r.Branches)

	default:
		panic("lowering: unknown Root kind")
	}
}

func lowerUpdate(sizer *scope.Sizer, r *ir.Root) []bytecode.Op {
	slot := sizer.Get(r.UpdateTarget)
	depth := uint64(len(r.UpdatePath))
	op := r.UpdateOp

	var ops []bytecode.Op
	switch op.Kind {
	case ir.MutOverwrite:
		if depth == 0 {
			ops = append(ops, Expr(sizer, op.Overwrite)...)
			ops = append(ops, bytecode.Op{Kind: bytecode.OverwriteArg, Index: slot})
			return ops
		}
		for _, step := range r.UpdatePath {
			ops = append(ops, Expr(sizer, step)...)
		}
		ops = append(ops, Expr(sizer, op.Overwrite)...)
		ops = append(ops, bytecode.Op{Kind: bytecode.SetSavedField, Depth: depth, Index: slot})
		return ops

	case ir.MutPush:
		if depth == 0 {
			for _, v := range op.PushValues {
				ops = append(ops, Expr(sizer, v)...)
				ops = append(ops, bytecode.Op{Kind: bytecode.MoveStackToHeapArray, Index: slot})
			}
			return ops
		}
		for _, step := range r.UpdatePath {
			ops = append(ops, Expr(sizer, step)...)
		}
		ops = append(ops, lowerArrayLiteral(sizer, op.PushValues)...)
		ops = append(ops, bytecode.Op{Kind: bytecode.PushSavedField, Depth: depth, Index: slot})
		return ops

	case ir.MutDelete:
		for _, step := range r.UpdatePath {
			ops = append(ops, Expr(sizer, step)...)
		}
		ops = append(ops, bytecode.Op{Kind: bytecode.DeleteSavedField, Depth: depth, Index: slot})
		return ops

	default:
		panic("lowering: unknown Mut kind")
	}
}

func lowerCall(sizer *scope.Sizer, call *ir.Call) []bytecode.Op {
	var ops []bytecode.Op
	for _, a := range call.Args {
		ops = append(ops, Expr(sizer, a)...)
	}
	ops = append(ops, bytecode.Op{Kind: bytecode.Invoke, Name: call.Function, Argc: uint64(len(call.Args))})
	return ops
}

// lowerForEach implements spec.md §4.5's ForEach rule: the target is
// evaluated once and left on the stack; each iteration jumps back to
// ndArrayLen to re-test its length, and the loop terminates by driving the
// array down to empty via popArray, per invariant §8.8. The exit skip
// covers the body plus the back-jump, landing on the trailing popStack.
func lowerForEach(sizer *scope.Sizer, r *ir.Root) []bytecode.Op {
	targetOps := Expr(sizer, r.ForEachTarget)

	sizer.Push()
	sizer.Add(r.ForEachArg)
	body := []bytecode.Op{
		{Kind: bytecode.PopArray},
		{Kind: bytecode.MoveStackTopToHeap},
	}
	body = append(body, Stmts(sizer, r.ForEachBody)...)
	count := sizer.Pop()
	body = append(body, bytecode.Op{Kind: bytecode.TruncateHeap, Count: count})

	l := uint64(len(body))

	var ops []bytecode.Op
	ops = append(ops, targetOps...)
	ops = append(ops,
		bytecode.Op{Kind: bytecode.NdArrayLen},
		bytecode.Op{Kind: bytecode.Instantiate, Value: int64(0)},
		bytecode.Op{Kind: bytecode.Equal},
		bytecode.Op{Kind: bytecode.ConditionallySkipXops, Skip: l + 1},
	)
	ops = append(ops, body...)
	ops = append(ops, bytecode.Op{Kind: bytecode.OffsetOpCursor, Offset: l + 4, Fwd: false})
	ops = append(ops, bytecode.Op{Kind: bytecode.PopStack})
	return ops
}

// lowerBranch implements spec.md §4.5's Branch rule: every conditional is
// lowered independently, then each gets an extra forward jump past the
// remaining branches, landing on the trailing join noop.
func lowerBranch(sizer *scope.Sizer, conditionals []*ir.Conditional) []bytecode.Op {
	n := len(conditionals)
	branches := make([][]bytecode.Op, n)
	totalSize := uint64(0)
	for i, c := range conditionals {
		branches[i] = lowerConditional(sizer, c)
		totalSize += uint64(len(branches[i]))
	}

	var ops []bytecode.Op
	opsBefore := uint64(0)
	for i, b := range branches {
		ops = append(ops, b...)
		branchesRemaining := uint64(n - i)
		offset := totalSize - opsBefore - uint64(len(b)) + branchesRemaining - 1
		ops = append(ops, bytecode.Op{Kind: bytecode.OffsetOpCursor, Offset: offset, Fwd: true})
		opsBefore += uint64(len(b))
	}
	ops = append(ops, bytecode.Op{Kind: bytecode.Noop})
	return ops
}

func lowerConditional(sizer *scope.Sizer, c *ir.Conditional) []bytecode.Op {
	sizer.Push()
	body := Stmts(sizer, c.Body)
	if count := sizer.Pop(); count > 0 {
		body = append(body, bytecode.Op{Kind: bytecode.TruncateHeap, Count: count})
	}

	var ops []bytecode.Op
	ops = append(ops, Expr(sizer, c.Condition)...)
	ops = append(ops,
		bytecode.Op{Kind: bytecode.NegatePrev},
		bytecode.Op{Kind: bytecode.ConditionallySkipXops, Skip: uint64(len(body))},
	)
	ops = append(ops, body...)
	ops = append(ops, bytecode.Op{Kind: bytecode.Noop})
	return ops
}

func lowerArrayLiteral(sizer *scope.Sizer, vs []*ir.AnyValue) []bytecode.Op {
	ops := []bytecode.Op{{Kind: bytecode.Instantiate, Value: value.NewArray()}}
	for _, v := range vs {
		ops = append(ops, Expr(sizer, v)...)
		ops = append(ops, bytecode.Op{Kind: bytecode.ArrayPush})
	}
	return ops
}

var binaryOps = map[ir.Sign][]bytecode.Kind{
	ir.Eq:    {bytecode.Equal},
	ir.Neq:   {bytecode.Equal, bytecode.NegatePrev},
	ir.Lt:    {bytecode.LessOp},
	ir.Gt:    {bytecode.LessEq, bytecode.NegatePrev},
	ir.Leq:   {bytecode.LessEq},
	ir.Geq:   {bytecode.LessOp, bytecode.NegatePrev},
	ir.Plus:  {bytecode.PlusOp},
	ir.Minus: {bytecode.NMinus},
	ir.Mult:  {bytecode.NMult},
	ir.Div:   {bytecode.NDivide},
	ir.And:   {bytecode.BoolAnd},
	ir.Or:    {bytecode.BoolOr},
}

// Expr lowers a single AnyValue expression, per spec.md §4.5.
func Expr(sizer *scope.Sizer, v *ir.AnyValue) []bytecode.Op {
	switch v.Kind {
	case ir.VBool:
		return []bytecode.Op{{Kind: bytecode.Instantiate, Value: v.Bool}}
	case ir.VInt:
		return []bytecode.Op{{Kind: bytecode.Instantiate, Value: v.Int}}
	case ir.VDouble:
		return []bytecode.Op{{Kind: bytecode.Instantiate, Value: v.Double}}
	case ir.VString:
		return []bytecode.Op{{Kind: bytecode.Instantiate, Value: v.String}}
	case ir.VNone:
		return []bytecode.Op{{Kind: bytecode.Instantiate, Value: nil}}

	case ir.VObject:
		ops := []bytecode.Op{{Kind: bytecode.Instantiate, Value: value.NewObject()}}
		for _, f := range v.Fields {
			ops = append(ops, bytecode.Op{Kind: bytecode.Instantiate, Value: f.Key})
			ops = append(ops, Expr(sizer, f.Value)...)
			ops = append(ops, bytecode.Op{Kind: bytecode.SetField, Depth: 1})
		}
		return ops

	case ir.VArray:
		return lowerArrayLiteral(sizer, v.Values)

	case ir.VSaved:
		return []bytecode.Op{{Kind: bytecode.CopyFromHeap, Index: sizer.Get(v.Name)}}

	case ir.VSelection:
		var ops []bytecode.Op
		ops = append(ops, Expr(sizer, v.Root)...)
		for _, step := range v.Path {
			ops = append(ops, Expr(sizer, step)...)
		}
		if len(v.Path) > 0 {
			ops = append(ops, bytecode.Op{Kind: bytecode.GetField, Depth: uint64(len(v.Path))})
		}
		return ops

	case ir.VNot:
		ops := Expr(sizer, v.Operand)
		return append(ops, bytecode.Op{Kind: bytecode.NegatePrev})

	case ir.VGetType:
		ops := Expr(sizer, v.Operand)
		return append(ops, bytecode.Op{Kind: bytecode.GetType})

	case ir.VKeys:
		ops := Expr(sizer, v.Operand)
		return append(ops, bytecode.Op{Kind: bytecode.GetKeys})

	case ir.VBinary:
		var ops []bytecode.Op
		ops = append(ops, Expr(sizer, v.Left)...)
		ops = append(ops, Expr(sizer, v.Right)...)
		for _, k := range binaryOps[v.Sign] {
			ops = append(ops, bytecode.Op{Kind: k})
		}
		return ops

	case ir.VIs:
		ops := Expr(sizer, v.IsVal)
		return append(ops, bytecode.Op{Kind: bytecode.StackTopMatches, SchemaName: v.IsSchema})

	case ir.VRoleInstance:
		base := value.NewObject()
		base.Fields["_name"] = v.RoleSchema.Role
		ops := []bytecode.Op{{Kind: bytecode.Instantiate, Value: base}}
		if len(v.RoleData) > 0 {
			ops = append(ops, bytecode.Op{Kind: bytecode.Instantiate, Value: "_state"})
			stateOps := []bytecode.Op{{Kind: bytecode.Instantiate, Value: value.NewObject()}}
			for _, f := range v.RoleData {
				stateOps = append(stateOps, bytecode.Op{Kind: bytecode.Instantiate, Value: f.Key})
				stateOps = append(stateOps, Expr(sizer, f.Value)...)
				stateOps = append(stateOps, bytecode.Op{Kind: bytecode.SetField, Depth: 1})
			}
			ops = append(ops, stateOps...)
			ops = append(ops, bytecode.Op{Kind: bytecode.SetField, Depth: 1})
		}
		ops = append(ops, bytecode.Op{Kind: bytecode.SignRole})
		return ops

	case ir.VCall:
		return lowerCall(sizer, v.Call)

	default:
		panic("lowering: unknown AnyValue kind")
	}
}
