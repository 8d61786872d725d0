// Package exec is the bytecode execution core: spec.md §4.2's opcode
// semantics and §4.6's execution loop over a flat per-invocation heap,
// grounded on the teacher's internal/vm EnhancedVM.Run dispatch loop but
// rebuilt around Tuna's inline-operand Op vector instead of raw bytes
// plus a constants pool.
package exec

import (
	"crypto/ed25519"

	"tuna/internal/bytecode"
	"tuna/internal/schema"
	"tuna/internal/tunaerr"
	"tuna/internal/value"
)

// State is the heap shared across a top-level invocation and every
// nested invoke it performs: a single flat slice, addressed by each
// frame's base offset rather than per-frame owning vectors (§9).
type State struct {
	Heap []value.Value
}

// Globals are the immutable collaborators every Context reads: the
// function table, schema registry, and signing keypair, all held for
// the lifetime of one top-level invocation (§5).
type Globals struct {
	Functions  map[string][]bytecode.Op
	Schemas    schema.Registry
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// context is one function activation: its own instruction pointer and
// operand stack, rooted at a base offset into the shared State heap.
type context struct {
	ip    int
	stack []value.Value
	base  int
	state *State
	g     *Globals
}

func (c *context) push(v value.Value) {
	c.stack = append(c.stack, v)
}

func (c *context) pop() (value.Value, error) {
	n := len(c.stack)
	if n == 0 {
		return nil, tunaerr.Type("pop", "pop from empty stack")
	}
	v := c.stack[n-1]
	c.stack = c.stack[:n-1]
	return v, nil
}

func (c *context) peek() (value.Value, error) {
	n := len(c.stack)
	if n == 0 {
		return nil, tunaerr.Type("peek", "peek on empty stack")
	}
	return c.stack[n-1], nil
}

// popN pops n values off the stack and returns them in the order they
// were originally pushed (reversing LIFO pop order), per the ordering
// note in spec.md §4.2 for getField/setField/invoke/stringConcat.
func (c *context) popN(n uint64) ([]value.Value, error) {
	out := make([]value.Value, n)
	for i := int(n) - 1; i >= 0; i-- {
		v, err := c.pop()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *context) heapSlot(i uint64) (int, error) {
	idx := c.base + int(i)
	if idx < 0 || idx >= len(c.state.Heap) {
		return 0, tunaerr.Resolution("heap access", "slot %d out of range", i)
	}
	return idx, nil
}

// Run executes ops to completion starting from a fresh frame at heap
// offset base, per §4.6: a function with zero opcodes returns none
// immediately; the heap is restored to base locals on return (§8.1).
func Run(ops []bytecode.Op, base int, state *State, g *Globals) (value.Value, error) {
	c := &context{base: base, state: state, g: g}
	for c.ip < len(ops) {
		op := ops[c.ip]
		done, result, err := step(c, op)
		if err != nil {
			return nil, err
		}
		if done {
			state.Heap = state.Heap[:base]
			return result, nil
		}
		c.ip++
	}
	state.Heap = state.Heap[:base]
	return nil, nil
}

// step executes a single opcode against c, returning (done, result, err).
// done is true only for returnStackTop/returnVoid.
func step(c *context, op bytecode.Op) (bool, value.Value, error) {
	switch op.Kind {

	case bytecode.Instantiate:
		c.push(value.Clone(op.Value))

	case bytecode.Noop:
		// no effect

	case bytecode.PopStack:
		if _, err := c.pop(); err != nil {
			return false, nil, err
		}

	case bytecode.MoveStackTopToHeap:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		c.state.Heap = append(c.state.Heap, v)

	case bytecode.CopyFromHeap:
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		c.push(value.Clone(c.state.Heap[idx]))

	case bytecode.OverwriteArg:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		c.state.Heap[idx] = v

	case bytecode.AssertHeapLen:
		if uint64(len(c.state.Heap)-c.base) != op.Count {
			return false, nil, tunaerr.Assertion("assertHeapLen", "expected %d locals, have %d", op.Count, len(c.state.Heap)-c.base)
		}

	case bytecode.TruncateHeap:
		n := int(op.Count)
		if n > len(c.state.Heap)-c.base {
			return false, nil, tunaerr.Assertion("truncateHeap", "cannot truncate %d locals, frame has fewer", op.Count)
		}
		c.state.Heap = c.state.Heap[:len(c.state.Heap)-n]

	case bytecode.TryGetField:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		obj, ok := v.(*value.Object)
		if !ok {
			return false, nil, tunaerr.Type("tryGetField", "cannot get a field on value of type %s", value.TypeTag(v))
		}
		if fv, ok := obj.Fields[op.Field]; ok {
			c.push(value.Clone(fv))
		} else {
			c.push(nil)
		}

	case bytecode.FieldAccess:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		obj, ok := v.(*value.Object)
		if !ok {
			return false, nil, tunaerr.Type("fieldAccess", "cannot get a field on value of type %s", value.TypeTag(v))
		}
		fv, ok := obj.Fields[op.Field]
		if !ok {
			return false, nil, tunaerr.Resolution("fieldAccess", "field %q not present", op.Field)
		}
		c.push(value.Clone(fv))

	case bytecode.FieldExists:
		name, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		key, ok := name.(string)
		if !ok {
			return false, nil, tunaerr.Type("fieldExists", "field name must be a string")
		}
		root, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		obj, ok := root.(*value.Object)
		if !ok {
			return false, nil, tunaerr.Type("fieldExists", "cannot get a field on value of type %s", value.TypeTag(root))
		}
		fv, ok := obj.Fields[key]
		c.push(ok && !value.IsNone(fv))

	case bytecode.GetField:
		steps, err := c.popN(op.Depth)
		if err != nil {
			return false, nil, err
		}
		root, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		cur := root
		found := true
		for _, step := range steps {
			next, ok, err := value.Get(cur, step)
			if err != nil {
				return false, nil, err
			}
			if !ok {
				found = false
				break
			}
			cur = next
		}
		if !found {
			c.push(nil)
		} else {
			c.push(value.Clone(cur))
		}

	case bytecode.SetField:
		newVal, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		steps, err := c.popN(op.Depth)
		if err != nil {
			return false, nil, err
		}
		top, err := c.peek()
		if err != nil {
			return false, nil, err
		}
		if err := value.Set(top, steps, newVal); err != nil {
			return false, nil, err
		}

	case bytecode.SetNestedField:
		newVal, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		top, err := c.peek()
		if err != nil {
			return false, nil, err
		}
		path := make([]value.Value, len(op.Path))
		for i, s := range op.Path {
			path[i] = s
		}
		if err := value.Set(top, path, newVal); err != nil {
			return false, nil, err
		}

	case bytecode.AssignPreviousToField:
		newVal, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		top, err := c.peek()
		if err != nil {
			return false, nil, err
		}
		obj, ok := top.(*value.Object)
		if !ok {
			return false, nil, tunaerr.Type("assignPreviousToField", "cannot set a field on value of type %s", value.TypeTag(top))
		}
		obj.Fields[op.Field] = newVal

	case bytecode.GetSavedField:
		steps, err := c.popN(op.Depth)
		if err != nil {
			return false, nil, err
		}
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		cur := c.state.Heap[idx]
		found := true
		for _, s := range steps {
			next, ok, err := value.Get(cur, s)
			if err != nil {
				return false, nil, err
			}
			if !ok {
				found = false
				break
			}
			cur = next
		}
		if !found {
			c.push(nil)
		} else {
			c.push(value.Clone(cur))
		}

	case bytecode.SetSavedField:
		newVal, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		steps, err := c.popN(op.Depth)
		if err != nil {
			return false, nil, err
		}
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		if err := value.Set(c.state.Heap[idx], steps, newVal); err != nil {
			return false, nil, err
		}

	case bytecode.DeleteSavedField:
		steps, err := c.popN(op.Depth)
		if err != nil {
			return false, nil, err
		}
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		if err := value.Delete(c.state.Heap[idx], steps); err != nil {
			return false, nil, err
		}

	case bytecode.PushSavedField:
		pushVal, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		toPush, ok := pushVal.(*value.Array)
		if !ok {
			return false, nil, tunaerr.Type("pushSavedField", "expected an array literal of values to push")
		}
		steps, err := c.popN(op.Depth)
		if err != nil {
			return false, nil, err
		}
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		cur := c.state.Heap[idx]
		for _, s := range steps {
			next, ok, err := value.Get(cur, s)
			if err != nil {
				return false, nil, err
			}
			if !ok {
				return false, nil, tunaerr.Resolution("pushSavedField", "path step not present")
			}
			cur = next
		}
		for _, elem := range toPush.Elements {
			if err := value.TryPush(cur, elem); err != nil {
				return false, nil, err
			}
		}

	case bytecode.MoveStackToHeapArray:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		if err := value.TryPush(c.state.Heap[idx], v); err != nil {
			return false, nil, err
		}

	case bytecode.ArrayPush:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		top, err := c.peek()
		if err != nil {
			return false, nil, err
		}
		if err := value.TryPush(top, v); err != nil {
			return false, nil, err
		}

	case bytecode.PArrayPush:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		n := len(c.stack)
		pos := n - 1 - int(op.StackOffset)
		if pos < 0 || pos >= n {
			return false, nil, tunaerr.Type("pArrayPush", "stack position out of range")
		}
		if err := value.TryPush(c.stack[pos], v); err != nil {
			return false, nil, err
		}

	case bytecode.ArrayLen:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		arr, ok := v.(*value.Array)
		if !ok {
			return false, nil, tunaerr.Type("arrayLen", "not an array")
		}
		c.push(int64(len(arr.Elements)))

	case bytecode.NdArrayLen:
		top, err := c.peek()
		if err != nil {
			return false, nil, err
		}
		arr, ok := top.(*value.Array)
		if !ok {
			return false, nil, tunaerr.Type("ndArrayLen", "not an array")
		}
		c.push(int64(len(arr.Elements)))

	case bytecode.PopArray:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		arr, ok := v.(*value.Array)
		if !ok {
			return false, nil, tunaerr.Type("popArray", "not an array")
		}
		if len(arr.Elements) == 0 {
			c.push(arr)
			c.push(nil)
		} else {
			last := arr.Elements[len(arr.Elements)-1]
			arr.Elements = arr.Elements[:len(arr.Elements)-1]
			c.push(arr)
			c.push(last)
		}

	case bytecode.FlattenArray:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		arr, ok := v.(*value.Array)
		if !ok {
			return false, nil, tunaerr.Type("flattenArray", "not an array")
		}
		for _, e := range arr.Elements {
			c.push(e)
		}

	case bytecode.GetKeys:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		obj, ok := v.(*value.Object)
		if !ok {
			return false, nil, tunaerr.Type("getKeys", "not an object")
		}
		keys := value.NewArray()
		for k := range obj.Fields {
			keys.Elements = append(keys.Elements, k)
		}
		c.push(keys)

	case bytecode.RepackageCollection:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		arr, ok := v.(*value.Array)
		if !ok {
			return false, nil, tunaerr.Structural("repackageCollection", "not an array")
		}
		result := value.NewObject()
		for _, e := range arr.Elements {
			entry, ok := e.(*value.Object)
			if !ok {
				return false, nil, tunaerr.Structural("repackageCollection", "element is not an object")
			}
			k, ok := entry.Fields["_key"].(string)
			if !ok {
				return false, nil, tunaerr.Structural("repackageCollection", "element missing _key")
			}
			vv, ok := entry.Fields["_val"]
			if !ok {
				return false, nil, tunaerr.Structural("repackageCollection", "element missing _val")
			}
			result.Fields[k] = vv
		}
		c.push(result)

	case bytecode.ExtractFields:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		for _, selector := range op.Selectors {
			cur := v
			found := true
			for _, k := range selector {
				next, ok, err := value.Get(cur, k)
				if err != nil {
					return false, nil, err
				}
				if !ok {
					found = false
					break
				}
				cur = next
			}
			if !found {
				c.push(nil)
			} else {
				c.push(value.Clone(cur))
			}
		}

	case bytecode.OffsetOpCursor:
		if op.Fwd {
			c.ip += int(op.Offset)
		} else {
			c.ip -= int(op.Offset) + 1
		}

	case bytecode.ConditionallySkipXops:
		b, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		bv, ok := b.(bool)
		if !ok {
			return false, nil, tunaerr.Type("conditonallySkipXops", "condition is not a bool")
		}
		if bv {
			c.ip += int(op.Skip)
		}

	case bytecode.ReturnStackTop:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		return true, v, nil

	case bytecode.ReturnVoid:
		return true, nil, nil

	case bytecode.NegatePrev:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		bv, ok := v.(bool)
		if !ok {
			return false, nil, tunaerr.Type("negatePrev", "not a bool")
		}
		c.push(!bv)

	case bytecode.ToBool:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		if bv, ok := v.(bool); ok {
			c.push(bv)
		} else {
			c.push(!value.IsNone(v))
		}

	case bytecode.Equal:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		c.push(value.Equals(left, right))

	case bytecode.LessOp:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		ord, err := value.Compare(left, right)
		if err != nil {
			return false, nil, err
		}
		c.push(ord == value.Less)

	case bytecode.LessEq:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		ord, err := value.Compare(left, right)
		if err != nil {
			return false, nil, err
		}
		c.push(ord != value.Greater)

	case bytecode.BoolAnd:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return false, nil, tunaerr.Type("boolAnd", "operands must be bool")
		}
		c.push(lb && rb)

	case bytecode.BoolOr:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return false, nil, tunaerr.Type("boolOr", "operands must be bool")
		}
		c.push(lb || rb)

	case bytecode.PlusOp:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		res, err := value.Plus(left, right)
		if err != nil {
			return false, nil, err
		}
		c.push(res)

	case bytecode.NMinus:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		res, err := value.Minus(left, right)
		if err != nil {
			return false, nil, err
		}
		c.push(res)

	case bytecode.NMult:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		res, err := value.Multiply(left, right)
		if err != nil {
			return false, nil, err
		}
		c.push(res)

	case bytecode.NDivide:
		right, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		left, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		res, err := value.Divide(left, right)
		if err != nil {
			return false, nil, err
		}
		c.push(res)

	case bytecode.StringConcat:
		parts, err := c.popN(op.NStrings)
		if err != nil {
			return false, nil, err
		}
		strs := make([]string, len(parts))
		for i, p := range parts {
			s, err := value.ToString(p)
			if err != nil {
				return false, nil, err
			}
			strs[i] = s
		}
		c.push(joinStrings(strs, op.Joiner))

	case bytecode.StackTopMatches:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		sch, ok := c.g.Schemas[op.SchemaName]
		if !ok {
			return false, nil, tunaerr.Resolution("stackTopMatches", "unknown schema %q", op.SchemaName)
		}
		c.push(sch.Adheres(v, c.g.Schemas, c.g.PublicKey))

	case bytecode.EnforceSchemaOnHeap:
		sch, ok := c.g.Schemas[op.SchemaName]
		if !ok {
			return false, nil, tunaerr.Resolution("enforceSchemaOnHeap", "unknown schema %q", op.SchemaName)
		}
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		c.push(sch.Adheres(c.state.Heap[idx], c.g.Schemas, c.g.PublicKey))

	case bytecode.EnforceSchemaInstanceOnHeap:
		idx, err := c.heapSlot(op.Index)
		if err != nil {
			return false, nil, err
		}
		c.push(op.Schema.Adheres(c.state.Heap[idx], c.g.Schemas, c.g.PublicKey))

	case bytecode.IsLastNone:
		top, err := c.peek()
		if err != nil {
			return false, nil, err
		}
		c.push(value.IsNone(top))

	case bytecode.GetType:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		c.push(value.TypeTag(v))

	case bytecode.Invoke:
		args, err := c.popN(op.Argc)
		if err != nil {
			return false, nil, err
		}
		callee, ok := c.g.Functions[op.Name]
		if !ok {
			return false, nil, tunaerr.Resolution("invoke", "unknown function %q", op.Name)
		}
		calleeBase := len(c.state.Heap)
		c.state.Heap = append(c.state.Heap, args...)
		result, err := Run(callee, calleeBase, c.state, c.g)
		if err != nil {
			return false, nil, err
		}
		c.push(result)

	case bytecode.SignRole:
		v, err := c.pop()
		if err != nil {
			return false, nil, err
		}
		obj, ok := v.(*value.Object)
		if !ok {
			return false, nil, tunaerr.Structural("signRole", "not an object")
		}
		name, ok := obj.Fields["_name"].(string)
		if !ok {
			return false, nil, tunaerr.Structural("signRole", "role object missing _name")
		}
		state, ok := obj.Fields["_state"]
		if !ok {
			state = value.NewObject()
		}
		msg := value.RoleMessage(name, state)
		sig := ed25519.Sign(c.g.PrivateKey, msg)
		if !ed25519.Verify(c.g.PublicKey, msg, sig) {
			return false, nil, tunaerr.Crypto("signRole", "signature failed self-verification")
		}
		sigArr := value.NewArray()
		for _, b := range sig {
			sigArr.Elements = append(sigArr.Elements, int64(b))
		}
		obj.Fields["_sig"] = sigArr
		obj.Fields["_name"] = name
		c.push(obj)

	case bytecode.RaiseError:
		return false, nil, tunaerr.Assertion("raiseError", "%s", op.Message)

	default:
		return false, nil, tunaerr.Resolution("step", "unknown opcode %q", op.Kind)
	}

	return false, nil, nil
}

func joinStrings(parts []string, joiner string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += joiner
		}
		out += p
	}
	return out
}
