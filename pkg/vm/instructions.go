package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/nativeintercept/pkg/classfile"
)

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (vm *VM) executeInstruction(frame *Frame, opcode byte) (Value, bool, error) {
	switch opcode {
	case classfile.OpNop:
		// do nothing

	// --- Constant load instructions ---
	case classfile.OpAconstNull:
		frame.Push(NullValue())

	case classfile.OpIconstM1, classfile.OpIconst0, classfile.OpIconst1, classfile.OpIconst2,
		classfile.OpIconst3, classfile.OpIconst4, classfile.OpIconst5:
		frame.Push(IntValue(int32(opcode) - classfile.OpIconst0))

	case classfile.OpLconst0, classfile.OpLconst1:
		frame.Push(LongValue(int64(opcode - classfile.OpLconst0)))

	case classfile.OpFconst0, classfile.OpFconst1, classfile.OpFconst2:
		frame.Push(FloatValue(float32(opcode - classfile.OpFconst0)))

	case classfile.OpDconst0, classfile.OpDconst1:
		frame.Push(DoubleValue(float64(opcode - classfile.OpDconst0)))

	case classfile.OpBipush:
		val := frame.ReadI8()
		frame.Push(IntValue(int32(val)))

	case classfile.OpSipush:
		val := frame.ReadI16()
		frame.Push(IntValue(int32(val)))

	case classfile.OpLdc:
		index := frame.ReadU8()
		return vm.executeLdc(frame, uint16(index))

	case classfile.OpLdcW:
		index := frame.ReadU16()
		return vm.executeLdc(frame, index)

	case classfile.OpLdc2W:
		index := frame.ReadU16()
		pool := frame.Class.ConstantPool
		if int(index) >= len(pool) || pool[index] == nil {
			return Value{}, false, fmt.Errorf("ldc2_w: invalid constant pool index %d", index)
		}
		switch c := pool[index].(type) {
		case *classfile.ConstantLong:
			frame.Push(LongValue(c.Value))
		case *classfile.ConstantDouble:
			frame.Push(DoubleValue(c.Value))
		default:
			return Value{}, false, fmt.Errorf("ldc2_w: unsupported type at index %d", index)
		}

	// --- Local variable load instructions ---
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		index := frame.ReadU8()
		frame.Push(frame.GetLocal(int(index)))
	case classfile.OpIload0, classfile.OpIload1, classfile.OpIload2, classfile.OpIload3:
		frame.Push(frame.GetLocal(int(opcode - classfile.OpIload0)))
	case classfile.OpLload0, classfile.OpLload1, classfile.OpLload2, classfile.OpLload3:
		frame.Push(frame.GetLocal(int(opcode - classfile.OpLload0)))
	case classfile.OpFload0, classfile.OpFload1, classfile.OpFload2, classfile.OpFload3:
		frame.Push(frame.GetLocal(int(opcode - classfile.OpFload0)))
	case classfile.OpDload0, classfile.OpDload1, classfile.OpDload2, classfile.OpDload3:
		frame.Push(frame.GetLocal(int(opcode - classfile.OpDload0)))
	case classfile.OpAload0, classfile.OpAload1, classfile.OpAload2, classfile.OpAload3:
		frame.Push(frame.GetLocal(int(opcode - classfile.OpAload0)))

	// --- Local variable store instructions ---
	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		index := frame.ReadU8()
		frame.SetLocal(int(index), frame.Pop())
	case classfile.OpIstore0, classfile.OpIstore1, classfile.OpIstore2, classfile.OpIstore3:
		frame.SetLocal(int(opcode-classfile.OpIstore0), frame.Pop())
	case classfile.OpLstore0, classfile.OpLstore1, classfile.OpLstore2, classfile.OpLstore3:
		frame.SetLocal(int(opcode-classfile.OpLstore0), frame.Pop())
	case classfile.OpFstore0, classfile.OpFstore1, classfile.OpFstore2, classfile.OpFstore3:
		frame.SetLocal(int(opcode-classfile.OpFstore0), frame.Pop())
	case classfile.OpDstore0, classfile.OpDstore1, classfile.OpDstore2, classfile.OpDstore3:
		frame.SetLocal(int(opcode-classfile.OpDstore0), frame.Pop())
	case classfile.OpAstore0, classfile.OpAstore1, classfile.OpAstore2, classfile.OpAstore3:
		frame.SetLocal(int(opcode-classfile.OpAstore0), frame.Pop())

	case classfile.OpWide:
		return vm.executeWide(frame)

	// --- Array load ---
	case classfile.OpIaload, classfile.OpLaload, classfile.OpFaload, classfile.OpDaload,
		classfile.OpAaload, classfile.OpBaload, classfile.OpCaload, classfile.OpSaload:
		index := frame.Pop().Int
		arr, err := vm.arrayRef(frame.Pop(), index)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(arr.Elements[index])

	// --- Array store ---
	case classfile.OpIastore, classfile.OpLastore, classfile.OpFastore, classfile.OpDastore,
		classfile.OpAastore, classfile.OpBastore, classfile.OpCastore, classfile.OpSastore:
		value := frame.Pop()
		index := frame.Pop().Int
		arr, err := vm.arrayRef(frame.Pop(), index)
		if err != nil {
			return Value{}, false, err
		}
		switch opcode {
		case classfile.OpBastore:
			value = IntValue(int32(int8(value.Int)))
		case classfile.OpCastore:
			value = IntValue(int32(uint16(value.Int)))
		case classfile.OpSastore:
			value = IntValue(int32(int16(value.Int)))
		case classfile.OpAastore:
			if !value.IsNull() && arr.Class.component != nil && !vm.isAssignable(vm.classOf(value.Ref), arr.Class.component.name) {
				return Value{}, false, vm.throw("java/lang/ArrayStoreException", nil, "%T", value.Ref)
			}
		}
		arr.Elements[index] = value

	// --- Stack manipulation ---
	case classfile.OpPop:
		frame.Pop()

	case classfile.OpPop2:
		if v := frame.Pop(); !v.wide() {
			frame.Pop()
		}

	case classfile.OpDup:
		v := frame.Peek()
		frame.Push(v)

	case classfile.OpDupX1:
		v1 := frame.Pop()
		v2 := frame.Pop()
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDupX2:
		v1 := frame.Pop()
		v2 := frame.Pop()
		if v2.wide() {
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
			break
		}
		v3 := frame.Pop()
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDup2:
		v1 := frame.Pop()
		if v1.wide() {
			frame.Push(v1)
			frame.Push(v1)
			break
		}
		v2 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpSwap:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)

	// --- Arithmetic ---
	case classfile.OpIadd:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int + v2.Int))
	case classfile.OpLadd:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long + v2.Long))
	case classfile.OpFadd:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(FloatValue(v1.Float + v2.Float))
	case classfile.OpDadd:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(DoubleValue(v1.Double + v2.Double))

	case classfile.OpIsub:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int - v2.Int))
	case classfile.OpLsub:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long - v2.Long))
	case classfile.OpFsub:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(FloatValue(v1.Float - v2.Float))
	case classfile.OpDsub:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(DoubleValue(v1.Double - v2.Double))

	case classfile.OpImul:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int * v2.Int))
	case classfile.OpLmul:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long * v2.Long))
	case classfile.OpFmul:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(FloatValue(v1.Float * v2.Float))
	case classfile.OpDmul:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(DoubleValue(v1.Double * v2.Double))

	case classfile.OpIdiv:
		v2, v1 := frame.Pop(), frame.Pop()
		if v2.Int == 0 {
			return Value{}, false, vm.throw("java/lang/ArithmeticException", nil, "/ by zero")
		}
		if v1.Int == math.MinInt32 && v2.Int == -1 {
			frame.Push(v1)
			break
		}
		frame.Push(IntValue(v1.Int / v2.Int))
	case classfile.OpLdiv:
		v2, v1 := frame.Pop(), frame.Pop()
		if v2.Long == 0 {
			return Value{}, false, vm.throw("java/lang/ArithmeticException", nil, "/ by zero")
		}
		if v1.Long == math.MinInt64 && v2.Long == -1 {
			frame.Push(v1)
			break
		}
		frame.Push(LongValue(v1.Long / v2.Long))
	case classfile.OpFdiv:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(FloatValue(v1.Float / v2.Float))
	case classfile.OpDdiv:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(DoubleValue(v1.Double / v2.Double))

	case classfile.OpIrem:
		v2, v1 := frame.Pop(), frame.Pop()
		if v2.Int == 0 {
			return Value{}, false, vm.throw("java/lang/ArithmeticException", nil, "/ by zero")
		}
		if v2.Int == -1 {
			frame.Push(IntValue(0))
			break
		}
		frame.Push(IntValue(v1.Int % v2.Int))
	case classfile.OpLrem:
		v2, v1 := frame.Pop(), frame.Pop()
		if v2.Long == 0 {
			return Value{}, false, vm.throw("java/lang/ArithmeticException", nil, "/ by zero")
		}
		if v2.Long == -1 {
			frame.Push(LongValue(0))
			break
		}
		frame.Push(LongValue(v1.Long % v2.Long))
	case classfile.OpFrem:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(FloatValue(float32(math.Mod(float64(v1.Float), float64(v2.Float)))))
	case classfile.OpDrem:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(DoubleValue(math.Mod(v1.Double, v2.Double)))

	case classfile.OpIneg:
		v := frame.Pop()
		frame.Push(IntValue(-v.Int))
	case classfile.OpLneg:
		v := frame.Pop()
		frame.Push(LongValue(-v.Long))
	case classfile.OpFneg:
		v := frame.Pop()
		frame.Push(FloatValue(-v.Float))
	case classfile.OpDneg:
		v := frame.Pop()
		frame.Push(DoubleValue(-v.Double))

	// --- Bit operations ---
	case classfile.OpIshl:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int << (uint(v2.Int) & 0x1f)))
	case classfile.OpLshl:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long << (uint(v2.Int) & 0x3f)))
	case classfile.OpIshr:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int >> (uint(v2.Int) & 0x1f)))
	case classfile.OpLshr:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long >> (uint(v2.Int) & 0x3f)))
	case classfile.OpIushr:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(int32(uint32(v1.Int) >> (uint(v2.Int) & 0x1f))))
	case classfile.OpLushr:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(int64(uint64(v1.Long) >> (uint(v2.Int) & 0x3f))))
	case classfile.OpIand:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int & v2.Int))
	case classfile.OpLand:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long & v2.Long))
	case classfile.OpIor:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int | v2.Int))
	case classfile.OpLor:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long | v2.Long))
	case classfile.OpIxor:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(IntValue(v1.Int ^ v2.Int))
	case classfile.OpLxor:
		v2, v1 := frame.Pop(), frame.Pop()
		frame.Push(LongValue(v1.Long ^ v2.Long))

	case classfile.OpIinc:
		index := frame.ReadU8()
		constVal := frame.ReadI8()
		local := frame.GetLocal(int(index))
		frame.SetLocal(int(index), IntValue(local.Int+int32(constVal)))

	// --- Type conversions ---
	case classfile.OpI2l:
		frame.Push(LongValue(int64(frame.Pop().Int)))
	case classfile.OpI2f:
		frame.Push(FloatValue(float32(frame.Pop().Int)))
	case classfile.OpI2d:
		frame.Push(DoubleValue(float64(frame.Pop().Int)))
	case classfile.OpL2i:
		frame.Push(IntValue(int32(frame.Pop().Long)))
	case classfile.OpL2f:
		frame.Push(FloatValue(float32(frame.Pop().Long)))
	case classfile.OpL2d:
		frame.Push(DoubleValue(float64(frame.Pop().Long)))
	case classfile.OpF2i:
		frame.Push(IntValue(int32(f2i(float64(frame.Pop().Float), math.MinInt32, math.MaxInt32))))
	case classfile.OpF2l:
		frame.Push(LongValue(f2i(float64(frame.Pop().Float), math.MinInt64, math.MaxInt64)))
	case classfile.OpF2d:
		frame.Push(DoubleValue(float64(frame.Pop().Float)))
	case classfile.OpD2i:
		frame.Push(IntValue(int32(f2i(frame.Pop().Double, math.MinInt32, math.MaxInt32))))
	case classfile.OpD2l:
		frame.Push(LongValue(f2i(frame.Pop().Double, math.MinInt64, math.MaxInt64)))
	case classfile.OpD2f:
		frame.Push(FloatValue(float32(frame.Pop().Double)))
	case classfile.OpI2b:
		frame.Push(IntValue(int32(int8(frame.Pop().Int))))
	case classfile.OpI2c:
		frame.Push(IntValue(int32(uint16(frame.Pop().Int))))
	case classfile.OpI2s:
		frame.Push(IntValue(int32(int16(frame.Pop().Int))))

	// --- Comparisons ---
	case classfile.OpLcmp:
		v2, v1 := frame.Pop(), frame.Pop()
		switch {
		case v1.Long > v2.Long:
			frame.Push(IntValue(1))
		case v1.Long < v2.Long:
			frame.Push(IntValue(-1))
		default:
			frame.Push(IntValue(0))
		}
	case classfile.OpFcmpl, classfile.OpFcmpg:
		v2, v1 := frame.Pop(), frame.Pop()
		nan := int32(-1)
		if opcode == classfile.OpFcmpg {
			nan = 1
		}
		a, b := float64(v1.Float), float64(v2.Float)
		frame.Push(IntValue(compare(a, b, a > b, a < b, nan)))
	case classfile.OpDcmpl, classfile.OpDcmpg:
		v2, v1 := frame.Pop(), frame.Pop()
		nan := int32(-1)
		if opcode == classfile.OpDcmpg {
			nan = 1
		}
		a, b := v1.Double, v2.Double
		frame.Push(IntValue(compare(a, b, a > b, a < b, nan)))

	// --- Comparison and branch ---
	case classfile.OpIfeq:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v == 0 })
	case classfile.OpIfne:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v != 0 })
	case classfile.OpIflt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v < 0 })
	case classfile.OpIfge:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v >= 0 })
	case classfile.OpIfgt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v > 0 })
	case classfile.OpIfle:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v <= 0 })

	case classfile.OpIfIcmpeq:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 == v2 })
	case classfile.OpIfIcmpne:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 != v2 })
	case classfile.OpIfIcmplt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 < v2 })
	case classfile.OpIfIcmpge:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 >= v2 })
	case classfile.OpIfIcmpgt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 > v2 })
	case classfile.OpIfIcmple:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 <= v2 })

	case classfile.OpIfAcmpeq, classfile.OpIfAcmpne:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		v2, v1 := frame.Pop(), frame.Pop()
		eq := (v1.IsNull() && v2.IsNull()) || (!v1.IsNull() && !v2.IsNull() && v1.Ref == v2.Ref)
		if eq == (opcode == classfile.OpIfAcmpeq) {
			frame.PC = branchPC + int(offset)
		}

	case classfile.OpIfnull, classfile.OpIfnonnull:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		if frame.Pop().IsNull() == (opcode == classfile.OpIfnull) {
			frame.PC = branchPC + int(offset)
		}

	case classfile.OpGoto:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		frame.PC = branchPC + int(offset)

	case classfile.OpGotoW:
		branchPC := frame.PC - 1
		offset := frame.ReadI32()
		frame.PC = branchPC + int(offset)

	case classfile.OpTableswitch:
		// PC of the tableswitch opcode
		opcodePC := frame.PC - 1
		// Padding to align to 4-byte boundary
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		low := frame.ReadI32()
		high := frame.ReadI32()
		numOffsets := int(high - low + 1)
		offsets := make([]int32, numOffsets)
		for i := 0; i < numOffsets; i++ {
			offsets[i] = frame.ReadI32()
		}
		index := frame.Pop().Int
		if index >= low && index <= high {
			frame.PC = opcodePC + int(offsets[index-low])
		} else {
			frame.PC = opcodePC + int(defaultOffset)
		}

	case classfile.OpLookupswitch:
		opcodePC := frame.PC - 1
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		npairs := frame.ReadI32()
		key := frame.Pop().Int
		target := opcodePC + int(defaultOffset)
		for i := int32(0); i < npairs; i++ {
			matchVal := frame.ReadI32()
			offset := frame.ReadI32()
			if key == matchVal {
				target = opcodePC + int(offset)
			}
		}
		frame.PC = target

	// --- Return ---
	case classfile.OpIreturn, classfile.OpLreturn, classfile.OpFreturn, classfile.OpDreturn, classfile.OpAreturn:
		return frame.Pop(), true, nil

	case classfile.OpReturn:
		return Value{}, true, nil

	// --- Method invocation and field access ---
	case classfile.OpGetstatic:
		return vm.executeGetstatic(frame)

	case classfile.OpPutstatic:
		return vm.executePutstatic(frame)

	case classfile.OpGetfield:
		return vm.executeGetfield(frame)

	case classfile.OpPutfield:
		return vm.executePutfield(frame)

	case classfile.OpInvokevirtual:
		index := frame.ReadU16()
		methodRef, err := classfile.ResolveMethodref(frame.Class.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("invokevirtual: %w", err)
		}
		return vm.executeInvokevirtual(frame, "invokevirtual", methodRef)

	case classfile.OpInvokeinterface:
		index := frame.ReadU16()
		frame.ReadU8() // count
		frame.ReadU8() // 0
		methodRef, err := classfile.ResolveInterfaceMethodref(frame.Class.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("invokeinterface: %w", err)
		}
		return vm.executeInvokevirtual(frame, "invokeinterface", methodRef)

	case classfile.OpInvokespecial:
		return vm.executeInvokespecial(frame)

	case classfile.OpInvokestatic:
		return vm.executeInvokestatic(frame)

	case classfile.OpNew:
		return vm.executeNew(frame)

	case classfile.OpNewarray:
		atype := frame.ReadU8()
		desc, ok := newarrayTypes[atype]
		if !ok {
			return Value{}, false, fmt.Errorf("newarray: invalid type %d", atype)
		}
		return vm.newArray(frame, desc)

	case classfile.OpAnewarray:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Class.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("anewarray: %w", err)
		}
		return vm.newArray(frame, classfile.DescriptorOf(className))

	case classfile.OpArraylength:
		arrRef := frame.Pop()
		if arrRef.IsNull() {
			return Value{}, false, vm.throw("java/lang/NullPointerException", nil, "arraylength")
		}
		arr, ok := arrRef.Ref.(*JArray)
		if !ok {
			return Value{}, false, fmt.Errorf("arraylength: reference is not an array")
		}
		frame.Push(IntValue(int32(len(arr.Elements))))

	case classfile.OpAthrow:
		excRef := frame.Pop()
		if excRef.IsNull() {
			return Value{}, false, vm.throw("java/lang/NullPointerException", nil, "athrow")
		}
		if obj, ok := excRef.Ref.(*JObject); ok {
			return Value{}, false, &JavaException{Object: obj}
		}
		return Value{}, false, fmt.Errorf("athrow: non-object on stack")

	case classfile.OpCheckcast:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Class.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("checkcast: %w", err)
		}
		val := frame.Peek()
		if !val.IsNull() && !vm.isAssignable(vm.classOf(val.Ref), className) {
			return Value{}, false, vm.throw("java/lang/ClassCastException", nil, "%v cannot be cast to %s", vm.classOf(val.Ref), className)
		}

	case classfile.OpInstanceof:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Class.ConstantPool, index)
		if err != nil {
			return Value{}, false, fmt.Errorf("instanceof: %w", err)
		}
		ref := frame.Pop()
		frame.Push(boolValue(!ref.IsNull() && vm.isAssignable(vm.classOf(ref.Ref), className)))

	case classfile.OpMonitorenter, classfile.OpMonitorexit:
		if frame.Pop().IsNull() {
			return Value{}, false, vm.throw("java/lang/NullPointerException", nil, "monitor")
		}

	default:
		return Value{}, false, fmt.Errorf("unknown opcode: 0x%02X at PC=%d", opcode, frame.PC-1)
	}

	return Value{}, false, nil
}

// newarrayTypes maps newarray atype codes to element descriptors.
var newarrayTypes = map[uint8]string{
	4:  "Z",
	5:  "C",
	6:  "F",
	7:  "D",
	8:  "B",
	9:  "S",
	10: "I",
	11: "J",
}

func (vm *VM) newArray(frame *Frame, elemDesc string) (Value, bool, error) {
	count := frame.Pop().Int
	if count < 0 {
		return Value{}, false, vm.throw("java/lang/NegativeArraySizeException", nil, "%d", count)
	}
	class, err := vm.LoadClass("[" + elemDesc)
	if err != nil {
		return Value{}, false, fmt.Errorf("newarray: %w", err)
	}
	elements := make([]Value, count)
	zero := zeroValue(elemDesc)
	for i := range elements {
		elements[i] = zero
	}
	frame.Push(RefValue(&JArray{Class: class, Elements: elements}))
	return Value{}, false, nil
}

// arrayRef checks an array access.
func (vm *VM) arrayRef(ref Value, index int32) (*JArray, error) {
	if ref.IsNull() {
		return nil, vm.throw("java/lang/NullPointerException", nil, "array access")
	}
	arr, ok := ref.Ref.(*JArray)
	if !ok {
		return nil, fmt.Errorf("array access: reference is not an array")
	}
	if index < 0 || int(index) >= len(arr.Elements) {
		return nil, vm.throw("java/lang/ArrayIndexOutOfBoundsException", nil, "Index %d out of bounds for length %d", index, len(arr.Elements))
	}
	return arr, nil
}

// executeWide handles the wide prefix for loads, stores and iinc.
func (vm *VM) executeWide(frame *Frame) (Value, bool, error) {
	op := frame.ReadU8()
	index := int(frame.ReadU16())
	switch op {
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		frame.Push(frame.GetLocal(index))
	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		frame.SetLocal(index, frame.Pop())
	case classfile.OpIinc:
		constVal := frame.ReadI16()
		local := frame.GetLocal(index)
		frame.SetLocal(index, IntValue(local.Int+int32(constVal)))
	default:
		return Value{}, false, fmt.Errorf("wide: unsupported opcode 0x%02X", op)
	}
	return Value{}, false, nil
}

// f2i converts a floating value to an integer with Java's saturation rules.
func f2i(f float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= float64(lo):
		return lo
	case f >= float64(hi):
		return hi
	default:
		return int64(f)
	}
}

// compare yields the lcmp/fcmp/dcmp result; nan is returned when either
// operand is NaN.
func compare(a, b float64, gt, lt bool, nan int32) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return nan
	case gt:
		return 1
	case lt:
		return -1
	default:
		return 0
	}
}

// executeBranchUnary handles unary branch instructions (ifeq, ifne, etc.)
func (vm *VM) executeBranchUnary(frame *Frame, cond func(int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	val := frame.Pop()
	if cond(val.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}

// executeBranchBinary handles binary branch instructions (if_icmpeq, etc.)
func (vm *VM) executeBranchBinary(frame *Frame, cond func(int32, int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	v2 := frame.Pop()
	v1 := frame.Pop()
	if cond(v1.Int, v2.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}
