package code

import "testing"

func TestMake(t *testing.T) {
	tests := []struct {
		op       Opcode
		operands []int
		want     Instructions
	}{
		{OpConstant, []int{65534}, Instructions{uint16(OpConstant), 65534}},
		{OpPop, []int{}, Instructions{uint16(OpPop)}},
		{OpMkFunction, []int{3, 2}, Instructions{uint16(OpMkFunction), 3, 2}},
	}

	for _, tt := range tests {
		got := Make(tt.op, tt.operands...)
		if len(got) != len(tt.want) {
			t.Fatalf("instruction length: got %d, want %d", len(got), len(tt.want))
		}
		for i, w := range tt.want {
			if got[i] != w {
				t.Errorf("word %d: got %d, want %d", i, got[i], w)
			}
		}
	}
}

func TestReadOperands(t *testing.T) {
	ins := Make(OpMkFunction, 3, 2)
	def, err := Lookup(OpMkFunction)
	if err != nil {
		t.Fatal(err)
	}
	operands, read := ReadOperands(def, ins[1:])
	if read != 2 {
		t.Fatalf("read: got %d, want 2", read)
	}
	if operands[0] != 3 || operands[1] != 2 {
		t.Fatalf("operands: got %v, want [3 2]", operands)
	}
}

func TestPackNumberRoundTrips(t *testing.T) {
	values := []float64{0, 1, -1, 3.14159, 1e300, -1e-300}
	for _, v := range values {
		words := PackNumber(v)
		got := UnpackNumber(words)
		if got != v {
			t.Errorf("PackNumber/UnpackNumber(%v): got %v", v, got)
		}
	}
}

func TestInstructionsString(t *testing.T) {
	ins := Instructions{}
	ins = append(ins, Make(OpConstant, 1)...)
	ins = append(ins, Make(OpAdd)...)
	ins = append(ins, Make(OpPop)...)

	out := ins.String()
	if out == "" {
		t.Fatal("expected non-empty disassembly")
	}
}
