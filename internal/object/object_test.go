package object

import "testing"

func TestStringHashKeyCaching(t *testing.T) {
	s := &String{Value: "hello"}
	k1 := s.HashKey()
	k2 := s.HashKey()
	if k1 != k2 {
		t.Fatalf("hash key not stable across calls: %v != %v", k1, k2)
	}
	if !s.hashed {
		t.Fatal("expected hashed flag to be set after first HashKey call")
	}
}

func TestStringHashKeyDistinctValues(t *testing.T) {
	a := &String{Value: "foo"}
	b := &String{Value: "bar"}
	if a.HashKey() == b.HashKey() {
		t.Fatal("distinct strings hashed identically")
	}
}

func TestMapPreservesInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set(&String{Value: "z"}, &Number{Value: 1})
	m.Set(&String{Value: "a"}, &Number{Value: 2})
	m.Set(&String{Value: "m"}, &Number{Value: 3})

	var keys []string
	m.Each(func(k, _ Object) {
		keys = append(keys, k.(*String).Value)
	})

	want := []string{"z", "a", "m"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("order[%d] = %q, want %q", i, keys[i], k)
		}
	}
}

func TestMapSetOverwritesWithoutReordering(t *testing.T) {
	m := NewMap()
	m.Set(&String{Value: "a"}, &Number{Value: 1})
	m.Set(&String{Value: "b"}, &Number{Value: 2})
	m.Set(&String{Value: "a"}, &Number{Value: 99})

	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2", m.Len())
	}
	v, ok := m.Get(&String{Value: "a"})
	if !ok || v.(*Number).Value != 99 {
		t.Fatalf("Get(a) = %v, %v, want 99, true", v, ok)
	}
}

func TestArrayIsTraceable(t *testing.T) {
	arr := &Array{Elements: []Object{&Number{Value: 1}, &String{Value: "x"}}}
	var tr Traceable = arr
	if len(tr.Children()) != 2 {
		t.Fatalf("expected 2 children, got %d", len(tr.Children()))
	}
}

func TestNumberNotTraceable(t *testing.T) {
	var obj Object = &Number{Value: 1}
	if _, ok := obj.(Traceable); ok {
		t.Fatal("Number must not be Traceable: it is an immediate value, not heap-backed")
	}
}

func TestClosureChildrenIncludesFreeVars(t *testing.T) {
	fn := &ScriptFunction{Name: "f"}
	c := &Closure{Fn: fn, Free: []Object{&Number{Value: 1}, &Number{Value: 2}}}
	if len(c.Children()) != 3 {
		t.Fatalf("expected 3 children (fn + 2 free), got %d", len(c.Children()))
	}
}
