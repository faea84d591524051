package object

// Builtins lists the native functions the core itself must supply,
// independent of whatever the host installs. Per spec.md §1 Non-goals,
// everything else a stdlib would offer (Math, File/Dir, string/array
// pseudo-methods) is host territory; tostring is in core because template
// string lowering (spec.md §4.2) compiles `${expr}` into a call to it.
var Builtins = []*NativeFunction{
	{Name: "tostring", Fn: builtinToString},
}

// GetBuiltinByName looks up a core builtin by name, or reports none found.
func GetBuiltinByName(name string) (*NativeFunction, bool) {
	for _, b := range Builtins {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

func builtinToString(args []Object) Object {
	if len(args) != 1 {
		return NullVal
	}
	if s, ok := args[0].(*String); ok {
		return s
	}
	return &String{Value: args[0].Inspect()}
}
