package force

import "sort"

// Step is the magnitude of a single key press in N or Nm.
const Step = 20.0

// ExitKey is the byte a raw terminal delivers for Ctrl+C.
const ExitKey rune = 0x03

// BindingTable maps an input key to the deltas it applies.
type BindingTable map[rune]Deltas

// DefaultBindings returns the numeric keypad layout:
// 8/2 surge, 4/6 sway, q/w yaw.
func DefaultBindings() BindingTable {
	return BindingTable{
		'8': {XPos: Step},
		'2': {XNeg: -Step},
		'4': {YNeg: -Step},
		'6': {YPos: Step},
		'q': {NNeg: -Step},
		'w': {NPos: Step},
	}
}

// KeyMapper resolves keys against a fixed binding table.
type KeyMapper struct {
	bindings BindingTable
}

// NewKeyMapper creates a mapper over a private copy of bindings.
func NewKeyMapper(bindings BindingTable) *KeyMapper {
	own := make(BindingTable, len(bindings))
	for k, d := range bindings {
		own[k] = d
	}
	return &KeyMapper{bindings: own}
}

// Resolve returns the deltas bound to key. The second result is false
// for unbound keys, which is not an error.
func (m *KeyMapper) Resolve(key rune) (Deltas, bool) {
	d, ok := m.bindings[key]
	return d, ok
}

// Keys returns the bound keys in sorted order.
func (m *KeyMapper) Keys() []rune {
	keys := make([]rune, 0, len(m.bindings))
	for k := range m.bindings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
