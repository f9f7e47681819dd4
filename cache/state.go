package cache

// Kind is the buffer's state-machine bucket (spec.md §4.2). The spec's
// "scalar state plus a delta ordinal" design choice (§9) is implemented
// as Kind plus a Delta field rather than as TUX3_MAX_DELTA+2 distinct
// enum values, since the delta slot count is a runtime config value
// (tuxconf.Config.MaxDelta), not a compile-time constant.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindClean
	KindDirty
	KindFreed
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindClean:
		return "clean"
	case KindDirty:
		return "dirty"
	case KindFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// State is a buffer's full scalar state: which bucket it is in, and -
// only meaningful when Kind is KindDirty - which delta slot it is dirty
// for. buffer_can_modify(b, slot) == (state.Kind == KindDirty &&
// state.Delta == slot), where callers pass a delta slot already reduced
// mod D; State itself does not know D.
type State struct {
	Kind  Kind
	Delta uint32
}

func Empty() State             { return State{Kind: KindEmpty} }
func Clean() State             { return State{Kind: KindClean} }
func Dirty(delta uint32) State { return State{Kind: KindDirty, Delta: delta} }
func Freed() State             { return State{Kind: KindFreed} }

// CanModify implements spec.md §4.2's buffer_can_modify: the buffer is
// mutable in place only when it is already dirty for exactly this delta
// slot.
func (s State) CanModify(delta uint32) bool {
	return s.Kind == KindDirty && s.Delta == delta
}
