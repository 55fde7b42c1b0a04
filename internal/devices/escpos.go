package devices

import "fmt"

// ESC/POS control bytes
const (
	ESC = 0x1B
	DLE = 0x10
	DC4 = 0x14

	// 'p' selects the "generate pulse" function.
	escPulse = 0x70
)

// Drawer connector pins addressed by ESC p.
const (
	DrawerPin2 byte = 0x00
	DrawerPin5 byte = 0x01
)

// CommandVariant is one drawer-kick frame as understood by some family of
// printer or drawer-interface firmware.
type CommandVariant struct {
	Name  string
	frame []byte
}

// Bytes returns a copy of the frame so callers can never mutate the table.
func (c CommandVariant) Bytes() []byte {
	out := make([]byte, len(c.frame))
	copy(out, c.frame)
	return out
}

// Len returns the frame length in bytes.
func (c CommandVariant) Len() int {
	return len(c.frame)
}

func (c CommandVariant) String() string {
	return fmt.Sprintf("%s % X", c.Name, c.frame)
}

// NewCommandVariant builds a variant from a raw frame. The frame is copied.
func NewCommandVariant(name string, frame []byte) CommandVariant {
	return CommandVariant{Name: name, frame: append([]byte(nil), frame...)}
}

// pulse builds ESC p m t1 t2. t1/t2 are on/off times in 2 ms units.
func pulse(name string, pin, on, off byte) CommandVariant {
	return CommandVariant{Name: name, frame: []byte{ESC, escPulse, pin, on, off}}
}

// CommandTable is an immutable, ordered list of drawer-kick frames.
type CommandTable struct {
	variants []CommandVariant
}

// NewCommandTable copies the given variants into a new table.
func NewCommandTable(variants ...CommandVariant) *CommandTable {
	v := make([]CommandVariant, len(variants))
	copy(v, variants)
	return &CommandTable{variants: v}
}

// DefaultCommandTable returns the frames tried against unknown hardware, most
// widely supported first.
func DefaultCommandTable() *CommandTable {
	return NewCommandTable(
		pulse("esc-p pin2 50ms/500ms", DrawerPin2, 0x19, 0xFA),
		pulse("esc-p pin5 50ms/500ms", DrawerPin5, 0x19, 0xFA),
		pulse("esc-p pin2 100ms/100ms", DrawerPin2, 0x32, 0x32),
		pulse("esc-p pin2 200ms/200ms", DrawerPin2, 0x64, 0x64),
		// Real-time pulse (DLE DC4 n m t), for firmware that ignores ESC p
		// while the print buffer is busy.
		CommandVariant{Name: "dle-dc4 pulse", frame: []byte{DLE, DC4, 0x01, 0x00, 0x01}},
	)
}

// Len returns the number of variants.
func (t *CommandTable) Len() int {
	return len(t.variants)
}

// At returns the variant at a zero-based index.
func (t *CommandTable) At(i int) (CommandVariant, bool) {
	if i < 0 || i >= len(t.variants) {
		return CommandVariant{}, false
	}
	return t.variants[i], true
}

// First returns the highest-priority variant.
func (t *CommandTable) First() CommandVariant {
	return t.variants[0]
}

// Variants returns a copy of the ordered variants.
func (t *CommandTable) Variants() []CommandVariant {
	out := make([]CommandVariant, len(t.variants))
	copy(out, t.variants)
	return out
}
