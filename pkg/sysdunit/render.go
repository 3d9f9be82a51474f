package sysdunit

import (
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

// File accumulates unit-file options section by section and renders
// them through go-systemd's serializer, so quoting and section layout
// match what systemd itself parses.
type File struct {
	opts []*unit.UnitOption
}

func NewFile() *File { return &File{} }

// Set appends one key=value line under the given section. Repeated
// names are legal and preserved in order.
func (f *File) Set(section, name, value string) *File {
	f.opts = append(f.opts, unit.NewUnitOption(section, name, value))
	return f
}

// AddDirectives appends compiled directives under the given section.
func (f *File) AddDirectives(section string, dirs Directives) *File {
	for _, d := range dirs {
		f.Set(section, d.Name, d.Value)
	}
	return f
}

// Render produces the unit-file text.
func (f *File) Render() string {
	r := unit.Serialize(f.opts)
	b, err := io.ReadAll(r)
	if err != nil {
		// Serialize reads from an in-memory buffer; this cannot fail.
		return ""
	}
	return string(b)
}

// Unit name helpers. systemd derives unit type from the suffix.

func ServiceUnit(name string) string { return name + ".service" }
func TimerUnit(name string) string   { return name + ".timer" }
func SliceUnit(name string) string   { return sliceName(name) + ".slice" }

// sliceName strips characters systemd rejects in slice names.
func sliceName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == '.':
			// dashes and dots delimit slice hierarchy; flatten them
			b.WriteRune('_')
		}
	}
	return b.String()
}
