// Package params decodes named integer parameters out of a shared weight
// buffer. Each parameter is either given by the caller or extracted from the
// buffer and coerced into its legal domain.
package params

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
)

var (
	ErrIllegalParameter = errors.New("params: illegal parameter")
	ErrDuplicateName    = errors.New("params: duplicate parameter name")
)

// Kind is the shape of a parameter's legal domain.
type Kind uint8

const (
	Bool Kind = iota
	Int
	Enum
)

var kindNames = [...]string{Bool: "bool", Int: "int", Enum: "enum"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Descriptor names a parameter and its legal domain. Descriptors are built
// once at package init by their owners and never modified.
type Descriptor struct {
	Name  string
	Kind  Kind
	Min   int
	Max   int
	Names []string // enum value names, index == value
}

// NewBool describes a {0,1} flag.
func NewBool(name string) Descriptor {
	return Descriptor{Name: name, Kind: Bool, Min: 0, Max: 1}
}

// NewInt describes an integer clamped to [min,max].
func NewInt(name string, min, max int) Descriptor {
	if min > max {
		panic(fmt.Sprintf("params: %s: min %d > max %d", name, min, max))
	}
	return Descriptor{Name: name, Kind: Int, Min: min, Max: max}
}

// NewEnum describes an index into a fixed ordered table of names.
func NewEnum(name string, names ...string) Descriptor {
	if len(names) == 0 {
		panic(fmt.Sprintf("params: %s: empty enum table", name))
	}
	return Descriptor{Name: name, Kind: Enum, Min: 0, Max: len(names) - 1, Names: names}
}

// Coerce maps an arbitrary raw buffer value into the legal domain: round half
// up, then clamp. NaN maps to Min.
func (d Descriptor) Coerce(raw float32) int {
	x := float64(raw)
	if math.IsNaN(x) {
		return d.Min
	}
	r := math.Floor(x + 0.5)
	if r <= float64(d.Min) {
		return d.Min
	}
	if r >= float64(d.Max) {
		return d.Max
	}
	return int(r)
}

// Validate reports whether v is a legal caller-supplied value.
func (d Descriptor) Validate(v int) error {
	if v < d.Min || v > d.Max {
		return &Error{Name: d.Name, Value: v, Err: ErrIllegalParameter,
			msg: fmt.Sprintf("outside [%d,%d]", d.Min, d.Max)}
	}
	return nil
}

// ValueName returns the enum name for v, or its decimal form.
func (d Descriptor) ValueName(v int) string {
	if d.Kind == Enum && v >= 0 && v < len(d.Names) {
		return d.Names[v]
	}
	if d.Kind == Bool {
		if v != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("%d", v)
}

// Parse reads a caller value written as an integer, a bool name or an enum
// name, and validates it.
func (d Descriptor) Parse(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		switch {
		case d.Kind == Bool && (s == "true" || s == "false"):
			v = 0
			if s == "true" {
				v = 1
			}
		case d.Kind == Enum && slices.Contains(d.Names, s):
			v = slices.Index(d.Names, s)
		default:
			return 0, &Error{Name: d.Name, Err: ErrIllegalParameter, msg: fmt.Sprintf("cannot parse %q", s)}
		}
	}
	if err := d.Validate(v); err != nil {
		return 0, err
	}
	return v, nil
}

// Error describes a parameter that could not be resolved.
type Error struct {
	Name  string
	Value int
	Err   error
	msg   string
}

func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Name)
	}
	return fmt.Sprintf("%v: %s=%d %s", e.Err, e.Name, e.Value, e.msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}
