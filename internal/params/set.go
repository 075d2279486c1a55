package params

import (
	"fmt"
	"strings"
)

// Set is the immutable result of one decode pass.
type Set struct {
	descs           []Descriptor
	index           map[string]int
	values          []int
	extracted       []bool
	byteOffsetBegin int
	byteOffsetEnd   int
}

// Value returns the resolved value of name. Unknown names panic: they are
// programming errors, not data errors.
func (s Set) Value(name string) int {
	return s.values[s.mustIndex(name)]
}

// Bool reports whether name resolved to a non-zero value.
func (s Set) Bool(name string) bool {
	return s.Value(name) != 0
}

// Extracted reports whether name was read from the buffer rather than given.
func (s Set) Extracted(name string) bool {
	return s.extracted[s.mustIndex(name)]
}

// Len is the number of parameters in the set.
func (s Set) Len() int { return len(s.values) }

// Names lists parameter names in decode order.
func (s Set) Names() []string {
	out := make([]string, len(s.descs))
	for i, d := range s.descs {
		out[i] = d.Name
	}
	return out
}

func (s Set) ByteOffsetBegin() int { return s.byteOffsetBegin }
func (s Set) ByteOffsetEnd() int   { return s.byteOffsetEnd }

// Equal reports whether two sets resolved the same values from the same range.
func (s Set) Equal(o Set) bool {
	if len(s.values) != len(o.values) || s.byteOffsetBegin != o.byteOffsetBegin || s.byteOffsetEnd != o.byteOffsetEnd {
		return false
	}
	for i := range s.values {
		if s.descs[i].Name != o.descs[i].Name || s.values[i] != o.values[i] || s.extracted[i] != o.extracted[i] {
			return false
		}
	}
	return true
}

func (s Set) String() string {
	var b strings.Builder
	for i, d := range s.descs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", d.Name, d.ValueName(s.values[i]))
	}
	return b.String()
}

func (s Set) mustIndex(name string) int {
	i, ok := s.index[name]
	if !ok {
		panic(fmt.Sprintf("params: unknown parameter %q", name))
	}
	return i
}
