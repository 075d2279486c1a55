package params

import (
	"fmt"
	"slices"
	"sort"

	"github.com/samcharles93/blockwise/internal/weights"
)

// Overrides holds caller-supplied values by parameter name. A name that is
// absent is extracted from the buffer.
type Overrides map[string]int

// Decoder resolves an ordered list of parameters in one pass.
// The descriptor order is the buffer layout order.
type Decoder struct {
	descs []Descriptor
	index map[string]int
}

// NewDecoder validates that names are unique.
func NewDecoder(descs ...Descriptor) (*Decoder, error) {
	d := &Decoder{
		descs: slices.Clone(descs),
		index: make(map[string]int, len(descs)),
	}
	for i, desc := range descs {
		if _, dup := d.index[desc.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, desc.Name)
		}
		d.index[desc.Name] = i
	}
	return d, nil
}

// MustDecoder is NewDecoder for package-level tables.
func MustDecoder(descs ...Descriptor) *Decoder {
	d, err := NewDecoder(descs...)
	if err != nil {
		panic(err)
	}
	return d
}

// Descriptors returns a copy of the ordered descriptor list.
func (d *Decoder) Descriptors() []Descriptor {
	return slices.Clone(d.descs)
}

// Descriptor looks up a descriptor by name.
func (d *Decoder) Descriptor(name string) (Descriptor, bool) {
	i, ok := d.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.descs[i], true
}

// Owns reports whether name belongs to this decoder.
func (d *Decoder) Owns(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Decode resolves every parameter starting at cur. Overrides whose names this
// decoder does not own are ignored, so one Overrides map can be shared by
// several decoders; use CheckOverrides to reject unknown names up front.
//
// On failure the zero Set and the unadvanced cursor are returned.
func (d *Decoder) Decode(cur weights.Cursor, overrides Overrides) (Set, weights.Cursor, error) {
	start := cur
	set := Set{
		descs:           d.descs,
		index:           d.index,
		values:          make([]int, len(d.descs)),
		extracted:       make([]bool, len(d.descs)),
		byteOffsetBegin: cur.Offset(),
	}
	for i, desc := range d.descs {
		if v, ok := overrides[desc.Name]; ok {
			if err := desc.Validate(v); err != nil {
				return Set{}, start, err
			}
			set.values[i] = v
			continue
		}
		raw, next, err := cur.Scalar()
		if err != nil {
			return Set{}, start, fmt.Errorf("params: extract %s at byte %d: %w", desc.Name, cur.Offset(), err)
		}
		set.values[i] = desc.Coerce(raw)
		set.extracted[i] = true
		cur = next
	}
	set.byteOffsetEnd = cur.Offset()
	return set, cur, nil
}

// CheckOverrides fails on override names that none of the decoders own.
func CheckOverrides(overrides Overrides, decoders ...*Decoder) error {
	var unknown []string
	for name := range overrides {
		owned := false
		for _, d := range decoders {
			if d.Owns(name) {
				owned = true
				break
			}
		}
		if !owned {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &Error{Name: unknown[0], Value: overrides[unknown[0]], Err: ErrIllegalParameter,
		msg: fmt.Sprintf("unknown parameter (%d unknown)", len(unknown))}
}
