package kint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/llir/llvm/ir/types"
)

// DataLayout describes the target's type sizes and alignments as given by
// a module's "target datalayout" string. Sizes are in bits and alignments
// in bytes unless noted.
type DataLayout struct {
	pointerSize  uint
	pointerAlign uint
	aggAlign     uint
	intAligns    map[uint]uint
	floatAligns  map[uint]uint
}

// NewDataLayout returns the default layout: 64-bit pointers and LLVM's
// default integer and float alignments.
func NewDataLayout() *DataLayout {
	return &DataLayout{
		pointerSize:  64,
		pointerAlign: 8,
		aggAlign:     1,
		intAligns:    map[uint]uint{1: 1, 8: 1, 16: 2, 32: 4, 64: 4},
		floatAligns:  map[uint]uint{16: 2, 32: 4, 64: 8, 128: 16},
	}
}

// ParseDataLayout parses an LLVM data layout string. Specifications that do
// not affect sizes or alignments are ignored.
func ParseDataLayout(s string) (*DataLayout, error) {
	dl := NewDataLayout()
	if s == "" {
		return dl, nil
	}

	for _, spec := range strings.Split(s, "-") {
		if spec == "" {
			continue
		}
		fields := strings.Split(spec, ":")
		head := fields[0]

		switch {
		case head == "p" || head == "p0":
			if len(fields) < 3 {
				return nil, fmt.Errorf("invalid pointer spec: %q", spec)
			}
			size, err := parseBits(fields[1])
			if err != nil {
				return nil, err
			}
			align, err := parseBits(fields[2])
			if err != nil {
				return nil, err
			}
			dl.pointerSize, dl.pointerAlign = size, bytesOf(align)

		case head[0] == 'i' || head[0] == 'f':
			if len(fields) < 2 {
				return nil, fmt.Errorf("invalid alignment spec: %q", spec)
			}
			size, err := parseBits(head[1:])
			if err != nil {
				return nil, err
			}
			align, err := parseBits(fields[1])
			if err != nil {
				return nil, err
			}
			if head[0] == 'i' {
				dl.intAligns[size] = bytesOf(align)
			} else {
				dl.floatAligns[size] = bytesOf(align)
			}

		case head == "a" || head == "a0":
			if len(fields) < 2 {
				return nil, fmt.Errorf("invalid aggregate spec: %q", spec)
			}
			align, err := parseBits(fields[1])
			if err != nil {
				return nil, err
			}
			dl.aggAlign = bytesOf(align)
		}
	}
	return dl, nil
}

func parseBits(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid data layout number %q: %w", s, err)
	}
	return uint(n), nil
}

// bytesOf converts an alignment in bits to bytes, with a minimum of one.
func bytesOf(bits uint) uint {
	if bits < 8 {
		return 1
	}
	return bits / 8
}

// PointerSize returns the pointer width in bits.
func (dl *DataLayout) PointerSize() uint { return dl.pointerSize }

// TypeSizeInBits returns the number of bits needed to hold a value of type t.
// Types without a size, such as void or labels, return zero.
func (dl *DataLayout) TypeSizeInBits(t types.Type) uint {
	switch t := t.(type) {
	case *types.IntType:
		return uint(t.BitSize)
	case *types.PointerType:
		return dl.pointerSize
	case *types.FloatType:
		return floatSize(t.Kind)
	case *types.ArrayType:
		return uint(t.Len) * dl.TypeAllocSize(t.ElemType) * 8
	case *types.VectorType:
		return uint(t.Len) * dl.TypeSizeInBits(t.ElemType)
	case *types.StructType:
		return dl.structLayout(t).size * 8
	default:
		return 0
	}
}

// TypeStoreSize returns the number of bytes written when storing a value of type t.
func (dl *DataLayout) TypeStoreSize(t types.Type) uint {
	return (dl.TypeSizeInBits(t) + 7) / 8
}

// TypeAllocSize returns the distance in bytes between successive elements
// of type t in an array, including padding.
func (dl *DataLayout) TypeAllocSize(t types.Type) uint {
	return alignTo(dl.TypeStoreSize(t), dl.ABIAlignment(t))
}

// ABIAlignment returns the ABI alignment of t in bytes.
func (dl *DataLayout) ABIAlignment(t types.Type) uint {
	switch t := t.(type) {
	case *types.IntType:
		return lookupAlign(dl.intAligns, uint(t.BitSize))
	case *types.PointerType:
		return dl.pointerAlign
	case *types.FloatType:
		size := floatSize(t.Kind)
		if a, ok := dl.floatAligns[size]; ok {
			return a
		}
		return nextPowerOfTwo((size + 7) / 8)
	case *types.ArrayType:
		return dl.ABIAlignment(t.ElemType)
	case *types.VectorType:
		return nextPowerOfTwo(dl.TypeStoreSize(t))
	case *types.StructType:
		return dl.structLayout(t).align
	default:
		return 1
	}
}

// StructOffset returns the byte offset of field i within t.
func (dl *DataLayout) StructOffset(t *types.StructType, i int) uint {
	layout := dl.structLayout(t)
	assert(i >= 0 && i < len(layout.offsets), "struct field out of range: %d of %d", i, len(layout.offsets))
	return layout.offsets[i]
}

// IsNoopCast returns true if converting between from and to does not
// change any bits, as for a ptrtoint between same-sized types.
func (dl *DataLayout) IsNoopCast(from, to types.Type) bool {
	return dl.TypeSizeInBits(from) == dl.TypeSizeInBits(to)
}

type structLayout struct {
	offsets []uint
	size    uint
	align   uint
}

func (dl *DataLayout) structLayout(t *types.StructType) structLayout {
	layout := structLayout{align: 1}
	if t.Opaque {
		return layout
	}
	if !t.Packed {
		layout.align = dl.aggAlign
	}

	var offset uint
	for _, field := range t.Fields {
		align := uint(1)
		if !t.Packed {
			align = dl.ABIAlignment(field)
		}
		if align > layout.align {
			layout.align = align
		}
		offset = alignTo(offset, align)
		layout.offsets = append(layout.offsets, offset)
		offset += dl.TypeAllocSize(field)
	}
	layout.size = alignTo(offset, layout.align)
	return layout
}

// lookupAlign returns the alignment of the smallest entry at least as wide
// as size, or the widest entry if none is.
func lookupAlign(m map[uint]uint, size uint) uint {
	if a, ok := m[size]; ok {
		return a
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	for _, k := range keys {
		if uint(k) > size {
			return m[uint(k)]
		}
	}
	if len(keys) == 0 {
		return 1
	}
	return m[uint(keys[len(keys)-1])]
}

func floatSize(kind types.FloatKind) uint {
	switch kind {
	case types.FloatKindHalf:
		return 16
	case types.FloatKindFloat:
		return 32
	case types.FloatKindDouble:
		return 64
	case types.FloatKindX86_FP80:
		return 80
	default:
		return 128
	}
}

func alignTo(n, align uint) uint {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

func nextPowerOfTwo(n uint) uint {
	p := uint(1)
	for p < n {
		p <<= 1
	}
	return p
}
