package mutator

import (
	"encoding/binary"
	"sort"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/random"
)

// AFL-inspired interesting values for fuzzing
var (
	// Interesting 8-bit values
	interesting8 = []int8{
		-128, // INT8_MIN
		-1,   // 0xFF
		0,    // Zero
		1,    // One
		16,   // Common boundary
		32,   // Space, common boundary
		64,   // Common boundary
		100,  // Common test value
		127,  // INT8_MAX
	}

	// Interesting 16-bit values
	interesting16 = []int16{
		-32768, // INT16_MIN
		-129,   // Just below INT8_MIN
		128,    // Just above INT8_MAX
		255,    // UINT8_MAX
		256,    // UINT8_MAX + 1
		512,    // Common boundary
		1000,   // Common test value
		1024,   // Common boundary (2^10)
		4096,   // Common boundary (2^12)
		32767,  // INT16_MAX
	}

	// Interesting 32-bit values
	interesting32 = []int32{
		-2147483648, // INT32_MIN
		-100663046,  // Large negative
		-32769,      // Just below INT16_MIN
		32768,       // Just above INT16_MAX
		65535,       // UINT16_MAX
		65536,       // UINT16_MAX + 1
		100663045,   // Large positive
		2147483647,  // INT32_MAX
	}
)

// plainNumber reports whether el is a mutable number not derived by a relation
func plainNumber(el *dom.Element) bool {
	return el.Kind() == dom.KindNumber && el.IsMutable() && el.Relation() == nil
}

// numberBounds returns the inclusive value range of a number element
func numberBounds(el *dom.Element) (lo, hi int64) {
	hi = el.MaxInt()
	if el.IsSigned() {
		lo = -hi - 1
	}
	return lo, hi
}

// wrapNumber encodes v truncated to the element's width, two's complement
func wrapNumber(el *dom.Element, v int64) []byte {
	buf := make([]byte, 8)
	n := el.Width() / 8
	if el.IsBigEndian() {
		binary.BigEndian.PutUint64(buf, uint64(v))
		return buf[8-n:]
	}
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf[:n]
}

// --- BitFlipMutator ---

// BitFlipMutator flips consecutive bits of a leaf value
type BitFlipMutator struct {
	flipBits int // Number of consecutive bits to flip (1, 2, or 4)
}

// NewBitFlipMutator creates a new BitFlipMutator
// flipBits specifies how many consecutive bits to flip (1, 2, or 4)
func NewBitFlipMutator(flipBits int) *BitFlipMutator {
	if flipBits != 1 && flipBits != 2 && flipBits != 4 {
		flipBits = 1 // default to single bit flip
	}
	return &BitFlipMutator{flipBits: flipBits}
}

// Name returns the mutator name
func (m *BitFlipMutator) Name() string {
	switch m.flipBits {
	case 2:
		return "bitflip/2"
	case 4:
		return "bitflip/4"
	default:
		return "bitflip/1"
	}
}

// Description returns the mutator description
func (m *BitFlipMutator) Description() string {
	return "AFL-style bit flipping mutation"
}

// AppliesTo accepts mutable strings, blobs and plain numbers with enough bits
func (m *BitFlipMutator) AppliesTo(el *dom.Element) bool {
	if !el.IsMutable() || el.IsContainer() || el.Relation() != nil {
		return false
	}
	return len(el.Raw())*8 >= m.flipBits
}

// Count returns the number of bit positions a flip can start at
func (m *BitFlipMutator) Count(el *dom.Element) int {
	bits := len(el.Raw()) * 8
	if bits < m.flipBits {
		return 0
	}
	return bits - m.flipBits + 1
}

// MutateAt flips flipBits bits starting at bit k, most significant bit first
func (m *BitFlipMutator) MutateAt(el *dom.Element, k int) (*Result, error) {
	if err := checkChoice(m, el, k); err != nil {
		return nil, err
	}

	result := el.Raw()
	for i := 0; i < m.flipBits; i++ {
		bitPos := k + i
		byteIdx := bitPos / 8
		bitIdx := bitPos % 8
		result[byteIdx] ^= 1 << (7 - bitIdx)
	}
	return newResult(m, el, k, result), nil
}

// Mutate flips bits at a random position
func (m *BitFlipMutator) Mutate(el *dom.Element, g *random.Generator) (*Result, error) {
	return pick(m, el, g)
}

// --- ArithmeticMutator ---

// ArithmeticMutator adds or subtracts small deltas from plain numbers,
// wrapping at the element width
type ArithmeticMutator struct {
	maxDelta int // Maximum delta for addition/subtraction
}

// NewArithmeticMutator creates a new ArithmeticMutator
// maxDelta specifies the maximum value to add/subtract (default: 35)
func NewArithmeticMutator(maxDelta int) *ArithmeticMutator {
	if maxDelta <= 0 {
		maxDelta = 35 // AFL default ARITH_MAX
	}
	return &ArithmeticMutator{maxDelta: maxDelta}
}

// Name returns the mutator name
func (m *ArithmeticMutator) Name() string {
	return "arith"
}

// Description returns the mutator description
func (m *ArithmeticMutator) Description() string {
	return "AFL-style arithmetic mutation"
}

// AppliesTo accepts plain numbers
func (m *ArithmeticMutator) AppliesTo(el *dom.Element) bool {
	return plainNumber(el)
}

// Count returns 2*maxDelta: +1..+maxDelta then -1..-maxDelta
func (m *ArithmeticMutator) Count(el *dom.Element) int {
	return 2 * m.maxDelta
}

// MutateAt applies the k-th delta
func (m *ArithmeticMutator) MutateAt(el *dom.Element, k int) (*Result, error) {
	if err := checkChoice(m, el, k); err != nil {
		return nil, err
	}

	v, err := el.Int()
	if err != nil {
		return nil, err
	}
	delta := int64(k + 1)
	if k >= m.maxDelta {
		delta = -int64(k - m.maxDelta + 1)
	}
	return newResult(m, el, k, wrapNumber(el, v+delta)), nil
}

// Mutate applies a random delta
func (m *ArithmeticMutator) Mutate(el *dom.Element, g *random.Generator) (*Result, error) {
	return pick(m, el, g)
}

// --- NumericalEdgeCasesMutator ---

// NumericalEdgeCasesMutator replaces plain numbers with interesting boundary
// values that fit the element's width and signedness
type NumericalEdgeCasesMutator struct{}

// NewNumericalEdgeCasesMutator creates a new NumericalEdgeCasesMutator
func NewNumericalEdgeCasesMutator() *NumericalEdgeCasesMutator {
	return &NumericalEdgeCasesMutator{}
}

// Name returns the mutator name
func (m *NumericalEdgeCasesMutator) Name() string {
	return "NumericalEdgeCasesMutator"
}

// Description returns the mutator description
func (m *NumericalEdgeCasesMutator) Description() string {
	return "Replace numbers with AFL interesting values and width limits"
}

// AppliesTo accepts plain numbers
func (m *NumericalEdgeCasesMutator) AppliesTo(el *dom.Element) bool {
	return plainNumber(el)
}

// Count returns the number of candidate values for el
func (m *NumericalEdgeCasesMutator) Count(el *dom.Element) int {
	return len(m.candidates(el))
}

// MutateAt stores the k-th candidate value
func (m *NumericalEdgeCasesMutator) MutateAt(el *dom.Element, k int) (*Result, error) {
	if err := checkChoice(m, el, k); err != nil {
		return nil, err
	}
	raw, err := el.Encode(m.candidates(el)[k])
	if err != nil {
		return nil, err
	}
	return newResult(m, el, k, raw), nil
}

// Mutate stores a random candidate value
func (m *NumericalEdgeCasesMutator) Mutate(el *dom.Element, g *random.Generator) (*Result, error) {
	return pick(m, el, g)
}

// candidates returns the deduplicated, ascending candidate list for el
func (m *NumericalEdgeCasesMutator) candidates(el *dom.Element) []int64 {
	lo, hi := numberBounds(el)

	values := []int64{lo, hi, lo + 1, hi - 1}
	for _, v := range interesting8 {
		values = append(values, int64(v))
	}
	for _, v := range interesting16 {
		values = append(values, int64(v))
	}
	for _, v := range interesting32 {
		values = append(values, int64(v))
	}

	return uniqueInRange(values, lo, hi)
}

// uniqueInRange keeps values within [lo, hi], sorted ascending without duplicates
func uniqueInRange(values []int64, lo, hi int64) []int64 {
	seen := make(map[int64]bool, len(values))
	out := make([]int64, 0, len(values))
	for _, v := range values {
		if v < lo || v > hi || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Interesting8 returns the list of interesting 8-bit values
func Interesting8() []int8 {
	return interesting8
}

// Interesting16 returns the list of interesting 16-bit values
func Interesting16() []int16 {
	return interesting16
}

// Interesting32 returns the list of interesting 32-bit values
func Interesting32() []int32 {
	return interesting32
}
