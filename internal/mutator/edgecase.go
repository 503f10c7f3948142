package mutator

import (
	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/random"
)

// numericEdges are the boundaries size candidates are generated around
var numericEdges = []int64{
	0,
	0x7f,
	0xff,
	0x7fff,
	0xffff,
	0x7fffffff,
	0xffffffff,
}

// sizeSpread is how far candidates reach on each side of an edge
const sizeSpread = 50

// --- SizedNumericalEdgeCasesMutator ---

// SizedNumericalEdgeCasesMutator rewrites the value of a size relation
// element to a length near a numeric boundary and suppresses the relation,
// so the declared size no longer matches the target it describes.
type SizedNumericalEdgeCasesMutator struct{}

// NewSizedNumericalEdgeCasesMutator creates a new SizedNumericalEdgeCasesMutator
func NewSizedNumericalEdgeCasesMutator() *SizedNumericalEdgeCasesMutator {
	return &SizedNumericalEdgeCasesMutator{}
}

// Name returns the mutator name
func (m *SizedNumericalEdgeCasesMutator) Name() string {
	return "SizedNumericalEdgeCasesMutator"
}

// Description returns the mutator description
func (m *SizedNumericalEdgeCasesMutator) Description() string {
	return "Set size relations to +/- 50 around numerical edge cases without updating the target"
}

// AppliesTo accepts mutable elements holding a size relation
func (m *SizedNumericalEdgeCasesMutator) AppliesTo(el *dom.Element) bool {
	r := el.Relation()
	return el.IsMutable() && r != nil && r.Kind() == dom.RelationSize
}

// Count returns the number of candidate sizes for el
func (m *SizedNumericalEdgeCasesMutator) Count(el *dom.Element) int {
	return len(sizeCandidates(el))
}

// MutateAt stores the k-th candidate size
func (m *SizedNumericalEdgeCasesMutator) MutateAt(el *dom.Element, k int) (*Result, error) {
	if err := checkChoice(m, el, k); err != nil {
		return nil, err
	}
	raw, err := el.Encode(sizeCandidates(el)[k])
	if err != nil {
		return nil, err
	}

	result := newResult(m, el, k, raw)
	result.SuppressRelation = true
	return result, nil
}

// Mutate stores a random candidate size
func (m *SizedNumericalEdgeCasesMutator) Mutate(el *dom.Element, g *random.Generator) (*Result, error) {
	return pick(m, el, g)
}

// sizeCandidates lists every non-negative value within sizeSpread of an edge
// that the element can hold, ascending
func sizeCandidates(el *dom.Element) []int64 {
	hi := el.MaxInt()
	var values []int64
	for _, edge := range numericEdges {
		if edge > hi {
			break
		}
		for v := edge - sizeSpread; v <= edge+sizeSpread; v++ {
			values = append(values, v)
		}
	}
	return uniqueInRange(values, 0, hi)
}

// --- DataLengthEdgeCasesMutator ---

// maxGeneratedLength caps the longest value DataLengthEdgeCasesMutator builds
const maxGeneratedLength = 0x10000

// DataLengthEdgeCasesMutator resizes strings and blobs to boundary lengths by
// truncating or repeating their current content. Relations observing the
// element are recomputed normally, so lengths they cannot encode are skipped.
type DataLengthEdgeCasesMutator struct{}

// NewDataLengthEdgeCasesMutator creates a new DataLengthEdgeCasesMutator
func NewDataLengthEdgeCasesMutator() *DataLengthEdgeCasesMutator {
	return &DataLengthEdgeCasesMutator{}
}

// Name returns the mutator name
func (m *DataLengthEdgeCasesMutator) Name() string {
	return "DataLengthEdgeCasesMutator"
}

// Description returns the mutator description
func (m *DataLengthEdgeCasesMutator) Description() string {
	return "Resize strings and blobs to boundary lengths"
}

// AppliesTo accepts mutable strings and blobs that hold no relation
func (m *DataLengthEdgeCasesMutator) AppliesTo(el *dom.Element) bool {
	k := el.Kind()
	return el.IsMutable() && (k == dom.KindString || k == dom.KindBlob) && el.Relation() == nil
}

// Count returns the number of candidate lengths for el
func (m *DataLengthEdgeCasesMutator) Count(el *dom.Element) int {
	return len(lengthCandidates(el))
}

// MutateAt resizes the value to the k-th candidate length
func (m *DataLengthEdgeCasesMutator) MutateAt(el *dom.Element, k int) (*Result, error) {
	if err := checkChoice(m, el, k); err != nil {
		return nil, err
	}
	n := int(lengthCandidates(el)[k])
	return newResult(m, el, k, resize(el.Raw(), n)), nil
}

// Mutate resizes the value to a random candidate length
func (m *DataLengthEdgeCasesMutator) Mutate(el *dom.Element, g *random.Generator) (*Result, error) {
	return pick(m, el, g)
}

func lengthCandidates(el *dom.Element) []int64 {
	cur := int64(len(el.Raw()))
	values := []int64{0, 1, cur - 1, cur + 1, cur * 2, 0x7f, 0x80, 0xff, 0x100, 0x7fff, 0x8000, 0xffff, 0x10000}

	hi := int64(maxGeneratedLength)
	if limit, ok := el.LengthLimit(); ok && limit < hi {
		hi = limit
	}
	out := uniqueInRange(values, 0, hi)
	filtered := out[:0]
	for _, v := range out {
		if v != cur {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// resize truncates or cyclically repeats data to n bytes
func resize(data []byte, n int) []byte {
	if len(data) == 0 {
		data = []byte{'A'}
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = data[i%len(data)]
	}
	return out
}
