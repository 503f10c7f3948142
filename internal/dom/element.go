// Package dom implements the hierarchical data model mutated by the fuzzer.
//
// A data model is an ordered tree of typed elements. Leaves carry raw bytes
// (strings, numbers, blobs); containers (data models and blocks) derive their
// value from their children. Elements may declare one outgoing relation
// (size, count or offset of another element), which the relation engine keeps
// consistent between iterations.
package dom

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/transform"
)

// Kind identifies the shape of an element
type Kind int

const (
	KindDataModel Kind = iota
	KindBlock
	KindString
	KindNumber
	KindBlob
)

// String returns the kind name used in run definitions and path queries
func (k Kind) String() string {
	switch k {
	case KindDataModel:
		return "DataModel"
	case KindBlock:
		return "Block"
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindBlob:
		return "Blob"
	default:
		return "Unknown"
	}
}

// ParseKind parses a kind name, case-insensitively
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "datamodel", "data_model":
		return KindDataModel, nil
	case "block":
		return KindBlock, nil
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "blob":
		return KindBlob, nil
	default:
		return 0, errdefs.InvalidArgument("unknown element kind %q", s)
	}
}

// Element is one node of a data model
type Element struct {
	name     string
	kind     Kind
	parent   *Element
	children []*Element

	raw     []byte
	mutable bool

	// number encoding
	width     int // bits
	signed    bool
	bigEndian bool

	transformer transform.Transformer

	declared  *relationDecl
	relation  *Relation
	observers []*Relation // relations whose value depends on this element's length

	err error // deferred construction error, reported by NewTree
}

// Option configures an element at construction time
type Option func(*Element)

// WithRelation declares that the element's value is derived from the element named of
func WithRelation(kind RelationKind, of string) Option {
	return func(e *Element) {
		e.declared = &relationDecl{kind: kind, of: of}
	}
}

// WithTransformer encodes the element's raw value through t on output
func WithTransformer(t transform.Transformer) Option {
	return func(e *Element) {
		e.transformer = t
	}
}

// Signed marks a number as two's complement
func Signed() Option {
	return func(e *Element) {
		e.signed = true
	}
}

// BigEndian stores a number most significant byte first
func BigEndian() Option {
	return func(e *Element) {
		e.bigEndian = true
	}
}

// Immutable excludes the element from mutation
func Immutable() Option {
	return func(e *Element) {
		e.mutable = false
	}
}

func newElement(name string, kind Kind, opts []Option) *Element {
	e := &Element{name: name, kind: kind, mutable: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewDataModel creates a data model root
func NewDataModel(name string, children ...*Element) *Element {
	e := newElement(name, KindDataModel, nil)
	for _, c := range children {
		e.Append(c)
	}
	return e
}

// NewBlock creates a container element
func NewBlock(name string, children ...*Element) *Element {
	e := newElement(name, KindBlock, nil)
	for _, c := range children {
		e.Append(c)
	}
	return e
}

// NewString creates a string element
func NewString(name, value string, opts ...Option) *Element {
	e := newElement(name, KindString, opts)
	e.raw = []byte(value)
	return e
}

// NewBlob creates a raw byte element
func NewBlob(name string, value []byte, opts ...Option) *Element {
	e := newElement(name, KindBlob, opts)
	e.raw = append([]byte{}, value...)
	return e
}

// NewNumber creates a fixed-width integer element. width is in bits (8, 16, 32 or 64).
func NewNumber(name string, width int, value int64, opts ...Option) *Element {
	e := newElement(name, KindNumber, opts)
	e.width = width

	if width != 8 && width != 16 && width != 32 && width != 64 {
		e.err = fmt.Errorf("invalid number width %d", width)
		return e
	}
	raw, err := e.Encode(value)
	if err != nil {
		e.err = err
		return e
	}
	e.raw = raw
	return e
}

// Append adds child as the last child of a container
func (e *Element) Append(child *Element) {
	if child == nil {
		return
	}
	if !e.IsContainer() {
		e.err = fmt.Errorf("%s element cannot have children", e.kind)
		return
	}
	child.parent = e
	if !e.mutable {
		child.SetMutable(false)
	}
	e.children = append(e.children, child)
}

// Name returns the element name
func (e *Element) Name() string { return e.name }

// Kind returns the element kind
func (e *Element) Kind() Kind { return e.kind }

// Parent returns the containing element, nil for a data model
func (e *Element) Parent() *Element { return e.parent }

// Children returns a copy of the child list
func (e *Element) Children() []*Element {
	out := make([]*Element, len(e.children))
	copy(out, e.children)
	return out
}

// Child returns the direct child named name
func (e *Element) Child(name string) *Element {
	for _, c := range e.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// IsContainer reports whether the element holds children
func (e *Element) IsContainer() bool {
	return e.kind == KindDataModel || e.kind == KindBlock
}

// Root returns the data model containing the element
func (e *Element) Root() *Element {
	r := e
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// FullName returns the dotted path from the data model to the element
func (e *Element) FullName() string {
	if e.parent == nil {
		return e.name
	}
	return e.parent.FullName() + "." + e.name
}

// Width returns the bit width of a number, 0 for other kinds
func (e *Element) Width() int { return e.width }

// IsSigned reports whether a number is two's complement
func (e *Element) IsSigned() bool { return e.signed }

// IsBigEndian reports the byte order of a number
func (e *Element) IsBigEndian() bool { return e.bigEndian }

// Transformer returns the output transformer, if any
func (e *Element) Transformer() transform.Transformer { return e.transformer }

// IsMutable reports whether mutators may select the element
func (e *Element) IsMutable() bool { return e.mutable }

// SetMutable sets the mutability flag. Containers propagate the flag to all
// descendants, so a later rule on a descendant overrides it.
func (e *Element) SetMutable(allow bool) {
	e.mutable = allow
	for _, c := range e.children {
		c.SetMutable(allow)
	}
}

// Relation returns the bound outgoing relation, nil if none
func (e *Element) Relation() *Relation { return e.relation }

// DeclaredRelation returns the relation kind and target reference as declared
func (e *Element) DeclaredRelation() (RelationKind, string, bool) {
	if e.declared == nil {
		return "", "", false
	}
	return e.declared.kind, e.declared.of, true
}

// LengthLimit returns the longest raw value the element can take before a
// size or offset relation observing its length overflows its own element.
// ok is false when no relation limits it.
func (e *Element) LengthLimit() (limit int64, ok bool) {
	cur := int64(len(e.raw))
	for _, r := range e.observers {
		hi := r.element.MaxInt()
		if hi == 1<<63-1 {
			continue
		}
		v, err := r.Compute()
		if err != nil {
			continue
		}
		room := hi - v + cur
		if !ok || room < limit {
			limit, ok = room, true
		}
	}
	if ok && limit < 0 {
		limit = 0
	}
	return limit, ok
}

// Raw returns a copy of the untransformed leaf value
func (e *Element) Raw() []byte {
	return append([]byte{}, e.raw...)
}

// SetRaw replaces the leaf value. Numbers must keep their width.
func (e *Element) SetRaw(b []byte) error {
	if e.IsContainer() {
		return errdefs.InvalidArgument("cannot set the value of container %s", e.FullName())
	}
	if e.kind == KindNumber && len(b) != e.width/8 {
		return errdefs.InvalidArgument("number %s needs %d bytes, got %d", e.FullName(), e.width/8, len(b))
	}
	e.raw = append([]byte{}, b...)
	return nil
}

// Value returns the output bytes: children concatenated for containers, the
// transformed raw value for leaves.
func (e *Element) Value() ([]byte, error) {
	if e.IsContainer() {
		var out []byte
		for _, c := range e.children {
			v, err := c.Value()
			if err != nil {
				return nil, err
			}
			out = append(out, v...)
		}
		return out, nil
	}
	if e.transformer != nil {
		return e.transformer.Encode(e.raw)
	}
	return e.Raw(), nil
}

// Len returns the output length in bytes
func (e *Element) Len() (int, error) {
	if e.IsContainer() {
		total := 0
		for _, c := range e.children {
			n, err := c.Len()
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}
	if e.transformer != nil {
		v, err := e.transformer.Encode(e.raw)
		return len(v), err
	}
	return len(e.raw), nil
}

// Int interprets the leaf value as an integer. Strings hold decimal text.
func (e *Element) Int() (int64, error) {
	switch e.kind {
	case KindString:
		v, err := strconv.ParseInt(strings.TrimSpace(string(e.raw)), 10, 64)
		if err != nil {
			return 0, errdefs.InvalidArgument("string %s is not an integer: %v", e.FullName(), err)
		}
		return v, nil
	case KindNumber:
		return e.decodeNumber(e.raw)
	default:
		return 0, errdefs.InvalidArgument("%s element %s has no integer value", e.kind, e.FullName())
	}
}

// SetInt stores v using the element's encoding
func (e *Element) SetInt(v int64) error {
	raw, err := e.Encode(v)
	if err != nil {
		return err
	}
	e.raw = raw
	return nil
}

// Encode returns the raw bytes SetInt(v) would store, without changing the element
func (e *Element) Encode(v int64) ([]byte, error) {
	switch e.kind {
	case KindString:
		return []byte(strconv.FormatInt(v, 10)), nil
	case KindNumber:
		return e.encodeNumber(v)
	default:
		return nil, errdefs.InvalidArgument("%s element %s cannot hold an integer", e.kind, e.name)
	}
}

// MaxInt returns the largest integer the element can hold
func (e *Element) MaxInt() int64 {
	if e.kind != KindNumber {
		return 1<<63 - 1
	}
	if e.signed || e.width == 64 {
		return 1<<(e.width-1) - 1
	}
	return 1<<e.width - 1
}

func (e *Element) encodeNumber(v int64) ([]byte, error) {
	var u uint64
	var err error

	switch {
	case e.signed && e.width == 8:
		var x int8
		x, err = safecast.Conv[int8](v)
		u = uint64(uint8(x))
	case e.signed && e.width == 16:
		var x int16
		x, err = safecast.Conv[int16](v)
		u = uint64(uint16(x))
	case e.signed && e.width == 32:
		var x int32
		x, err = safecast.Conv[int32](v)
		u = uint64(uint32(x))
	case e.signed && e.width == 64:
		u = uint64(v)
	case e.width == 8:
		var x uint8
		x, err = safecast.Conv[uint8](v)
		u = uint64(x)
	case e.width == 16:
		var x uint16
		x, err = safecast.Conv[uint16](v)
		u = uint64(x)
	case e.width == 32:
		var x uint32
		x, err = safecast.Conv[uint32](v)
		u = uint64(x)
	case e.width == 64:
		u, err = safecast.Conv[uint64](v)
	default:
		return nil, fmt.Errorf("invalid number width %d", e.width)
	}
	if err != nil {
		return nil, errdefs.InvalidArgument("value %d does not fit %s: %v", v, e.name, err)
	}

	buf := make([]byte, 8)
	n := e.width / 8
	if e.bigEndian {
		binary.BigEndian.PutUint64(buf, u)
		return buf[8-n:], nil
	}
	binary.LittleEndian.PutUint64(buf, u)
	return buf[:n], nil
}

func (e *Element) decodeNumber(raw []byte) (int64, error) {
	n := e.width / 8
	if len(raw) != n {
		return 0, errdefs.InvalidArgument("number %s holds %d bytes, want %d", e.FullName(), len(raw), n)
	}

	buf := make([]byte, 8)
	var u uint64
	if e.bigEndian {
		copy(buf[8-n:], raw)
		u = binary.BigEndian.Uint64(buf)
	} else {
		copy(buf, raw)
		u = binary.LittleEndian.Uint64(buf)
	}

	if e.signed {
		shift := uint(64 - e.width)
		return int64(u<<shift) >> shift, nil
	}
	return safecast.Conv[int64](u)
}

// Walk visits the element and its descendants in document order until fn returns false
func (e *Element) Walk(fn func(*Element) bool) bool {
	if !fn(e) {
		return false
	}
	for _, c := range e.children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// lookup resolves a dotted path below e
func (e *Element) lookup(path string) *Element {
	cur := e
	for _, seg := range strings.Split(path, ".") {
		cur = cur.Child(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}
