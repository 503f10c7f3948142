package dom

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/transform"
)

func sizedModel() *Element {
	return NewDataModel("TheDataModel",
		NewNumber("length", 32, 0, WithRelation(RelationSize, "data")),
		NewString("data", "AAAAA"),
	)
}

func mustTree(t *testing.T, models ...*Element) *Tree {
	t.Helper()
	tree, err := NewTree(models...)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

func TestNumber_EncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		width int
		value int64
		opts  []Option
		raw   []byte
	}{
		{"u8", 8, 0xfe, nil, []byte{0xfe}},
		{"u16 le", 16, 0x0102, nil, []byte{0x02, 0x01}},
		{"u16 be", 16, 0x0102, []Option{BigEndian()}, []byte{0x01, 0x02}},
		{"s8 negative", 8, -1, []Option{Signed()}, []byte{0xff}},
		{"s32 negative be", 32, -2, []Option{Signed(), BigEndian()}, []byte{0xff, 0xff, 0xff, 0xfe}},
		{"u64", 64, 1 << 40, nil, []byte{0, 0, 0, 0, 0, 1, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := NewNumber("n", tt.width, tt.value, tt.opts...)
			if el.err != nil {
				t.Fatalf("unexpected construction error: %v", el.err)
			}
			if !bytes.Equal(el.Raw(), tt.raw) {
				t.Errorf("raw = %x, want %x", el.Raw(), tt.raw)
			}
			got, err := el.Int()
			if err != nil {
				t.Fatalf("Int: %v", err)
			}
			if got != tt.value {
				t.Errorf("Int() = %d, want %d", got, tt.value)
			}
		})
	}
}

func TestNumber_OutOfRange(t *testing.T) {
	el := NewNumber("n", 8, 0)
	if err := el.SetInt(256); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
	if err := el.SetInt(-1); err == nil {
		t.Error("expected negative value to be rejected by an unsigned number")
	}

	_, err := NewTree(NewDataModel("M", NewNumber("bad", 8, 1000)))
	if !errdefs.IsConfig(err) {
		t.Errorf("expected config error for out of range initial value, got %v", err)
	}

	_, err = NewTree(NewDataModel("M", NewNumber("bad", 12, 1)))
	if !errdefs.IsConfig(err) {
		t.Errorf("expected config error for invalid width, got %v", err)
	}
}

func TestString_Int(t *testing.T) {
	el := NewString("s", "42")
	v, err := el.Int()
	if err != nil || v != 42 {
		t.Errorf("Int() = %d, %v", v, err)
	}
	if err := el.SetInt(1234); err != nil {
		t.Fatal(err)
	}
	if string(el.Raw()) != "1234" {
		t.Errorf("raw = %q", el.Raw())
	}

	if _, err := NewString("s", "abc").Int(); err == nil {
		t.Error("expected non-numeric string to fail")
	}
}

func TestNewTree_Validation(t *testing.T) {
	tests := []struct {
		name   string
		models []*Element
	}{
		{"no models", nil},
		{"block root", []*Element{NewBlock("b")}},
		{"duplicate model", []*Element{NewDataModel("M"), NewDataModel("M")}},
		{"duplicate child", []*Element{NewDataModel("M", NewString("a", ""), NewString("a", ""))}},
		{"reserved name", []*Element{NewDataModel("M", NewString("a.b", ""))}},
		{"missing target", []*Element{NewDataModel("M", NewNumber("len", 8, 0, WithRelation(RelationSize, "nope")))}},
		{"count of leaf", []*Element{NewDataModel("M",
			NewNumber("n", 8, 0, WithRelation(RelationCount, "s")),
			NewString("s", "x"),
		)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTree(tt.models...)
			if !errdefs.IsConfig(err) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestTree_Find(t *testing.T) {
	tree := mustTree(t, sizedModel())

	el, err := tree.Find("TheDataModel.data")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if el.FullName() != "TheDataModel.data" {
		t.Errorf("unexpected full name %q", el.FullName())
	}

	if _, err := tree.Find("data"); err != nil {
		t.Errorf("expected relative lookup in a single model tree, got %v", err)
	}

	_, err = tree.Find("TheDataModel.missing")
	var nf *errdefs.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestRelations_SizeRecompute(t *testing.T) {
	tree := mustTree(t, sizedModel())
	length, _ := tree.Find("length")
	data, _ := tree.Find("data")

	if v, _ := length.Int(); v != 5 {
		t.Fatalf("expected initial size 5, got %d", v)
	}

	if err := data.SetRaw([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := tree.Relations().Recompute(); err != nil {
		t.Fatal(err)
	}
	if v, _ := length.Int(); v != 11 {
		t.Errorf("expected size 11, got %d", v)
	}
}

func TestRelations_Suppress(t *testing.T) {
	tree := mustTree(t, sizedModel())
	length, _ := tree.Find("length")
	rs := tree.Relations()

	if err := length.SetInt(1000); err != nil {
		t.Fatal(err)
	}
	if err := rs.Suppress(length); err != nil {
		t.Fatal(err)
	}
	if err := rs.Recompute(); err != nil {
		t.Fatal(err)
	}
	if v, _ := length.Int(); v != 1000 {
		t.Errorf("suppressed relation was recomputed: %d", v)
	}
	if rs.IsSuppressed(length) {
		t.Error("expected suppression to last a single pass")
	}

	broken, err := tree.Consistent()
	if err != nil || len(broken) != 1 || broken[0].Element() != length {
		t.Errorf("expected only length to be inconsistent, got %v, %v", broken, err)
	}

	if err := rs.Recompute(); err != nil {
		t.Fatal(err)
	}
	if v, _ := length.Int(); v != 5 {
		t.Errorf("expected second pass to restore size 5, got %d", v)
	}

	data, _ := tree.Find("data")
	if err := rs.Suppress(data); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Errorf("expected error suppressing a plain element, got %v", err)
	}
}

func TestRelations_CountAndOffset(t *testing.T) {
	model := NewDataModel("M",
		NewNumber("count", 8, 0, WithRelation(RelationCount, "items")),
		NewNumber("offset", 16, 0, WithRelation(RelationOffset, "tail")),
		NewBlock("items",
			NewString("a", "xx"),
			NewString("b", "yyy"),
			NewString("c", "z"),
		),
		NewBlob("tail", []byte{1, 2, 3}),
	)
	tree := mustTree(t, model)

	count, _ := tree.Find("count")
	offset, _ := tree.Find("offset")

	if v, _ := count.Int(); v != 3 {
		t.Errorf("count = %d, want 3", v)
	}
	// 1 (count) + 2 (offset) + 6 (items)
	if v, _ := offset.Int(); v != 9 {
		t.Errorf("offset = %d, want 9", v)
	}
}

func TestRelations_TransitiveOrder(t *testing.T) {
	// outer measures a block containing the decimal inner length, so inner
	// has to be rewritten first even though it comes later in the document.
	model := NewDataModel("M",
		NewNumber("outer", 8, 0, WithRelation(RelationSize, "body")),
		NewBlock("body",
			NewString("inner", "0", WithRelation(RelationSize, "payload")),
			NewString("payload", "0123456789ab"),
		),
	)
	tree := mustTree(t, model)

	order := tree.Relations().All()
	if len(order) != 2 || order[0].Element().Name() != "inner" {
		t.Fatalf("expected inner before outer, got %v", order)
	}

	outer, _ := tree.Find("outer")
	if v, _ := outer.Int(); v != 14 {
		t.Errorf("outer = %d, want 14", v)
	}
	if broken, _ := tree.Consistent(); len(broken) != 0 {
		t.Errorf("expected consistent tree, broken: %v", broken)
	}
}

func TestRelations_Cycle(t *testing.T) {
	model := NewDataModel("M",
		NewBlock("frame",
			NewString("len", "0", WithRelation(RelationSize, "frame")),
			NewString("data", "abc"),
		),
	)
	_, err := NewTree(model)
	if !errdefs.IsConfig(err) {
		t.Errorf("expected config error for cyclic relation graph, got %v", err)
	}
}

func TestRelations_NumberInsideTarget(t *testing.T) {
	model := NewDataModel("M",
		NewBlock("frame",
			NewNumber("len", 16, 0, WithRelation(RelationSize, "frame")),
			NewString("data", "abc"),
		),
	)
	tree := mustTree(t, model)
	el, _ := tree.Find("frame.len")
	if v, _ := el.Int(); v != 5 {
		t.Errorf("expected fixed-width self inclusive size 5, got %d", v)
	}
}

func TestRelations_Dependents(t *testing.T) {
	model := NewDataModel("M",
		NewNumber("a", 8, 0, WithRelation(RelationSize, "data")),
		NewNumber("b", 16, 0, WithRelation(RelationSize, "data")),
		NewString("data", "abcd"),
	)
	tree := mustTree(t, model)
	data, _ := tree.Find("data")

	deps := tree.Relations().DependentsOf(data)
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependents, got %d", len(deps))
	}
	a, _ := tree.Find("a")
	if tree.Relations().Of(a) != a.Relation() {
		t.Error("expected index and element binding to agree")
	}
	if tree.Relations().Of(data) != nil {
		t.Error("expected no relation held by data")
	}
}

func TestElement_LengthLimit(t *testing.T) {
	model := NewDataModel("M",
		NewNumber("total", 16, 0, WithRelation(RelationSize, "body")),
		NewBlock("body",
			NewNumber("len", 8, 0, WithRelation(RelationSize, "data")),
			NewString("data", "abcd"),
		),
		NewNumber("at", 8, 0, WithRelation(RelationOffset, "tail")),
		NewString("tail", "x"),
		NewString("free", "y"),
	)
	tree := mustTree(t, model)

	// len allows 255 but the offset of tail (8, of which data is 4) fills up first
	data, _ := tree.Find("data")
	if limit, ok := data.LengthLimit(); !ok || limit != 0xff-8+4 {
		t.Errorf("expected data capped at %d, got %d %v", 0xff-8+4, limit, ok)
	}

	total, _ := tree.Find("total")
	if limit, ok := total.LengthLimit(); !ok || limit != 0xff-8+2 {
		t.Errorf("expected the offset of tail to cap total at %d, got %d %v", 0xff-8+2, limit, ok)
	}

	free, _ := tree.Find("free")
	if _, ok := free.LengthLimit(); ok {
		t.Error("expected no limit for an element no relation observes")
	}
}

func TestRelations_TransformedTarget(t *testing.T) {
	model := NewDataModel("M",
		NewNumber("len", 8, 0, WithRelation(RelationSize, "hex")),
		NewBlob("hex", []byte{0xff, 0xff, 0, 0}, WithTransformer(transform.IntToHex{})),
	)
	tree := mustTree(t, model)
	el, _ := tree.Find("len")
	if v, _ := el.Int(); v != 4 {
		t.Errorf("expected size of encoded output FFFF = 4, got %d", v)
	}

	out, err := tree.Value("M")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{4, 'F', 'F', 'F', 'F'}) {
		t.Errorf("unexpected model value %q", out)
	}
}

func TestTree_ResetRestoresBaseline(t *testing.T) {
	tree := mustTree(t, sizedModel())
	data, _ := tree.Find("data")
	length, _ := tree.Find("length")
	before := tree.Digest()

	_ = data.SetRaw([]byte("BBBBBBBB"))
	_ = tree.Relations().Suppress(length)
	if tree.Digest() == before {
		t.Fatal("expected digest to change after a write")
	}

	tree.Reset()
	if tree.Digest() != before {
		t.Error("expected reset to restore the baseline digest")
	}
	if string(data.Raw()) != "AAAAA" {
		t.Errorf("data = %q", data.Raw())
	}
	if tree.Relations().IsSuppressed(length) {
		t.Error("expected reset to clear suppression")
	}
}

func TestTree_SetMutable(t *testing.T) {
	model := NewDataModel("DataModel",
		NewString("string1", "a"),
		NewBlock("blk",
			NewString("string1", "b"),
			NewNumber("num", 8, 1),
		),
	)
	tree := mustTree(t, model)

	n, err := tree.SetMutable("/DataModel/string1", false)
	if err != nil || n != 1 {
		t.Fatalf("SetMutable = %d, %v", n, err)
	}
	top, _ := tree.Find("DataModel.string1")
	nested, _ := tree.Find("DataModel.blk.string1")
	if top.IsMutable() {
		t.Error("expected top level string1 to be immutable")
	}
	if !nested.IsMutable() {
		t.Error("expected nested string1 to stay mutable")
	}

	// later rules override earlier ones
	if _, err := tree.SetMutable("//blk", false); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.SetMutable("//Number", true); err != nil {
		t.Fatal(err)
	}
	num, _ := tree.Find("blk.num")
	if nested.IsMutable() || !num.IsMutable() {
		t.Errorf("unexpected flags: nested=%v num=%v", nested.IsMutable(), num.IsMutable())
	}

	if _, err := tree.SetMutable("/DataModel/nothing", false); !errdefs.IsConfig(err) {
		t.Errorf("expected config error for unresolvable path, got %v", err)
	}
}

func TestQuery_Select(t *testing.T) {
	model := NewDataModel("M",
		NewString("a", "1"),
		NewBlock("b",
			NewString("a", "2"),
			NewNumber("n", 8, 0),
		),
	)
	tree := mustTree(t, model)

	tests := []struct {
		expr string
		want []string
	}{
		{"/M", []string{"M"}},
		{"/M/a", []string{"M.a"}},
		{"//a", []string{"M.a", "M.b.a"}},
		{"//String", []string{"M.a", "M.b.a"}},
		{"/M/*", []string{"M.a", "M.b"}},
		{"/M//*[@name='n']", []string{"M.b.n"}},
		{"/DataModel/b/Number", []string{"M.b.n"}},
		{"/M/zzz", nil},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := tree.Select(tt.expr)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d matches, want %d", len(got), len(tt.want))
			}
			for i, el := range got {
				if el.FullName() != tt.want[i] {
					t.Errorf("match %d = %s, want %s", i, el.FullName(), tt.want[i])
				}
			}
		})
	}
}

func TestQuery_CompileErrors(t *testing.T) {
	for _, expr := range []string{"", "M/a", "/", "/M[@name='x'", "/M[@type='x']", "/M[@name=x]"} {
		if _, err := Compile(expr); !errdefs.IsConfig(err) {
			t.Errorf("Compile(%q): expected config error, got %v", expr, err)
		}
	}
}
