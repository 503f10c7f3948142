package mutator

import (
	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/random"
)

// Token lists for string replacement, grouped by the parser flaw they target
var (
	formatStringPayloads = []string{
		"%s%s%s%s%s",
		"%n%n%n%n",
		"%x%x%x%x",
		"%99999999s",
		"{0}{1}{2}",
	}

	pathTraversalPayloads = []string{
		"../",
		"..\\",
		"....//",
		"..%2f",
		"%2e%2e%2f",
		"../../etc/passwd",
		"..\\..\\windows\\win.ini",
	}

	commandInjectionPayloads = []string{
		"; ls",
		"| ls",
		"&& ls",
		"`id`",
		"$(id)",
		"\n/bin/sh",
	}

	sqlInjectionPayloads = []string{
		"'",
		"\"",
		"' OR '1'='1",
		"' OR 1=1--",
		"' UNION SELECT NULL--",
	}

	xmlInjectionPayloads = []string{
		"<!--",
		"<![CDATA[",
		"]]>",
		"<!DOCTYPE foo [<!ENTITY xxe SYSTEM \"file:///etc/passwd\">]>",
	}

	templatePayloads = []string{
		"{{7*7}}",
		"${7*7}",
		"<%= 7*7 %>",
	}

	// byte sequences that trip UTF-8 decoders
	encodingPayloads = [][]byte{
		{0x00},
		{0xC0, 0xAF},             // Overlong /
		{0xE0, 0x80, 0xAF},       // Overlong /
		{0xF0, 0x80, 0x80, 0xAF}, // Overlong /
		{0xE2, 0x80, 0xAE},       // RTL override
		{0xE2, 0x80, 0x8B},       // Zero width space
		{0xEF, 0xBB, 0xBF},       // BOM
		{0xFF, 0xFE},
	}
)

// --- StringTokenMutator ---

// StringTokenMutator replaces string values with parser-hostile tokens and
// appends malformed encodings to the current value
type StringTokenMutator struct {
	tokens [][]byte
}

// NewStringTokenMutator creates a new StringTokenMutator
func NewStringTokenMutator() *StringTokenMutator {
	m := &StringTokenMutator{}
	for _, list := range [][]string{
		formatStringPayloads,
		pathTraversalPayloads,
		commandInjectionPayloads,
		sqlInjectionPayloads,
		xmlInjectionPayloads,
		templatePayloads,
	} {
		for _, s := range list {
			m.tokens = append(m.tokens, []byte(s))
		}
	}
	return m
}

// Name returns the mutator name
func (m *StringTokenMutator) Name() string {
	return "StringTokenMutator"
}

// Description returns the mutator description
func (m *StringTokenMutator) Description() string {
	return "Replace strings with injection tokens or append malformed encodings"
}

// AppliesTo accepts mutable strings that hold no relation
func (m *StringTokenMutator) AppliesTo(el *dom.Element) bool {
	return el.Kind() == dom.KindString && el.IsMutable() && el.Relation() == nil
}

// Count returns one choice per token plus one per encoding suffix
func (m *StringTokenMutator) Count(el *dom.Element) int {
	return len(m.tokens) + len(encodingPayloads)
}

// MutateAt returns the k-th replacement
func (m *StringTokenMutator) MutateAt(el *dom.Element, k int) (*Result, error) {
	if err := checkChoice(m, el, k); err != nil {
		return nil, err
	}

	if k < len(m.tokens) {
		return newResult(m, el, k, append([]byte{}, m.tokens[k]...)), nil
	}
	value := append(el.Raw(), encodingPayloads[k-len(m.tokens)]...)
	return newResult(m, el, k, value), nil
}

// Mutate returns a random replacement
func (m *StringTokenMutator) Mutate(el *dom.Element, g *random.Generator) (*Result, error) {
	return pick(m, el, g)
}
