package anonymizer

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"regexp"
	"regexp/syntax"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/chat-anonymizer/internal/links"
	"github.com/raaihank/chat-anonymizer/internal/mapping"
)

// CompileOptions configures how mappings and link rules become a RuleSet
type CompileOptions struct {
	LinkMode links.Mode
	// MinFilenameMatch excludes shorter mapping literals from the
	// Filenames view, in runes
	MinFilenameMatch int
}

type matchKind uint8

const (
	matchLiteral matchKind = iota // NAME and GENERIC mappings
	matchEmail
	matchLink
)

var matchKindNames = [...]string{"literal", "email", "link"}

type rule struct {
	match       matchKind
	kind        mapping.Kind
	category    links.Category
	original    string
	pattern     []rune
	replacement string

	// length is the sort key: rune length of a literal, minimum match
	// length of a link pattern
	length   int
	priority int

	re      *regexp.Regexp
	schemes []string
}

// RuleSet is the compiled, ordered form of a mapping store and a set of
// link rules. It is immutable and safe for concurrent use.
type RuleSet struct {
	rules       []*rule
	fingerprint string

	// Text applies every rule with word boundaries, for message bodies
	Text *View
	// Names applies NAME and GENERIC mappings, for display names
	Names *View
	// Emails applies EMAIL mappings, for address fields
	Emails *View
	// Filenames applies NAME, GENERIC and link rules to filenames, where
	// '_', '-' and '.' separate words, skipping literals shorter than
	// MinFilenameMatch
	Filenames *View
}

// Compile builds a RuleSet. Candidates are ordered longest first; ties go
// to explicit mappings over link rules, then link priority, kind and
// original text, so the same input always produces the same order.
func Compile(entries iter.Seq[mapping.Entry], linkRules []links.Rule, opts CompileOptions) (*RuleSet, error) {
	if opts.LinkMode == "" {
		opts.LinkMode = links.ModeDomainAware
	}
	if opts.MinFilenameMatch <= 0 {
		opts.MinFilenameMatch = DefaultMinFilenameMatch
	}

	var candidates []*rule
	if entries != nil {
		for e := range entries {
			r, err := compileEntry(e)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, r)
		}
	}

	linkCandidates := make([]*rule, 0, len(linkRules))
	for i, lr := range linkRules {
		r, err := compileLink(lr, i, opts.LinkMode)
		if err != nil {
			return nil, err
		}
		linkCandidates = append(linkCandidates, r)
	}
	// Link rules keep their catalogue order among themselves: each one is
	// lifted to at least the length of every rule after it
	for i := len(linkCandidates) - 2; i >= 0; i-- {
		linkCandidates[i].length = max(linkCandidates[i].length, linkCandidates[i+1].length)
	}
	candidates = append(candidates, linkCandidates...)

	slices.SortStableFunc(candidates, compareRules)

	rs := &RuleSet{rules: candidates}
	rs.Text = newView(candidates, isWordRune, func(r *rule) bool { return true })
	rs.Names = newView(candidates, isWordRune, func(r *rule) bool { return r.match == matchLiteral })
	rs.Emails = newView(candidates, isWordRune, func(r *rule) bool { return r.match == matchEmail })
	rs.Filenames = newView(candidates, isFilenameWordRune, func(r *rule) bool {
		switch r.match {
		case matchLiteral:
			return r.length >= opts.MinFilenameMatch
		case matchLink:
			return true
		}
		return false
	})
	rs.fingerprint = fingerprint(candidates, opts)

	return rs, nil
}

func compileEntry(e mapping.Entry) (*rule, error) {
	original := strings.TrimSpace(e.Original)
	if original == "" {
		return nil, &RuleError{Rule: "mapping", Err: &mapping.EmptyValueError{Field: "original"}}
	}
	if strings.TrimSpace(e.Replacement) == "" {
		return nil, &RuleError{Rule: fmt.Sprintf("mapping %q", original), Err: &mapping.EmptyValueError{Field: "replacement"}}
	}

	kind := e.Kind
	if kind == "" {
		kind = mapping.InferKind(original)
	}

	pattern := []rune(original)
	r := &rule{
		match:       matchLiteral,
		kind:        kind,
		original:    original,
		pattern:     pattern,
		replacement: e.Replacement,
		length:      len(pattern),
		priority:    -1,
	}
	if kind == mapping.KindEmail {
		r.match = matchEmail
	}
	return r, nil
}

func compileLink(lr links.Rule, priority int, mode links.Mode) (*rule, error) {
	name := fmt.Sprintf("link %s", lr.Category)

	parsed, err := syntax.Parse(lr.Pattern, syntax.Perl)
	if err != nil {
		return nil, &RuleError{Rule: name, Err: err}
	}
	length := minMatchLen(parsed)
	if length == 0 {
		return nil, &RuleError{Rule: name, Err: ErrZeroLengthRule}
	}

	re, err := regexp.Compile(`(?i)^(?:` + lr.Pattern + `)`)
	if err != nil {
		return nil, &RuleError{Rule: name, Err: err}
	}

	if len(lr.Schemes) == 0 {
		return nil, &RuleError{Rule: name, Err: fmt.Errorf("no schemes")}
	}
	for _, s := range lr.Schemes {
		if s == "" {
			return nil, &RuleError{Rule: name, Err: fmt.Errorf("empty scheme")}
		}
	}

	return &rule{
		match:       matchLink,
		category:    lr.Category,
		original:    lr.Pattern,
		replacement: links.Placeholder(lr.Category, mode),
		length:      length,
		priority:    priority,
		re:          re,
		schemes:     slices.Clone(lr.Schemes),
	}, nil
}

// minMatchLen returns the fewest runes a parsed expression can match
func minMatchLen(re *syntax.Regexp) int {
	switch re.Op {
	case syntax.OpLiteral:
		return len(re.Rune)
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return 1
	case syntax.OpCapture, syntax.OpPlus:
		return minMatchLen(re.Sub[0])
	case syntax.OpRepeat:
		return re.Min * minMatchLen(re.Sub[0])
	case syntax.OpConcat:
		n := 0
		for _, sub := range re.Sub {
			n += minMatchLen(sub)
		}
		return n
	case syntax.OpAlternate:
		n := -1
		for _, sub := range re.Sub {
			if m := minMatchLen(sub); n < 0 || m < n {
				n = m
			}
		}
		return max(n, 0)
	}
	// star, quest, empty match, anchors and word boundaries
	return 0
}

var kindOrder = map[mapping.Kind]int{
	mapping.KindEmail:   0,
	mapping.KindName:    1,
	mapping.KindGeneric: 2,
}

func compareRules(a, b *rule) int {
	if c := cmp.Compare(b.length, a.length); c != 0 {
		return c
	}
	// explicit mappings before link rules
	if al, bl := a.match == matchLink, b.match == matchLink; al != bl {
		if al {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.priority, b.priority); c != 0 {
		return c
	}
	if c := cmp.Compare(kindOrder[a.kind], kindOrder[b.kind]); c != 0 {
		return c
	}
	if c := cmp.Compare(strings.ToLower(a.original), strings.ToLower(b.original)); c != 0 {
		return c
	}
	return cmp.Compare(a.original, b.original)
}

func fingerprint(rules []*rule, opts CompileOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "mode=%s min=%d\n", opts.LinkMode, opts.MinFilenameMatch)
	for _, r := range rules {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\n", matchKindNames[r.match], r.kind, r.category, r.original, r.replacement)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint identifies the rule order and replacements. Two rule sets
// with the same fingerprint produce the same output for any input.
func (rs *RuleSet) Fingerprint() string {
	return rs.fingerprint
}

// Len returns the number of compiled rules
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// RuleInfo describes one compiled rule without exposing its matcher
type RuleInfo struct {
	Kind        string `json:"kind"`
	Category    string `json:"category,omitempty"`
	Length      int    `json:"length"`
	Replacement string `json:"replacement"`
}

// Rules lists the compiled rules in application order. Originals are left
// out so the listing is safe to log or display.
func (rs *RuleSet) Rules() []RuleInfo {
	out := make([]RuleInfo, len(rs.rules))
	for i, r := range rs.rules {
		kind := string(r.kind)
		if r.match == matchLink {
			kind = "link"
		}
		out[i] = RuleInfo{Kind: kind, Category: string(r.category), Length: r.length, Replacement: r.replacement}
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || isFilenameWordRune(r)
}

// isFilenameWordRune is isWordRune without '_', which separates words in
// filenames
func isFilenameWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// foldEqual reports whether a and b are equal under simple Unicode case folding
func foldEqual(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

// firstKeys returns the dispatch buckets a rule must be filed under: the
// ASCII bytes its first rune can appear as, plus the non-ASCII bucket when
// a fold of the first rune is outside ASCII
func firstKeys(r *rule) []int {
	var keys []int
	add := func(c rune) {
		k := nonASCIIBucket
		if c < utf8.RuneSelf {
			k = int(c)
		}
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}

	if r.match == matchLink {
		for _, s := range r.schemes {
			c, _ := utf8.DecodeRuneInString(s)
			add(c)
			for f := unicode.SimpleFold(c); f != c; f = unicode.SimpleFold(f) {
				add(f)
			}
		}
		return keys
	}

	c := r.pattern[0]
	add(c)
	for f := unicode.SimpleFold(c); f != c; f = unicode.SimpleFold(f) {
		add(f)
	}
	return keys
}
