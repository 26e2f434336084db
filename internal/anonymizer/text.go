package anonymizer

import (
	"strings"
	"unicode/utf8"
)

// nonASCIIBucket collects rules that can start with a non-ASCII rune
const nonASCIIBucket = utf8.RuneSelf

// View is one field-specific slice of a RuleSet, in compiled order, with a
// first-byte index so that most positions try only a handful of rules.
type View struct {
	rules    []*rule
	dispatch [nonASCIIBucket + 1][]*rule
	// inWord decides where a literal may start and end
	inWord func(rune) bool
}

func newView(all []*rule, inWord func(rune) bool, keep func(*rule) bool) *View {
	v := &View{inWord: inWord}
	for _, r := range all {
		if !keep(r) {
			continue
		}
		v.rules = append(v.rules, r)
		for _, k := range firstKeys(r) {
			v.dispatch[k] = append(v.dispatch[k], r)
		}
	}
	return v
}

// Len returns the number of rules in the view
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return len(v.rules)
}

// Apply anonymizes text. See ApplyCount.
func (v *View) Apply(text string) string {
	out, _ := v.ApplyCount(text)
	return out
}

// ApplyCount scans text left to right. At each position the first rule in
// compiled order that matches wins: its replacement is written verbatim and
// the scan resumes after the matched span, so replacements are never
// rescanned. Positions with no match are copied through. It also returns the
// number of replacements made.
func (v *View) ApplyCount(text string) (string, int) {
	if v == nil || text == "" || len(v.rules) == 0 {
		return text, 0
	}

	var b strings.Builder
	replaced := 0
	copied := 0 // start of the pending unchanged run

	for pos := 0; pos < len(text); {
		if r, end := v.matchAt(text, pos); r != nil {
			if replaced == 0 {
				b.Grow(len(text))
			}
			b.WriteString(text[copied:pos])
			b.WriteString(r.replacement)
			replaced++
			pos = end
			copied = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[pos:])
		pos += size
	}

	if replaced == 0 {
		return text, 0
	}
	b.WriteString(text[copied:])
	return b.String(), replaced
}

// matchAt returns the first rule matching at pos and the end of its span.
// A match always ends after pos.
func (v *View) matchAt(text string, pos int) (*rule, int) {
	key := int(text[pos])
	if key >= nonASCIIBucket {
		key = nonASCIIBucket
	}
	for _, r := range v.dispatch[key] {
		var end int
		switch r.match {
		case matchLiteral:
			end = r.matchLiteral(text, pos, v.inWord)
		case matchEmail:
			end = r.matchEmail(text, pos)
		case matchLink:
			end = r.matchLink(text, pos)
		}
		if end > pos {
			return r, end
		}
	}
	return nil, -1
}

// matchFolded compares the rule's runes against text from pos under case
// folding and returns the end of the match, or -1
func (r *rule) matchFolded(text string, pos int) int {
	i := pos
	for _, want := range r.pattern {
		if i >= len(text) {
			return -1
		}
		got, size := utf8.DecodeRuneInString(text[i:])
		if !foldEqual(got, want) {
			return -1
		}
		i += size
	}
	return i
}

// matchLiteral enforces a boundary only on a side where the literal itself
// starts or ends inside a word
func (r *rule) matchLiteral(text string, pos int, inWord func(rune) bool) int {
	if pos > 0 && inWord(r.pattern[0]) {
		prev, _ := utf8.DecodeLastRuneInString(text[:pos])
		if inWord(prev) {
			return -1
		}
	}
	end := r.matchFolded(text, pos)
	if end < 0 {
		return -1
	}
	if end < len(text) && inWord(r.pattern[len(r.pattern)-1]) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if inWord(next) {
			return -1
		}
	}
	return end
}

// matchEmail matches a whole address: it may not be preceded by a
// local-part character nor continue into a longer domain
func (r *rule) matchEmail(text string, pos int) int {
	if pos > 0 && isLocalPartByte(text[pos-1]) {
		return -1
	}
	end := r.matchFolded(text, pos)
	if end < 0 {
		return -1
	}
	if end < len(text) {
		next := text[end]
		if isDomainByte(next) && next != '.' {
			return -1
		}
		if next == '.' && end+1 < len(text) && isAlnumByte(text[end+1]) {
			return -1
		}
	}
	return end
}

func (r *rule) matchLink(text string, pos int) int {
	rest := text[pos:]
	ok := false
	for _, s := range r.schemes {
		if len(rest) >= len(s) && strings.EqualFold(rest[:len(s)], s) {
			ok = true
			break
		}
	}
	if !ok {
		return -1
	}
	loc := r.re.FindStringIndex(rest)
	if loc == nil {
		return -1
	}
	return pos + loc[1]
}

func isAlnumByte(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

func isLocalPartByte(c byte) bool {
	return isAlnumByte(c) || strings.IndexByte("._%+-", c) >= 0
}

func isDomainByte(c byte) bool {
	return isAlnumByte(c) || c == '-' || c == '.'
}
