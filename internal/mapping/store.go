package mapping

import (
	"iter"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
)

var emailShape = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// Store holds the user's mappings. Originals are unique case-insensitively;
// insertion order is kept for display only.
type Store struct {
	entries []Entry
	index   map[string]int // folded original -> position in entries
}

// NewStore creates an empty mapping store
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

func foldKey(s string) string {
	return strings.ToLower(s)
}

// Add inserts a mapping. Both sides are trimmed before validation.
func (s *Store) Add(original, replacement string, kind Kind) error {
	original = strings.TrimSpace(original)
	replacement = strings.TrimSpace(replacement)

	if original == "" {
		return &EmptyValueError{Field: "original"}
	}
	if replacement == "" {
		return &EmptyValueError{Field: "replacement"}
	}
	key := foldKey(original)
	if pos, exists := s.index[key]; exists {
		return &DuplicateMappingError{Original: original, Existing: s.entries[pos].Original}
	}
	if kind == "" {
		kind = InferKind(original)
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}

	s.index[key] = len(s.entries)
	s.entries = append(s.entries, Entry{Original: original, Replacement: replacement, Kind: kind})
	return nil
}

// BulkAdd parses newline separated "Original=Replacement" lines. Bad lines
// are reported and skipped; they never abort the batch.
func (s *Store) BulkAdd(text string) BulkResult {
	var result BulkResult

	lineNo := 0
	for raw := range strings.Lines(text) {
		lineNo++
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		original, replacement, found := strings.Cut(line, "=")
		if !found {
			result.Skipped++
			result.Errors = append(result.Errors, LineError{Line: lineNo, Text: line, Reason: "missing '='"})
			continue
		}

		err := s.Add(original, replacement, InferKind(strings.TrimSpace(original)))
		switch e := err.(type) {
		case nil:
			result.Added++
		case *DuplicateMappingError:
			result.Duplicates++
			result.Errors = append(result.Errors, LineError{Line: lineNo, Text: line, Reason: e.Error()})
		default:
			result.Skipped++
			result.Errors = append(result.Errors, LineError{Line: lineNo, Text: line, Reason: err.Error()})
		}
	}

	return result
}

// Remove deletes the mapping for original; absent originals are ignored
func (s *Store) Remove(original string) {
	key := foldKey(strings.TrimSpace(original))
	pos, exists := s.index[key]
	if !exists {
		return
	}
	s.entries = append(s.entries[:pos], s.entries[pos+1:]...)
	delete(s.index, key)
	for k, p := range s.index {
		if p > pos {
			s.index[k] = p - 1
		}
	}
}

// Get looks up the mapping for original, case-insensitively
func (s *Store) Get(original string) (Entry, bool) {
	pos, exists := s.index[foldKey(strings.TrimSpace(original))]
	if !exists {
		return Entry{}, false
	}
	return s.entries[pos], true
}

// All yields entries in insertion order. The sequence can be ranged over
// any number of times.
func (s *Store) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range s.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Len returns the number of mappings
func (s *Store) Len() int {
	return len(s.entries)
}

// Clone returns an independent copy
func (s *Store) Clone() *Store {
	c := NewStore()
	c.entries = append([]Entry(nil), s.entries...)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

// Collisions reports replacements used by more than one original. Two
// identities sharing a placeholder is allowed but worth a warning.
func (s *Store) Collisions() []Collision {
	grouped := lo.GroupBy(s.entries, func(e Entry) string { return e.Replacement })

	var collisions []Collision
	for replacement, entries := range grouped {
		if len(entries) < 2 {
			continue
		}
		collisions = append(collisions, Collision{
			Replacement: replacement,
			Originals:   lo.Map(entries, func(e Entry, _ int) string { return e.Original }),
		})
	}
	sort.Slice(collisions, func(i, j int) bool { return collisions[i].Replacement < collisions[j].Replacement })
	return collisions
}

// InferKind guesses the kind of an original value: email-shaped values are
// emails, multi-word or capitalized values are names, anything else generic.
func InferKind(original string) Kind {
	if emailShape.MatchString(original) {
		return KindEmail
	}
	if strings.ContainsFunc(original, unicode.IsSpace) {
		return KindName
	}
	if r, _ := utf8.DecodeRuneInString(original); unicode.IsUpper(r) {
		return KindName
	}
	return KindGeneric
}
