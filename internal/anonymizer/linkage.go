package anonymizer

import (
	"cmp"
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// LinkageConflict records an anonymized name that was claimed by more than
// one original identity. The later identity wins; the conflict is kept so
// the caller can warn about it.
type LinkageConflict struct {
	Name     string `json:"name"`
	Previous string `json:"previous_email"`
	Current  string `json:"current_email"`
}

// Linkage maps anonymized display names to an email, so statistics can
// show an email column for an anonymized author. It is not safe for
// concurrent writers; parallel runs build one per chunk and Merge them.
type Linkage struct {
	emails map[string]string
	owners map[string]string // name -> identity of the last writer
	first  map[string]firstWrite

	conflicts []recordedConflict
	seen      map[conflictKey]struct{}
}

// firstWrite is the first email-keyed write to a name. It is what a
// partial linkage needs to detect a conflict with the records merged
// before it.
type firstWrite struct {
	identity string
	email    string
}

// conflictKey is (name, previous identity, new identity)
type conflictKey [3]string

type recordedConflict struct {
	key conflictKey
	LinkageConflict
}

// NewLinkage creates an empty linkage table
func NewLinkage() *Linkage {
	return &Linkage{
		emails: make(map[string]string),
		owners: make(map[string]string),
		first:  make(map[string]firstWrite),
		seen:   make(map[conflictKey]struct{}),
	}
}

// LinkageFromMap rebuilds a linkage table from a name -> email map such as
// one returned by Map. Like UnmarshalJSON it carries no owners or conflicts.
func LinkageFromMap(m map[string]string) *Linkage {
	l := NewLinkage()
	maps.Copy(l.emails, m)
	return l
}

// identityOf keys an original person by email, falling back to the name
func identityOf(name, email string) string {
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		return "email:" + e
	}
	return "name:" + strings.ToLower(strings.TrimSpace(name))
}

// nameOnly reports whether identity came from a person without an email
func nameOnly(identity string) bool {
	return strings.HasPrefix(identity, "name:")
}

// Record links name to email on behalf of identity. Blank names are
// ignored. A name-only sighting never replaces an existing link, and an
// email-keyed sighting takes over a name-only link without a conflict.
func (l *Linkage) Record(name, email, identity string) {
	if name == "" {
		return
	}
	if _, linked := l.emails[name]; linked && nameOnly(identity) {
		return
	}
	if _, ok := l.first[name]; !ok && !nameOnly(identity) {
		l.first[name] = firstWrite{identity: identity, email: email}
	}
	if owner, ok := l.owners[name]; ok && owner != identity && !nameOnly(owner) {
		l.addConflict(name, owner, identity, l.emails[name], email)
	}
	l.owners[name] = identity
	l.emails[name] = email
}

func (l *Linkage) addConflict(name, fromID, toID, from, to string) {
	l.appendConflict(recordedConflict{
		key:             conflictKey{name, fromID, toID},
		LinkageConflict: LinkageConflict{Name: name, Previous: from, Current: to},
	})
}

func (l *Linkage) appendConflict(c recordedConflict) {
	if _, dup := l.seen[c.key]; dup {
		return
	}
	l.seen[c.key] = struct{}{}
	l.conflicts = append(l.conflicts, c)
}

// Merge applies a partial linkage built over records that come after the
// ones l has seen. The result is the same as recording those records into
// l directly.
func (l *Linkage) Merge(other *Linkage) {
	if other == nil {
		return
	}
	for _, c := range other.conflicts {
		l.appendConflict(c)
	}

	for name, email := range other.emails {
		fw, keyed := other.first[name]
		if !keyed {
			// only name-only sightings, which never replace a link
			if _, linked := l.emails[name]; linked {
				continue
			}
		} else {
			if owner, ok := l.owners[name]; ok && owner != fw.identity && !nameOnly(owner) {
				l.addConflict(name, owner, fw.identity, l.emails[name], fw.email)
			}
			if _, ok := l.first[name]; !ok {
				l.first[name] = fw
			}
		}
		l.owners[name] = other.owners[name]
		l.emails[name] = email
	}
}

// Lookup returns the email linked to an anonymized name
func (l *Linkage) Lookup(name string) (string, bool) {
	email, ok := l.emails[name]
	return email, ok
}

// Len returns the number of linked names
func (l *Linkage) Len() int {
	return len(l.emails)
}

// Names returns the linked names, sorted
func (l *Linkage) Names() []string {
	return slices.Sorted(maps.Keys(l.emails))
}

// Map returns a copy of the name -> email table
func (l *Linkage) Map() map[string]string {
	return maps.Clone(l.emails)
}

// Conflicts returns every recorded conflict in a stable order
func (l *Linkage) Conflicts() []LinkageConflict {
	out := make([]LinkageConflict, len(l.conflicts))
	for i, c := range l.conflicts {
		out[i] = c.LinkageConflict
	}
	slices.SortFunc(out, func(a, b LinkageConflict) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Previous, b.Previous); c != 0 {
			return c
		}
		return cmp.Compare(a.Current, b.Current)
	})
	return out
}

// MarshalJSON encodes the name -> email table
func (l *Linkage) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.emails)
}

// UnmarshalJSON restores a table written by MarshalJSON. Identity tracking
// is not serialized, so a restored linkage has no owners or conflicts.
func (l *Linkage) UnmarshalJSON(data []byte) error {
	emails := make(map[string]string)
	if err := json.Unmarshal(data, &emails); err != nil {
		return err
	}
	*l = *NewLinkage()
	l.emails = emails
	return nil
}
