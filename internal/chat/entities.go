package chat

import (
	"regexp"
	"sort"
	"strings"
)

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// Entities lists the distinct creator names and email addresses that appear
// in the records: author, reactor and mentioned identities, quoted authors, and email
// addresses mentioned in message text. Names are sorted case-insensitively,
// emails are lower-cased and sorted.
func Entities(records []*MessageRecord) (names, emails []string) {
	nameSet := make(map[string]struct{})
	emailSet := make(map[string]struct{})

	addPerson := func(p Person) {
		if n := strings.TrimSpace(p.Name); n != "" {
			nameSet[n] = struct{}{}
		}
		if e := strings.TrimSpace(p.Email); e != "" {
			emailSet[strings.ToLower(e)] = struct{}{}
		}
	}

	var walk func(rec *MessageRecord)
	walk = func(rec *MessageRecord) {
		if rec == nil {
			return
		}
		if rec.Creator != nil {
			addPerson(*rec.Creator)
		}
		for _, r := range rec.Reactions {
			addPerson(r.Reactor)
		}
		for _, m := range rec.Mentions {
			addPerson(m)
		}
		for _, found := range emailPattern.FindAllString(rec.TextValue(), -1) {
			emailSet[strings.ToLower(found)] = struct{}{}
		}
		walk(rec.Quoted)
	}
	for _, rec := range records {
		walk(rec)
	}

	for n := range nameSet {
		names = append(names, n)
	}
	for e := range emailSet {
		emails = append(emails, e)
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := strings.ToLower(names[i]), strings.ToLower(names[j])
		if li != lj {
			return li < lj
		}
		return names[i] < names[j]
	})
	sort.Strings(emails)
	return names, emails
}
