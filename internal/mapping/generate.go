package mapping

import (
	"fmt"
	"strings"
)

// DefaultEmailDomain is the domain used for generated email placeholders
const DefaultEmailDomain = "example.com"

// NamePlaceholder returns the generated replacement for the n-th name
func NamePlaceholder(n int) string {
	return fmt.Sprintf("Person %d", n)
}

// EmailPlaceholder returns the generated replacement for the n-th email
func EmailPlaceholder(n int, domain string) string {
	if domain == "" {
		domain = DefaultEmailDomain
	}
	return fmt.Sprintf("person%d@%s", n, domain)
}

// Generate builds the mapping set for a run. names and emails are the
// identities discovered in the export, already in display order.
//
//   - manual:    base is used as is
//   - mixed:     base entries win, every other identity gets a placeholder
//   - automatic: every identity gets a placeholder, base is ignored
//
// Counters start at 1 and follow the order of names and emails, so the same
// input always yields the same placeholders.
func Generate(names, emails []string, base *Store, mode Mode, emailDomain string) (*Store, error) {
	if base == nil {
		base = NewStore()
	}

	var out *Store
	switch mode {
	case ModeManual:
		return base.Clone(), nil
	case ModeMixed:
		out = base.Clone()
	case ModeAutomatic:
		out = NewStore()
	default:
		return nil, fmt.Errorf("invalid mode '%s': must be 'automatic', 'manual', or 'mixed'", mode)
	}

	person := 1
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, exists := out.Get(name); exists {
			continue
		}
		if err := out.Add(name, NamePlaceholder(person), KindName); err != nil {
			return nil, fmt.Errorf("failed to add generated mapping: %w", err)
		}
		person++
	}

	counter := 1
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		if _, exists := out.Get(email); exists {
			continue
		}
		if err := out.Add(email, EmailPlaceholder(counter, emailDomain), KindEmail); err != nil {
			return nil, fmt.Errorf("failed to add generated mapping: %w", err)
		}
		counter++
	}

	return out, nil
}
