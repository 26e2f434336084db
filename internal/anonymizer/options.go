package anonymizer

import (
	"fmt"
	"strings"

	"github.com/raaihank/chat-anonymizer/internal/links"
)

// SchemaPolicy decides what happens to records that fail validation
type SchemaPolicy string

const (
	// SchemaSkip keeps going and reports the malformed record indices
	SchemaSkip SchemaPolicy = "skip"
	// SchemaAbort fails the run on the first malformed record
	SchemaAbort SchemaPolicy = "abort"
)

// LinkagePolicy selects which email the linkage table stores for a name
type LinkagePolicy string

const (
	// LinkOriginalEmail links an anonymized name to the author's real email
	LinkOriginalEmail LinkagePolicy = "original"
	// LinkMappedEmail links an anonymized name to the anonymized email
	LinkMappedEmail LinkagePolicy = "mapped"
)

const (
	DefaultProgressEvery    = 100
	DefaultMinFilenameMatch = 3
)

// ProgressReporter receives coarse progress updates during a run. It is
// always called from the goroutine that called Run or Anonymize.
type ProgressReporter interface {
	Progress(done, total int)
}

// ProgressFunc adapts a plain function to ProgressReporter
type ProgressFunc func(done, total int)

// Progress calls f(done, total)
func (f ProgressFunc) Progress(done, total int) { f(done, total) }

// Options configures one anonymization run. The engine keeps no state
// between runs; everything it needs is in here.
type Options struct {
	SchemaPolicy  SchemaPolicy  `json:"schema_policy"`
	LinkagePolicy LinkagePolicy `json:"linkage_policy"`
	LinkMode      links.Mode    `json:"link_mode"`

	// MinFilenameMatch is the shortest mapping literal, in runes, applied
	// inside attachment filenames
	MinFilenameMatch int `json:"min_filename_match"`

	// Workers > 1 splits the records into contiguous chunks processed in
	// parallel, each with a private linkage merged afterwards
	Workers int `json:"workers"`

	ProgressEvery int              `json:"progress_every"`
	Progress      ProgressReporter `json:"-"`
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		SchemaPolicy:     SchemaSkip,
		LinkagePolicy:    LinkOriginalEmail,
		LinkMode:         links.ModeDomainAware,
		MinFilenameMatch: DefaultMinFilenameMatch,
		Workers:          1,
		ProgressEvery:    DefaultProgressEvery,
	}
}

// Validate checks the options and fills zero values with defaults
func (o *Options) Validate() error {
	switch o.SchemaPolicy {
	case "":
		o.SchemaPolicy = SchemaSkip
	case SchemaSkip, SchemaAbort:
	default:
		return fmt.Errorf("invalid schema policy '%s': must be 'skip' or 'abort'", o.SchemaPolicy)
	}

	switch o.LinkagePolicy {
	case "":
		o.LinkagePolicy = LinkOriginalEmail
	case LinkOriginalEmail, LinkMappedEmail:
	default:
		return fmt.Errorf("invalid linkage policy '%s': must be 'original' or 'mapped'", o.LinkagePolicy)
	}

	switch o.LinkMode {
	case "":
		o.LinkMode = links.ModeDomainAware
	case links.ModeDomainAware, links.ModeFull:
	default:
		return fmt.Errorf("invalid link mode '%s': must be 'domain' or 'full'", o.LinkMode)
	}

	if o.MinFilenameMatch < 0 {
		return fmt.Errorf("min filename match cannot be negative")
	}
	if o.MinFilenameMatch == 0 {
		o.MinFilenameMatch = DefaultMinFilenameMatch
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	if o.Workers == 0 {
		o.Workers = 1
	}
	if o.ProgressEvery < 0 {
		return fmt.Errorf("progress interval cannot be negative")
	}
	if o.ProgressEvery == 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	return nil
}

// ParseSchemaPolicy converts a user supplied policy name
func ParseSchemaPolicy(s string) (SchemaPolicy, error) {
	o := Options{SchemaPolicy: SchemaPolicy(strings.ToLower(strings.TrimSpace(s)))}
	if err := o.Validate(); err != nil {
		return "", err
	}
	return o.SchemaPolicy, nil
}

// ParseLinkagePolicy converts a user supplied linkage policy name
func ParseLinkagePolicy(s string) (LinkagePolicy, error) {
	o := Options{LinkagePolicy: LinkagePolicy(strings.ToLower(strings.TrimSpace(s)))}
	if err := o.Validate(); err != nil {
		return "", err
	}
	return o.LinkagePolicy, nil
}
