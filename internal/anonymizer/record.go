package anonymizer

import (
	"github.com/raaihank/chat-anonymizer/internal/chat"
)

// RecordAnonymizer applies a RuleSet to one message record, choosing the
// view that fits each field
type RecordAnonymizer struct {
	rules  *RuleSet
	policy LinkagePolicy
}

// NewRecordAnonymizer creates a record anonymizer over a compiled rule set
func NewRecordAnonymizer(rules *RuleSet, policy LinkagePolicy) *RecordAnonymizer {
	if policy == "" {
		policy = LinkOriginalEmail
	}
	return &RecordAnonymizer{rules: rules, policy: policy}
}

// Apply returns an anonymized deep copy of rec. Every person it meets
// (quoted authors, reactors and mentioned users included) is recorded into
// linkage when linkage is not nil. rec itself is never modified.
func (a *RecordAnonymizer) Apply(rec *chat.MessageRecord, linkage *Linkage) *chat.MessageRecord {
	out, _ := a.apply(rec, linkage)
	return out
}

// apply also returns the number of replacements made
func (a *RecordAnonymizer) apply(rec *chat.MessageRecord, linkage *Linkage) (*chat.MessageRecord, int) {
	if rec == nil {
		return nil, 0
	}

	out := &chat.MessageRecord{TimestampMs: rec.TimestampMs}
	total := 0

	if rec.Creator != nil {
		p, n := a.person(*rec.Creator, linkage)
		out.Creator = &p
		total += n
	}

	if rec.Text != nil {
		text, n := a.rules.Text.ApplyCount(*rec.Text)
		out.Text = &text
		total += n
	}

	if rec.Quoted != nil {
		q, n := a.apply(rec.Quoted, linkage)
		out.Quoted = q
		total += n
	}

	if rec.Reactions != nil {
		out.Reactions = make([]chat.Reaction, len(rec.Reactions))
		for i, r := range rec.Reactions {
			p, n := a.person(r.Reactor, linkage)
			out.Reactions[i] = chat.Reaction{Emoji: r.Emoji, Reactor: p}
			total += n
		}
	}

	if rec.Attachments != nil {
		out.Attachments = make([]chat.Attachment, len(rec.Attachments))
		for i, att := range rec.Attachments {
			name, n := a.rules.Filenames.ApplyCount(att.Filename)
			out.Attachments[i] = chat.Attachment{Filename: name, ContentType: att.ContentType}
			total += n
		}
	}

	if rec.Mentions != nil {
		out.Mentions = make([]chat.Person, len(rec.Mentions))
		for i, m := range rec.Mentions {
			p, n := a.person(m, linkage)
			out.Mentions[i] = p
			total += n
		}
	}

	return out, total
}

func (a *RecordAnonymizer) person(p chat.Person, linkage *Linkage) (chat.Person, int) {
	name, nn := a.rules.Names.ApplyCount(p.Name)
	email, ne := a.rules.Emails.ApplyCount(p.Email)

	if linkage != nil && name != "" {
		linked := p.Email
		if a.policy == LinkMappedEmail {
			linked = email
		}
		linkage.Record(name, linked, identityOf(p.Name, p.Email))
	}

	return chat.Person{Name: name, Email: email}, nn + ne
}
