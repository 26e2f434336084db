package anonymizer

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raaihank/chat-anonymizer/internal/chat"
	"github.com/raaihank/chat-anonymizer/internal/links"
)

func sampleRecord() *chat.MessageRecord {
	return &chat.MessageRecord{
		Creator:     &chat.Person{Name: "Jane Doe", Email: "jane@x.com"},
		Text:        chat.StringPtr("John, see https://github.com/acme/repo"),
		TimestampMs: 1672653845000,
		Quoted: &chat.MessageRecord{
			Creator: &chat.Person{Name: "John Smith", Email: "john@x.com"},
			Text:    chat.StringPtr("John wrote this for Jane Doe"),
		},
		Reactions: []chat.Reaction{
			{Emoji: "👍", Reactor: chat.Person{Email: "john@x.com"}},
		},
		Attachments: []chat.Attachment{
			{Filename: "John_notes.pdf", ContentType: "application/pdf"},
		},
		Mentions: []chat.Person{{Name: "John Smith", Email: "john@x.com"}},
	}
}

func sampleRules(t *testing.T) *RuleSet {
	t.Helper()
	return compileStore(t,
		newStore(t,
			pair{"Jane Doe", "P3"},
			pair{"jane@x.com", "person3@example.com"},
			pair{"John Smith", "P2"},
			pair{"John", "P1"},
			pair{"john@x.com", "person1@example.com"},
		),
		links.DefaultRules(), links.ModeDomainAware)
}

func TestRecordApply(t *testing.T) {
	rec := sampleRecord()
	before := rec.Clone()
	linkage := NewLinkage()

	out := NewRecordAnonymizer(sampleRules(t), LinkOriginalEmail).Apply(rec, linkage)

	want := &chat.MessageRecord{
		Creator:     &chat.Person{Name: "P3", Email: "person3@example.com"},
		Text:        chat.StringPtr("P1, see [GITHUB_LINK]"),
		TimestampMs: 1672653845000,
		Quoted: &chat.MessageRecord{
			Creator: &chat.Person{Name: "P2", Email: "person1@example.com"},
			Text:    chat.StringPtr("P1 wrote this for P3"),
		},
		Reactions: []chat.Reaction{
			{Emoji: "👍", Reactor: chat.Person{Email: "person1@example.com"}},
		},
		Attachments: []chat.Attachment{
			{Filename: "P1_notes.pdf", ContentType: "application/pdf"},
		},
		Mentions: []chat.Person{{Name: "P2", Email: "person1@example.com"}},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("anonymized record mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(before, rec); diff != "" {
		t.Errorf("input record was mutated (-before +after):\n%s", diff)
	}
}

func TestRecordLinkage(t *testing.T) {
	t.Run("OriginalEmail", func(t *testing.T) {
		linkage := NewLinkage()
		NewRecordAnonymizer(sampleRules(t), LinkOriginalEmail).Apply(sampleRecord(), linkage)

		if email, ok := linkage.Lookup("P3"); !ok || email != "jane@x.com" {
			t.Errorf(`linkage["P3"] = %q, %v; want jane@x.com`, email, ok)
		}
		if email, _ := linkage.Lookup("P2"); email != "john@x.com" {
			t.Errorf(`quoted author linkage["P2"] = %q`, email)
		}
		// reactors have no display name in exports
		if linkage.Len() != 2 {
			t.Errorf("linkage has %d names, want 2: %v", linkage.Len(), linkage.Names())
		}
	})

	t.Run("MappedEmail", func(t *testing.T) {
		linkage := NewLinkage()
		NewRecordAnonymizer(sampleRules(t), LinkMappedEmail).Apply(sampleRecord(), linkage)

		if email, _ := linkage.Lookup("P3"); email != "person3@example.com" {
			t.Errorf(`linkage["P3"] = %q, want person3@example.com`, email)
		}
	})

	t.Run("NilLinkage", func(t *testing.T) {
		out := NewRecordAnonymizer(sampleRules(t), LinkOriginalEmail).Apply(sampleRecord(), nil)
		if out.Creator.Name != "P3" {
			t.Errorf("record not anonymized without linkage: %+v", out.Creator)
		}
	})
}

func TestRecordQuoteParity(t *testing.T) {
	rs := sampleRules(t)
	rec := &chat.MessageRecord{
		Creator: &chat.Person{Name: "Jane Doe"},
		Text:    chat.StringPtr("John Smith agreed"),
		Quoted: &chat.MessageRecord{
			Text: chat.StringPtr("John Smith agreed"),
			Quoted: &chat.MessageRecord{
				Text: chat.StringPtr("John Smith agreed"),
			},
		},
	}

	out := NewRecordAnonymizer(rs, LinkOriginalEmail).Apply(rec, NewLinkage())

	outer := out.TextValue()
	if outer != "P2 agreed" {
		t.Fatalf("outer text = %q", outer)
	}
	if out.Quoted.TextValue() != outer || out.Quoted.Quoted.TextValue() != outer {
		t.Errorf("quotes differ from outer text: %q / %q / %q",
			outer, out.Quoted.TextValue(), out.Quoted.Quoted.TextValue())
	}
}

func TestRecordMissingFields(t *testing.T) {
	rs := sampleRules(t)
	rec := &chat.MessageRecord{Attachments: []chat.Attachment{{Filename: "jane@x.com.txt"}}}

	out := NewRecordAnonymizer(rs, LinkOriginalEmail).Apply(rec, NewLinkage())
	if out.Creator != nil || out.Text != nil || out.Quoted != nil || out.Reactions != nil {
		t.Errorf("absent fields must stay absent: %+v", out)
	}
	// email rules are not applied to filenames
	if out.Attachments[0].Filename != "jane@x.com.txt" {
		t.Errorf("filename = %q", out.Attachments[0].Filename)
	}

	if NewRecordAnonymizer(rs, "").Apply(nil, nil) != nil {
		t.Error("nil record should anonymize to nil")
	}
}
