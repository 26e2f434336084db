package anonymizer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type linkEvent struct{ name, email, identity string }

var linkEvents = []linkEvent{
	{"P1", "jane@x.com", "email:jane@x.com"},
	{"P2", "john@x.com", "email:john@x.com"},
	{"Manager", "bob@x.com", "email:bob@x.com"},
	{"P1", "", "name:jane doe"},
	{"P4", "", "name:ann lee"},
	{"P1", "jane@x.com", "email:jane@x.com"},
	{"Manager", "eve@x.com", "email:eve@x.com"},
	{"P4", "ann@x.com", "email:ann@x.com"},
	{"P2", "john@x.com", "email:john@x.com"},
	{"Manager", "bob@x.com", "email:bob@x.com"},
	{"Guest", "", "name:guest"},
	{"P4", "", "name:ann lee"},
	{"Manager", "eve@x.com", "email:eve@x.com"},
	{"Guest", "", "name:guest"},
}

func record(l *Linkage, events []linkEvent) {
	for _, e := range events {
		l.Record(e.name, e.email, e.identity)
	}
}

func TestLinkageLastWriteWins(t *testing.T) {
	l := NewLinkage()
	record(l, linkEvents)

	if email, _ := l.Lookup("Manager"); email != "eve@x.com" {
		t.Errorf(`Lookup("Manager") = %q, want eve@x.com`, email)
	}
	if email, _ := l.Lookup("P1"); email != "jane@x.com" {
		t.Errorf(`Lookup("P1") = %q, want jane@x.com`, email)
	}
	if email, _ := l.Lookup("P4"); email != "ann@x.com" {
		t.Errorf(`Lookup("P4") = %q, want ann@x.com`, email)
	}
	if diff := cmp.Diff([]string{"Guest", "Manager", "P1", "P2", "P4"}, l.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}

	want := []LinkageConflict{
		{Name: "Manager", Previous: "bob@x.com", Current: "eve@x.com"},
		{Name: "Manager", Previous: "eve@x.com", Current: "bob@x.com"},
	}
	if diff := cmp.Diff(want, l.Conflicts()); diff != "" {
		t.Errorf("Conflicts mismatch (-want +got):\n%s", diff)
	}
}

func TestLinkageNameOnlySightings(t *testing.T) {
	t.Run("keeps an existing email", func(t *testing.T) {
		l := NewLinkage()
		l.Record("P3", "jane@x.com", identityOf("Jane Doe", "jane@x.com"))
		l.Record("P3", "", identityOf("Jane Doe", ""))

		if email, _ := l.Lookup("P3"); email != "jane@x.com" {
			t.Errorf(`Lookup("P3") = %q, want jane@x.com`, email)
		}
		if c := l.Conflicts(); len(c) != 0 {
			t.Errorf("unexpected conflicts: %v", c)
		}
	})

	t.Run("upgraded by a later email", func(t *testing.T) {
		l := NewLinkage()
		l.Record("P3", "", identityOf("Jane Doe", ""))
		l.Record("P3", "jane@x.com", identityOf("Jane Doe", "jane@x.com"))

		if email, _ := l.Lookup("P3"); email != "jane@x.com" {
			t.Errorf(`Lookup("P3") = %q, want jane@x.com`, email)
		}
		if c := l.Conflicts(); len(c) != 0 {
			t.Errorf("unexpected conflicts: %v", c)
		}
	})

	t.Run("kept when nothing else is known", func(t *testing.T) {
		l := NewLinkage()
		l.Record("Guest", "", identityOf("Guest", ""))
		if email, ok := l.Lookup("Guest"); !ok || email != "" {
			t.Errorf(`Lookup("Guest") = %q, %v`, email, ok)
		}
	})

	t.Run("restored table keeps its email", func(t *testing.T) {
		l := LinkageFromMap(map[string]string{"P3": "jane@x.com"})
		l.Record("P3", "", identityOf("Jane Doe", ""))
		if email, _ := l.Lookup("P3"); email != "jane@x.com" {
			t.Errorf(`Lookup("P3") = %q, want jane@x.com`, email)
		}
	})
}

func TestLinkageIgnoresBlankNames(t *testing.T) {
	l := NewLinkage()
	l.Record("", "x@x.com", "email:x@x.com")
	if l.Len() != 0 {
		t.Errorf("blank name was recorded")
	}
}

func TestLinkageMergeMatchesSequential(t *testing.T) {
	sequential := NewLinkage()
	record(sequential, linkEvents)

	for split := 0; split <= len(linkEvents); split++ {
		for second := split; second <= len(linkEvents); second++ {
			parts := [][]linkEvent{linkEvents[:split], linkEvents[split:second], linkEvents[second:]}

			merged := NewLinkage()
			for _, part := range parts {
				partial := NewLinkage()
				record(partial, part)
				merged.Merge(partial)
			}

			if diff := cmp.Diff(sequential.Map(), merged.Map()); diff != "" {
				t.Fatalf("split %d/%d: map mismatch (-sequential +merged):\n%s", split, second, diff)
			}
			if diff := cmp.Diff(sequential.Conflicts(), merged.Conflicts()); diff != "" {
				t.Fatalf("split %d/%d: conflicts mismatch (-sequential +merged):\n%s", split, second, diff)
			}
		}
	}
}

func TestLinkageJSON(t *testing.T) {
	l := NewLinkage()
	record(l, linkEvents[:3])

	data, err := l.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	var restored Linkage
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(l.Map(), restored.Map()); diff != "" {
		t.Errorf("restored linkage mismatch (-want +got):\n%s", diff)
	}
	// restored tables accept new records
	restored.Record("P9", "z@x.com", "email:z@x.com")
}

func TestLinkageFromMap(t *testing.T) {
	src := map[string]string{"P1": "jane@x.com", "P2": "john@x.com"}
	l := LinkageFromMap(src)
	src["P3"] = "late@x.com"

	if l.Len() != 2 {
		t.Fatalf("linkage should copy the map, got %d names", l.Len())
	}
	if email, ok := l.Lookup("P2"); !ok || email != "john@x.com" {
		t.Errorf("Lookup(P2) = %q, %v", email, ok)
	}
	if len(l.Conflicts()) != 0 {
		t.Error("a rebuilt linkage has no conflicts")
	}
}
