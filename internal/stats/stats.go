// Package stats summarizes a chat conversation: who wrote how much and when.
package stats

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/raaihank/chat-anonymizer/internal/anonymizer"
	"github.com/raaihank/chat-anonymizer/internal/chat"
)

const (
	dayLayout   = "2006-01-02"
	unknownName = "Unknown"
)

// Participant is one author and the number of messages they wrote
type Participant struct {
	Name       string  `json:"name"`
	Email      string  `json:"email,omitempty"`
	Messages   int     `json:"messages"`
	Percentage float64 `json:"percentage"`
}

// Day counts messages on one calendar day (UTC)
type Day struct {
	Date     string `json:"date"`
	Messages int    `json:"messages"`
}

// Stats describes a conversation
type Stats struct {
	TotalMessages      int           `json:"total_messages"`
	UniqueParticipants int           `json:"unique_participants"`
	Participants       []Participant `json:"participants"`

	// Date fields only consider records with a timestamp
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	TotalDays     int       `json:"total_days"`
	Daily         []Day     `json:"daily,omitempty"`
	MostActiveDay *Day      `json:"most_active_day,omitempty"`
	AveragePerDay float64   `json:"average_per_day"`
}

// Compute builds statistics for records. When linkage is given, participant
// emails are resolved through it, so anonymized records still show which
// email a placeholder stands for.
func Compute(records []*chat.MessageRecord, linkage *anonymizer.Linkage) *Stats {
	records = lo.Filter(records, func(r *chat.MessageRecord, _ int) bool { return r != nil })

	s := &Stats{TotalMessages: len(records)}
	if len(records) == 0 {
		return s
	}

	emails := make(map[string]string)
	counts := lo.CountValuesBy(records, func(r *chat.MessageRecord) string {
		name := participantName(r.CreatorValue())
		if _, ok := emails[name]; !ok {
			emails[name] = r.CreatorValue().Email
		}
		return name
	})

	for _, name := range lo.Keys(counts) {
		email := emails[name]
		if linkage != nil {
			if linked, ok := linkage.Lookup(name); ok {
				email = linked
			}
		}
		s.Participants = append(s.Participants, Participant{
			Name:       name,
			Email:      email,
			Messages:   counts[name],
			Percentage: float64(counts[name]) * 100 / float64(len(records)),
		})
	}
	slices.SortFunc(s.Participants, func(a, b Participant) int {
		if c := cmp.Compare(b.Messages, a.Messages); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	s.UniqueParticipants = len(s.Participants)

	dated := lo.Filter(records, func(r *chat.MessageRecord, _ int) bool { return r.TimestampMs > 0 })
	if len(dated) == 0 {
		return s
	}

	times := lo.Map(dated, func(r *chat.MessageRecord, _ int) time.Time {
		return time.UnixMilli(r.TimestampMs).UTC()
	})
	s.Start = slices.MinFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	s.End = slices.MaxFunc(times, func(a, b time.Time) int { return a.Compare(b) })
	s.TotalDays = int(truncateDay(s.End).Sub(truncateDay(s.Start)).Hours()/24) + 1

	daily := lo.CountValuesBy(times, func(t time.Time) string { return t.Format(dayLayout) })
	for _, date := range lo.Keys(daily) {
		s.Daily = append(s.Daily, Day{Date: date, Messages: daily[date]})
	}
	slices.SortFunc(s.Daily, func(a, b Day) int { return cmp.Compare(a.Date, b.Date) })

	// earliest day wins a tie
	busiest := s.Daily[0]
	for _, d := range s.Daily[1:] {
		if d.Messages > busiest.Messages {
			busiest = d
		}
	}
	s.MostActiveDay = &busiest
	s.AveragePerDay = float64(len(dated)) / float64(max(s.TotalDays, 1))

	return s
}

func participantName(p chat.Person) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Email != "":
		return p.Email
	}
	return unknownName
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
