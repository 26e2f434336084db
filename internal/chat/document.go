package chat

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Takeout writes dates like "Monday, January 2, 2023 at 10:04:05 AM UTC",
// sometimes with a narrow no-break space before the AM/PM marker.
const takeoutDateLayout = "Monday, January 2, 2006 at 3:04:05 PM MST"

// Document is a parsed Google Chat export. It keeps the original bytes so
// that Export can patch anonymized values back without losing fields the
// normalized model does not carry.
type Document struct {
	raw     []byte
	Records []*MessageRecord
}

// Parse reads a Google Takeout messages.json export
func Parse(raw []byte) (*Document, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrNotChatExport)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrNotChatExport
	}
	messages := root.Get("messages")
	if !messages.IsArray() {
		return nil, ErrNotChatExport
	}

	doc := &Document{raw: raw}
	messages.ForEach(func(_, value gjson.Result) bool {
		doc.Records = append(doc.Records, parseRecord(value))
		return true
	})
	return doc, nil
}

// NewDocument wraps already-normalized records. Export on such a document
// produces a fresh Takeout-shaped payload.
func NewDocument(records []*MessageRecord) *Document {
	return &Document{raw: []byte(`{"messages":[]}`), Records: records}
}

// Len returns the number of message records
func (d *Document) Len() int {
	return len(d.Records)
}

func parseRecord(value gjson.Result) *MessageRecord {
	rec := &MessageRecord{}
	if !value.IsObject() {
		return rec
	}

	if creator := value.Get("creator"); creator.IsObject() {
		rec.Creator = &Person{
			Name:  creator.Get("name").String(),
			Email: creator.Get("email").String(),
		}
	}
	if text := value.Get("text"); text.Exists() {
		s := text.String()
		rec.Text = &s
	}
	rec.TimestampMs = parseTimestamp(value.Get("created_date").String())

	if quoted := value.Get("quoted_message_metadata"); quoted.IsObject() {
		rec.Quoted = parseRecord(quoted)
	}

	value.Get("attached_files").ForEach(func(_, file gjson.Result) bool {
		name := file.Get("original_name").String()
		contentType := file.Get("content_type").String()
		if contentType == "" {
			contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
		}
		rec.Attachments = append(rec.Attachments, Attachment{Filename: name, ContentType: contentType})
		return true
	})

	value.Get("reactions").ForEach(func(_, reaction gjson.Result) bool {
		emoji := reaction.Get("emoji.unicode").String()
		reaction.Get("reactor_emails").ForEach(func(_, email gjson.Result) bool {
			rec.Reactions = append(rec.Reactions, Reaction{
				Emoji:   emoji,
				Reactor: Person{Email: email.String()},
			})
			return true
		})
		return true
	})

	forEachMention(value, func(_, _ int, user gjson.Result) {
		rec.Mentions = append(rec.Mentions, Person{
			Name:  user.Get("name").String(),
			Email: user.Get("email").String(),
		})
	})

	return rec
}

// forEachMention calls fn for every annotation carrying a mentioned user,
// with the annotation index and the running mention slot
func forEachMention(value gjson.Result, fn func(annotation, slot int, user gjson.Result)) {
	slot := 0
	for i, a := range value.Get("annotations").Array() {
		user := a.Get("user_mention_metadata.user")
		if !user.IsObject() {
			continue
		}
		fn(i, slot, user)
		slot++
	}
}

func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, "\u202f", " ")
	if t, err := time.Parse(takeoutDateLayout, s); err == nil {
		return t.UnixMilli()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli()
	}
	return 0
}

// Export writes records back into the original export. Only fields present
// in the source are rewritten; everything else is preserved byte-for-byte
// at the value level. records must align with d.Records.
func (d *Document) Export(records []*MessageRecord) ([]byte, error) {
	if len(records) != len(d.Records) {
		return nil, fmt.Errorf("record count mismatch: document has %d, got %d", len(d.Records), len(records))
	}

	source := gjson.GetBytes(d.raw, "messages").Array()

	var b strings.Builder
	b.WriteByte('[')
	for i, rec := range records {
		if i > 0 {
			b.WriteByte(',')
		}
		var msgRaw string
		if i < len(source) {
			msgRaw = source[i].Raw
		} else {
			msgRaw = "{}"
		}
		if rec == nil {
			return nil, fmt.Errorf("message %d: record is nil", i)
		}
		patched, err := patchRecord(msgRaw, rec, i >= len(source))
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		b.WriteString(patched)
	}
	b.WriteByte(']')

	return sjson.SetRawBytes(d.raw, "messages", []byte(b.String()))
}

// patchRecord rewrites the anonymizable fields of one message. When fresh
// is true the message did not exist in the source and every field is written.
func patchRecord(msgRaw string, rec *MessageRecord, fresh bool) (string, error) {
	if rec == nil {
		return msgRaw, nil
	}
	src := gjson.Parse(msgRaw)
	if !src.IsObject() {
		return msgRaw, nil
	}
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		msgRaw, err = sjson.Set(msgRaw, path, value)
	}

	if rec.Creator != nil {
		if fresh || src.Get("creator.name").Exists() {
			set("creator.name", rec.Creator.Name)
		}
		if fresh || src.Get("creator.email").Exists() {
			set("creator.email", rec.Creator.Email)
		}
	}
	if rec.Text != nil && (fresh || src.Get("text").Exists()) {
		set("text", *rec.Text)
	}
	if fresh && rec.TimestampMs != 0 {
		set("created_date", time.UnixMilli(rec.TimestampMs).UTC().Format(takeoutDateLayout))
	}

	if rec.Quoted != nil {
		quotedRaw := src.Get("quoted_message_metadata").Raw
		if quotedRaw == "" {
			quotedRaw = "{}"
		}
		patched, qerr := patchRecord(quotedRaw, rec.Quoted, fresh || !src.Get("quoted_message_metadata").Exists())
		if qerr != nil {
			return "", qerr
		}
		if err == nil {
			msgRaw, err = sjson.SetRaw(msgRaw, "quoted_message_metadata", patched)
		}
	}

	files := src.Get("attached_files").Array()
	for k, att := range rec.Attachments {
		if k < len(files) && !files[k].Get("original_name").Exists() {
			continue
		}
		set(fmt.Sprintf("attached_files.%d.original_name", k), att.Filename)
	}

	// Reactions were flattened one entry per reactor email; walk the source
	// in the same order to find each slot.
	slot := 0
	for j, reaction := range src.Get("reactions").Array() {
		for k := range reaction.Get("reactor_emails").Array() {
			if slot < len(rec.Reactions) {
				set(fmt.Sprintf("reactions.%d.reactor_emails.%d", j, k), rec.Reactions[slot].Reactor.Email)
			}
			slot++
		}
	}
	forEachMention(src, func(annotation, slot int, user gjson.Result) {
		if slot >= len(rec.Mentions) {
			return
		}
		base := fmt.Sprintf("annotations.%d.user_mention_metadata.user.", annotation)
		if user.Get("name").Exists() {
			set(base+"name", rec.Mentions[slot].Name)
		}
		if user.Get("email").Exists() {
			set(base+"email", rec.Mentions[slot].Email)
		}
	})

	if fresh {
		for j, r := range rec.Reactions {
			set(fmt.Sprintf("reactions.%d.emoji.unicode", j), r.Emoji)
			set(fmt.Sprintf("reactions.%d.reactor_emails.0", j), r.Reactor.Email)
		}
	}

	return msgRaw, err
}
