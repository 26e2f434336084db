// Package export writes anonymized conversations as JSON, CSV or Parquet.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
	"github.com/tidwall/pretty"

	"github.com/raaihank/chat-anonymizer/internal/chat"
)

// Write encodes records in the given format. JSON output is the source
// export with anonymized values patched in, so doc must be the document the
// records came from; CSV and Parquet only need the records.
func Write(w io.Writer, format Format, doc *chat.Document, records []*chat.MessageRecord) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, doc, records)
	case FormatCSV:
		return writeCSV(w, Rows(records))
	case FormatParquet:
		return writeParquet(w, Rows(records))
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func writeJSON(w io.Writer, doc *chat.Document, records []*chat.MessageRecord) error {
	if doc == nil {
		doc = chat.NewDocument(records)
	}
	data, err := doc.Export(records)
	if err != nil {
		return fmt.Errorf("failed to export JSON: %w", err)
	}
	if _, err := w.Write(pretty.Pretty(data)); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.Index, 10),
			r.CreatorName,
			r.CreatorEmail,
			strconv.FormatInt(r.TimestampMs, 10),
			r.Text,
			r.QuotedText,
			r.Attachments,
			r.Reactions,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record %d: %w", r.Index, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeParquet(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write Parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

// Rows flattens records for tabular output. Nil records keep their index
// with empty columns so row numbers line up with the source.
func Rows(records []*chat.MessageRecord) []Row {
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i].Index = int64(i)
		if rec == nil {
			continue
		}

		creator := rec.CreatorValue()
		rows[i].CreatorName = creator.Name
		rows[i].CreatorEmail = creator.Email
		rows[i].TimestampMs = rec.TimestampMs
		rows[i].Text = rec.TextValue()
		if rec.Quoted != nil {
			rows[i].QuotedText = rec.Quoted.TextValue()
		}

		files := make([]string, len(rec.Attachments))
		for k, a := range rec.Attachments {
			files[k] = a.Filename
		}
		rows[i].Attachments = strings.Join(files, "; ")

		reactions := make([]string, len(rec.Reactions))
		for k, r := range rec.Reactions {
			reactions[k] = r.Emoji + " " + r.Reactor.Email
		}
		rows[i].Reactions = strings.Join(reactions, "; ")
	}
	return rows
}
