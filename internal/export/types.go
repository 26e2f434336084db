package export

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format represents supported output formats
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Row is the flat shape of one message in CSV and Parquet output
type Row struct {
	Index        int64  `csv:"index" parquet:"index" json:"index"`
	CreatorName  string `csv:"creator_name" parquet:"creator_name" json:"creator_name"`
	CreatorEmail string `csv:"creator_email" parquet:"creator_email" json:"creator_email"`
	TimestampMs  int64  `csv:"timestamp_ms" parquet:"timestamp_ms" json:"timestamp_ms"`
	Text         string `csv:"text" parquet:"text" json:"text"`
	QuotedText   string `csv:"quoted_text" parquet:"quoted_text" json:"quoted_text"`
	Attachments  string `csv:"attachments" parquet:"attachments" json:"attachments"`
	Reactions    string `csv:"reactions" parquet:"reactions" json:"reactions"`
}

var csvHeader = []string{
	"index", "creator_name", "creator_email", "timestamp_ms",
	"text", "quoted_text", "attachments", "reactions",
}

// ParseFormat converts a user supplied format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

// DetectFormat detects the output format from a file extension. Unknown
// extensions fall back to JSON, the shape of the Takeout export itself.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	default:
		return FormatJSON
	}
}

// AnonymizedFilename derives the output name for an input file:
// messages.json becomes messages_anonymized.json
func AnonymizedFilename(name string) string {
	dir, base := filepath.Split(name)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return dir + base[:i] + "_anonymized" + base[i:]
	}
	return name + "_anonymized"
}

// WithExtension swaps the extension of name for the one matching format
func WithExtension(name string, format Format) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + string(format)
}
