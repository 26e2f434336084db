package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/chat"
	"github.com/raaihank/chat-anonymizer/internal/mapping"
)

// loadMappings reads a mapping file. JSON files hold a list of
// {original, replacement, kind} objects; anything else is bulk text with
// one Original=Replacement per line. Bad entries are reported in the
// result, never returned as an error.
func loadMappings(path string) (*mapping.Store, mapping.BulkResult, error) {
	store := mapping.NewStore()
	if path == "" {
		return store, mapping.BulkResult{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mapping.BulkResult{}, fmt.Errorf("failed to read mappings: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var entries []mapping.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, mapping.BulkResult{}, fmt.Errorf("failed to parse mappings: %w", err)
		}
		return store, addEntries(store, entries), nil
	}

	return store, store.BulkAdd(string(data)), nil
}

// addEntries adds JSON entries the way BulkAdd adds lines; Line is the
// 1-based position in the list
func addEntries(store *mapping.Store, entries []mapping.Entry) mapping.BulkResult {
	var result mapping.BulkResult
	for i, e := range entries {
		kind := e.Kind
		if kind != "" {
			k, err := mapping.ParseKind(string(kind))
			if err != nil {
				result.Skipped++
				result.Errors = append(result.Errors, mapping.LineError{Line: i + 1, Text: e.Original, Reason: err.Error()})
				continue
			}
			kind = k
		}

		err := store.Add(e.Original, e.Replacement, kind)
		switch err.(type) {
		case nil:
			result.Added++
		case *mapping.DuplicateMappingError:
			result.Duplicates++
			result.Errors = append(result.Errors, mapping.LineError{Line: i + 1, Text: e.Original, Reason: err.Error()})
		default:
			result.Skipped++
			result.Errors = append(result.Errors, mapping.LineError{Line: i + 1, Text: e.Original, Reason: err.Error()})
		}
	}
	return result
}

// printBulkResult writes line errors without echoing the line itself
func printBulkResult(w io.Writer, res mapping.BulkResult) {
	fmt.Fprintf(w, "Mappings added:     %d\n", res.Added)
	if res.Duplicates > 0 {
		fmt.Fprintf(w, "Duplicates:         %d\n", res.Duplicates)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(w, "Invalid lines:      %d\n", res.Skipped)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  line %d: %s\n", e.Line, e.Reason)
	}
}

func printCollisions(w io.Writer, collisions []mapping.Collision) {
	if len(collisions) == 0 {
		return
	}
	fmt.Fprintf(w, "Warning: %d replacements are shared by several originals\n", len(collisions))
	for _, c := range collisions {
		fmt.Fprintf(w, "  %s <- %s\n", c.Replacement, strings.Join(c.Originals, ", "))
	}
}

func newMappingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Validate and generate mapping files",
	}
	cmd.AddCommand(newMappingsCheckCmd(a), newMappingsGenerateCmd(a))
	return cmd
}

func newMappingsCheckCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a mapping file and report collisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappingsCheck(cmd.OutOrStdout(), file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Mapping file (Original=Replacement lines or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runMappingsCheck(w io.Writer, file string) error {
	store, res, err := loadMappings(file)
	if err != nil {
		return err
	}

	printBulkResult(w, res)
	printCollisions(w, store.Collisions())
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d invalid mapping entries", len(res.Errors))
	}
	return nil
}

func newMappingsGenerateCmd(a *app) *cobra.Command {
	var input, base, mode, output, domain string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate placeholder mappings for every person in an export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode == "" {
				mode = a.cfg.Anonymization.Mode
			}
			if domain == "" {
				domain = a.cfg.Anonymization.EmailDomain
			}
			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			n, err := runMappingsGenerate(w, input, base, mode, domain)
			if err != nil {
				return err
			}
			a.log.Info("Mappings generated", zap.Int("mappings", n), zap.String("mode", mode))
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Google Chat messages.json export")
	cmd.Flags().StringVar(&base, "mappings", "", "Existing mapping file to extend")
	cmd.Flags().StringVar(&mode, "mode", "", "Generation mode: mixed or automatic (default from config, manual becomes mixed)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write mappings here instead of stdout")
	cmd.Flags().StringVar(&domain, "email-domain", "", "Domain of generated email placeholders")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// runMappingsGenerate writes the generated mapping set as bulk text and
// returns how many lines it wrote
func runMappingsGenerate(w io.Writer, input, base, modeName, domain string) (int, error) {
	mode, err := mapping.ParseMode(modeName)
	if err != nil {
		return 0, err
	}
	if mode == mapping.ModeManual {
		mode = mapping.ModeMixed
	}

	raw, err := os.ReadFile(input)
	if err != nil {
		return 0, fmt.Errorf("failed to read input: %w", err)
	}
	doc, err := chat.Parse(raw)
	if err != nil {
		return 0, err
	}

	store, _, err := loadMappings(base)
	if err != nil {
		return 0, err
	}

	names, emails := chat.Entities(doc.Records)
	generated, err := mapping.Generate(names, emails, store, mode, domain)
	if err != nil {
		return 0, err
	}

	n := 0
	for e := range generated.All() {
		if _, err := fmt.Fprintf(w, "%s=%s\n", e.Original, e.Replacement); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
