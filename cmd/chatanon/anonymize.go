package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/anonymizer"
	"github.com/raaihank/chat-anonymizer/internal/chat"
	"github.com/raaihank/chat-anonymizer/internal/config"
	"github.com/raaihank/chat-anonymizer/internal/export"
	"github.com/raaihank/chat-anonymizer/internal/logger"
	"github.com/raaihank/chat-anonymizer/internal/mapping"
)

// anonymizeFlags are the anonymize options; empty values fall back to the
// configuration
type anonymizeFlags struct {
	input         string
	output        string
	mappings      string
	mode          string
	emailDomain   string
	linkMode      string
	linkagePolicy string
	policy        string
	format        string
	categories    []string
	noLinks       bool
	workers       int
	quiet         bool
}

func newAnonymizeCmd(a *app) *cobra.Command {
	var flags anonymizeFlags

	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Anonymize a Google Chat messages.json export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err := runAnonymize(ctx, a.cfg, a.log, flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.input, "input", "i", "", "Google Chat messages.json export")
	f.StringVarP(&flags.output, "output", "o", "", "Output file, - for stdout (default <input>_anonymized.<format>)")
	f.StringVarP(&flags.mappings, "mappings", "m", "", "Mapping file (Original=Replacement lines or JSON)")
	f.StringVar(&flags.mode, "mode", "", "Mapping mode: manual, mixed or automatic")
	f.StringVar(&flags.emailDomain, "email-domain", "", "Domain of generated email placeholders")
	f.StringVar(&flags.linkMode, "link-mode", "", "Link placeholders: domain or full")
	f.StringVar(&flags.linkagePolicy, "linkage", "", "Linkage table emails: original or mapped")
	f.StringVar(&flags.policy, "policy", "", "Malformed records: skip or abort")
	f.StringVar(&flags.format, "format", "", "Output format: json, csv or parquet (default from output extension)")
	f.StringSliceVar(&flags.categories, "link-categories", nil, "Link categories to anonymize (default from config)")
	f.BoolVar(&flags.noLinks, "no-links", false, "Leave links untouched")
	f.IntVarP(&flags.workers, "workers", "w", 0, "Parallel workers (default from config)")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "Hide the progress bar")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// anonymizeRun is what one CLI run produced
type anonymizeRun struct {
	Result *anonymizer.Result
	Output string
	Format export.Format
}

// settings applies the flags on top of the configured anonymization section
func (f anonymizeFlags) settings(cfg config.AnonymizationConfig) config.AnonymizationConfig {
	if f.mode != "" {
		cfg.Mode = f.mode
	}
	if f.emailDomain != "" {
		cfg.EmailDomain = f.emailDomain
	}
	if f.linkMode != "" {
		cfg.LinkMode = f.linkMode
	}
	if f.linkagePolicy != "" {
		cfg.LinkagePolicy = f.linkagePolicy
	}
	if f.policy != "" {
		cfg.SchemaPolicy = f.policy
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.categories != nil {
		cfg.LinkCategories = f.categories
	}
	if f.noLinks {
		cfg.LinkCategories = []string{}
	}
	return cfg
}

// outputTarget picks the output path and format. An explicit format wins,
// then the output extension, then the configured default.
func (f anonymizeFlags) outputTarget(cfg config.ExportConfig) (string, export.Format, error) {
	var format export.Format
	switch {
	case f.format != "":
		parsed, err := export.ParseFormat(f.format)
		if err != nil {
			return "", "", err
		}
		format = parsed
	case f.output != "" && f.output != "-":
		format = export.DetectFormat(f.output)
	default:
		parsed, err := export.ParseFormat(cfg.Format)
		if err != nil {
			return "", "", err
		}
		format = parsed
	}

	output := f.output
	if output == "" {
		output = export.WithExtension(export.AnonymizedFilename(f.input), format)
		if cfg.OutputDir != "" {
			output = filepath.Join(cfg.OutputDir, filepath.Base(output))
		}
	}
	return output, format, nil
}

// prepareStore loads the mapping file and runs generation for the
// configured mode
func prepareStore(records []*chat.MessageRecord, file, modeName, domain string, stderr io.Writer) (*mapping.Store, error) {
	mode, err := mapping.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	store, res, err := loadMappings(file)
	if err != nil {
		return nil, err
	}
	if file != "" && len(res.Errors) > 0 {
		printBulkResult(stderr, res)
	}

	if mode != mapping.ModeManual {
		names, emails := chat.Entities(records)
		store, err = mapping.Generate(names, emails, store, mode, domain)
		if err != nil {
			return nil, err
		}
	}
	return store, nil
}

func runAnonymize(ctx context.Context, cfg *config.Config, log *logger.Logger, flags anonymizeFlags, stdout, stderr io.Writer) (*anonymizeRun, error) {
	settings := flags.settings(cfg.Anonymization)
	opts, err := settings.EngineOptions()
	if err != nil {
		return nil, err
	}
	rules, err := settings.LinkRules()
	if err != nil {
		return nil, err
	}
	output, format, err := flags.outputTarget(cfg.Export)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(flags.input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	doc, err := chat.Parse(raw)
	if err != nil {
		return nil, err
	}

	store, err := prepareStore(doc.Records, flags.mappings, settings.Mode, settings.EmailDomain, stderr)
	if err != nil {
		return nil, err
	}

	var bar *progressBar
	if !flags.quiet {
		bar = newProgressBar(stderr, "anonymizing", doc.Len())
		opts.Progress = bar
	}

	engine, err := anonymizer.New(opts, log)
	if err != nil {
		return nil, err
	}
	result, err := engine.Anonymize(ctx, doc, store, rules)
	if bar != nil {
		bar.Finish(err == nil)
	}
	if err != nil {
		return nil, err
	}

	if err := writeOutput(output, stdout, format, doc, result.Records); err != nil {
		return nil, err
	}

	log.Info("Anonymized export written",
		zap.String("output", output),
		zap.String("format", string(format)),
		zap.Int("records", len(result.Records)),
		zap.Int("rules", result.RuleSet.Len()),
	)

	if output != "-" {
		printSummary(stdout, result, output)
	}
	return &anonymizeRun{Result: result, Output: output, Format: format}, nil
}

func writeOutput(path string, stdout io.Writer, format export.Format, doc *chat.Document, records []*chat.MessageRecord) error {
	if path == "-" {
		return export.Write(stdout, format, doc, records)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := export.Write(f, format, doc, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, result *anonymizer.Result, output string) {
	fmt.Fprintf(w, "Records:            %d\n", len(result.Records))
	fmt.Fprintf(w, "Replacements:       %d\n", result.Replacements)
	fmt.Fprintf(w, "Linked names:       %d\n", result.Linkage.Len())
	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped records:    %d %v\n", len(result.Skipped), result.Skipped)
	}
	fmt.Fprintf(w, "Duration:           %v\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Output:             %s\n", output)

	printCollisions(w, result.Collisions)
	if conflicts := result.Linkage.Conflicts(); len(conflicts) > 0 {
		fmt.Fprintf(w, "Warning: %d anonymized names belong to more than one person\n", len(conflicts))
		for _, c := range conflicts {
			fmt.Fprintf(w, "  %s: %s, %s\n", c.Name, c.Previous, c.Current)
		}
	}
}
