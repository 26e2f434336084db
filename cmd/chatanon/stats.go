package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raaihank/chat-anonymizer/internal/anonymizer"
	"github.com/raaihank/chat-anonymizer/internal/chat"
	"github.com/raaihank/chat-anonymizer/internal/config"
	"github.com/raaihank/chat-anonymizer/internal/logger"
	"github.com/raaihank/chat-anonymizer/internal/mapping"
	"github.com/raaihank/chat-anonymizer/internal/stats"
)

type statsFlags struct {
	input    string
	mappings string
	mode     string
	asJSON   bool
}

func newStatsCmd(a *app) *cobra.Command {
	var flags statsFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show conversation statistics, anonymized when mappings are given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, a.cfg, a.log, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "Google Chat messages.json export")
	cmd.Flags().StringVarP(&flags.mappings, "mappings", "m", "", "Mapping file; participants are shown anonymized")
	cmd.Flags().StringVar(&flags.mode, "mode", "manual", "Mapping mode: manual, mixed or automatic")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print statistics as JSON")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runStats(cmd *cobra.Command, cfg *config.Config, log *logger.Logger, flags statsFlags, w io.Writer) error {
	raw, err := os.ReadFile(flags.input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	doc, err := chat.Parse(raw)
	if err != nil {
		return err
	}

	records := doc.Records
	var linkage *anonymizer.Linkage

	mode, err := mapping.ParseMode(flags.mode)
	if err != nil {
		return err
	}
	if flags.mappings != "" || mode != mapping.ModeManual {
		settings := cfg.Anonymization
		opts, err := settings.EngineOptions()
		if err != nil {
			return err
		}
		rules, err := settings.LinkRules()
		if err != nil {
			return err
		}
		store, err := prepareStore(records, flags.mappings, string(mode), settings.EmailDomain, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		engine, err := anonymizer.New(opts, log)
		if err != nil {
			return err
		}
		result, err := engine.Anonymize(cmd.Context(), doc, store, rules)
		if err != nil {
			return err
		}
		records, linkage = result.Records, result.Linkage
	}

	s := stats.Compute(records, linkage)
	if flags.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printStats(w, s, int64(len(raw)))
	return nil
}

func printStats(w io.Writer, s *stats.Stats, inputSize int64) {
	fmt.Fprintf(w, "\n=== Conversation Statistics ===\n")
	fmt.Fprintf(w, "Export size:        %s\n", humanize.Bytes(uint64(inputSize)))
	fmt.Fprintf(w, "Total messages:     %s\n", humanize.Comma(int64(s.TotalMessages)))
	fmt.Fprintf(w, "Participants:       %d\n", s.UniqueParticipants)

	if !s.Start.IsZero() {
		fmt.Fprintf(w, "First message:      %s\n", s.Start.Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "Last message:       %s\n", s.End.Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "Days covered:       %s\n", humanize.Comma(int64(s.TotalDays)))
		fmt.Fprintf(w, "Average per day:    %s\n", humanize.FormatFloat("#,###.##", s.AveragePerDay))
	}
	if s.MostActiveDay != nil {
		fmt.Fprintf(w, "Most active day:    %s (%s messages)\n", s.MostActiveDay.Date, humanize.Comma(int64(s.MostActiveDay.Messages)))
	}

	if len(s.Participants) == 0 {
		return
	}
	fmt.Fprintf(w, "\n=== Participants ===\n")
	for _, p := range s.Participants {
		name := p.Name
		if p.Email != "" {
			name += " <" + p.Email + ">"
		}
		fmt.Fprintf(w, "%-40s %8s  %5.1f%%\n", name, humanize.Comma(int64(p.Messages)), p.Percentage)
	}
}
