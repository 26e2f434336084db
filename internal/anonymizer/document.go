package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/chat"
	"github.com/raaihank/chat-anonymizer/internal/links"
	"github.com/raaihank/chat-anonymizer/internal/logger"
	"github.com/raaihank/chat-anonymizer/internal/mapping"
)

// Result is the outcome of one anonymization run
type Result struct {
	// Records has the same length and order as the input
	Records []*chat.MessageRecord `json:"records"`
	Linkage *Linkage              `json:"linkage"`
	// Skipped lists input indices that failed validation. Their slots in
	// Records hold a sanitized copy that did not contribute to Linkage.
	Skipped      []int               `json:"skipped"`
	Policy       SchemaPolicy        `json:"policy"`
	Replacements int                 `json:"replacements"`
	Collisions   []mapping.Collision `json:"collisions,omitempty"`
	RuleSet      *RuleSet            `json:"-"`
	Duration     time.Duration       `json:"duration"`
}

// Engine runs anonymization over whole documents
type Engine struct {
	opts   Options
	logger *logger.Logger
}

// New creates an engine. Options are validated once here.
func New(opts Options, log *logger.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anonymizer options: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{opts: opts, logger: log.WithComponent("anonymizer")}, nil
}

// Compile builds the rule set for a store and link rules using the engine's
// link mode and filename threshold
func (e *Engine) Compile(store *mapping.Store, rules []links.Rule) (*RuleSet, error) {
	if store == nil {
		store = mapping.NewStore()
	}
	rs, err := Compile(store.All(), rules, CompileOptions{
		LinkMode:         e.opts.LinkMode,
		MinFilenameMatch: e.opts.MinFilenameMatch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	e.logger.Debug("Rule set compiled",
		zap.Int("rules", rs.Len()),
		zap.Int("link_rules", len(rules)),
		zap.String("fingerprint", rs.Fingerprint()),
	)
	return rs, nil
}

// Anonymize compiles store and rules once and applies them to every record
// of doc
func (e *Engine) Anonymize(ctx context.Context, doc *chat.Document, store *mapping.Store, rules []links.Rule) (*Result, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	if store == nil {
		store = mapping.NewStore()
	}

	rs, err := e.Compile(store, rules)
	if err != nil {
		return nil, err
	}

	result, err := e.Run(ctx, doc.Records, rs)
	if err != nil {
		return nil, err
	}

	result.Collisions = store.Collisions()
	if len(result.Collisions) > 0 {
		e.logger.Warn("Several originals share one replacement",
			zap.Int("collisions", len(result.Collisions)),
		)
	}
	return result, nil
}

// Run applies a compiled rule set to records. Records are validated first;
// under SchemaAbort the first malformed record fails the run before any
// work is done.
func (e *Engine) Run(ctx context.Context, records []*chat.MessageRecord, rs *RuleSet) (*Result, error) {
	if rs == nil {
		return nil, errors.New("rule set is nil")
	}
	start := time.Now()

	var skipped []int
	for i, rec := range records {
		var err error
		if rec == nil {
			err = &chat.SchemaError{Index: i, Field: "message"}
		} else if err = rec.Validate(); err != nil {
			var se *chat.SchemaError
			if errors.As(err, &se) {
				se.Index = i
			}
		}
		if err == nil {
			continue
		}
		if e.opts.SchemaPolicy == SchemaAbort {
			e.logger.Error("Malformed message record, aborting run", zap.Error(err))
			return nil, err
		}
		skipped = append(skipped, i)
	}
	if len(skipped) > 0 {
		e.logger.Warn("Malformed message records will be sanitized without linkage",
			zap.Int("skipped", len(skipped)),
		)
	}

	result := &Result{
		Records: make([]*chat.MessageRecord, len(records)),
		Skipped: skipped,
		Policy:  e.opts.SchemaPolicy,
		RuleSet: rs,
	}

	anon := NewRecordAnonymizer(rs, e.opts.LinkagePolicy)
	var err error
	if e.opts.Workers > 1 && len(records) > 1 {
		result.Linkage, result.Replacements, err = e.runParallel(ctx, anon, records, skipped, result.Records)
	} else {
		result.Linkage, result.Replacements, err = e.runSequential(ctx, anon, records, skipped, result.Records)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	if conflicts := result.Linkage.Conflicts(); len(conflicts) > 0 {
		e.logger.Warn("Anonymized names claimed by more than one identity",
			zap.Int("conflicts", len(conflicts)),
		)
	}
	e.logger.LogRun(len(records), len(skipped), result.Replacements, string(result.Policy))
	return result, nil
}

func (e *Engine) report(done, total int) {
	if e.opts.Progress != nil {
		e.opts.Progress.Progress(done, total)
	}
}

// anonymizeRange processes records[lo:hi] into out, recording into linkage
// and calling tick after every record
func anonymizeRange(ctx context.Context, anon *RecordAnonymizer, records []*chat.MessageRecord, skipped []int, lo, hi int, out []*chat.MessageRecord, linkage *Linkage, tick func()) (int, error) {
	replacements := 0
	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			return replacements, err
		}
		target := linkage
		if _, malformed := slices.BinarySearch(skipped, i); malformed {
			target = nil
		}
		rec, n := anon.apply(records[i], target)
		out[i] = rec
		replacements += n
		tick()
	}
	return replacements, nil
}

func (e *Engine) runSequential(ctx context.Context, anon *RecordAnonymizer, records []*chat.MessageRecord, skipped []int, out []*chat.MessageRecord) (*Linkage, int, error) {
	total := len(records)
	linkage := NewLinkage()
	done := 0

	replacements, err := anonymizeRange(ctx, anon, records, skipped, 0, total, out, linkage, func() {
		done++
		if done%e.opts.ProgressEvery == 0 && done < total {
			e.report(done, total)
		}
	})
	if err != nil {
		return nil, 0, err
	}
	e.report(total, total)
	return linkage, replacements, nil
}

type chunkResult struct {
	index        int
	linkage      *Linkage
	replacements int
}

// runParallel splits records into contiguous chunks, one per worker. Each
// chunk gets a private linkage; partials are merged in chunk order once
// every worker is done. Progress is forwarded to the calling goroutine.
func (e *Engine) runParallel(ctx context.Context, anon *RecordAnonymizer, records []*chat.MessageRecord, skipped []int, out []*chat.MessageRecord) (*Linkage, int, error) {
	total := len(records)
	workers := min(e.opts.Workers, total)
	size := (total + workers - 1) / workers

	ticks := make(chan int, workers)
	p := pool.NewWithResults[chunkResult]().WithContext(ctx).WithMaxGoroutines(workers)

	for c := 0; c*size < total; c++ {
		lo, hi := c*size, min((c+1)*size, total)
		p.Go(func(ctx context.Context) (chunkResult, error) {
			linkage := NewLinkage()
			pending := 0
			n, err := anonymizeRange(ctx, anon, records, skipped, lo, hi, out, linkage, func() {
				pending++
				if pending == e.opts.ProgressEvery {
					ticks <- pending
					pending = 0
				}
			})
			if pending > 0 {
				ticks <- pending
			}
			return chunkResult{index: c, linkage: linkage, replacements: n}, err
		})
	}

	type waitResult struct {
		chunks []chunkResult
		err    error
	}
	waited := make(chan waitResult, 1)
	go func() {
		chunks, err := p.Wait()
		close(ticks)
		waited <- waitResult{chunks: chunks, err: err}
	}()

	done := 0
	for n := range ticks {
		done += n
		if done < total {
			e.report(done, total)
		}
	}
	w := <-waited
	if w.err != nil {
		return nil, 0, w.err
	}

	slices.SortFunc(w.chunks, func(a, b chunkResult) int { return a.index - b.index })
	linkage := NewLinkage()
	replacements := 0
	for _, c := range w.chunks {
		linkage.Merge(c.linkage)
		replacements += c.replacements
	}

	e.report(total, total)
	return linkage, replacements, nil
}
