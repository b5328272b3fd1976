package arkik

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Observer receives counts from the engine stages, e.g. for metrics
type Observer interface {
	RecordValidated(status ValidationStatus)
	DuplicateFound(risk RiskLevel)
	RecordCommitted(result OutcomeResult, elapsed time.Duration)
}

// NopObserver discards all observations
type NopObserver struct{}

func (NopObserver) RecordValidated(ValidationStatus)             {}
func (NopObserver) DuplicateFound(RiskLevel)                     {}
func (NopObserver) RecordCommitted(OutcomeResult, time.Duration) {}

// Batch is the immutable hand-off between pipeline stages.
// Stages never modify a Batch they receive; they return a new one.
type Batch struct {
	SessionID  string                                `json:"session_id"`
	PlantID    string                                `json:"plant_id"`
	Records    []StagingRecord                       `json:"records"`
	Duplicates map[string]DuplicateInfo              `json:"duplicates"`
	OrderRefs  map[string]OrderSummary               `json:"order_refs"`
	Candidates map[string][]CompatibleOrderCandidate `json:"candidates"`
	Targets    map[string][]ReassignmentTarget       `json:"targets"`
}

// Record returns the first record with the given number
func (b *Batch) Record(number string) (StagingRecord, bool) {
	for _, rec := range b.Records {
		if rec.Number == number && rec.RepeatOf == 0 {
			return rec, true
		}
	}
	return StagingRecord{}, false
}

func (b *Batch) clone() *Batch {
	out := &Batch{
		SessionID:  b.SessionID,
		PlantID:    b.PlantID,
		Records:    make([]StagingRecord, len(b.Records)),
		Duplicates: make(map[string]DuplicateInfo, len(b.Duplicates)),
		OrderRefs:  make(map[string]OrderSummary, len(b.OrderRefs)),
		Candidates: make(map[string][]CompatibleOrderCandidate, len(b.Candidates)),
		Targets:    make(map[string][]ReassignmentTarget, len(b.Targets)),
	}
	for i, rec := range b.Records {
		out.Records[i] = rec.clone()
	}
	for k, v := range b.Duplicates {
		out.Duplicates[k] = v
	}
	for k, v := range b.OrderRefs {
		out.OrderRefs[k] = v
	}
	for k, v := range b.Candidates {
		out.Candidates[k] = append([]CompatibleOrderCandidate(nil), v...)
	}
	for k, v := range b.Targets {
		out.Targets[k] = append([]ReassignmentTarget(nil), v...)
	}
	return out
}

// EngineConfig tunes the pre-commit stages
type EngineConfig struct {
	Parallelism int
	Match       MatchOptions
}

// Engine runs the pre-commit stages: validate, detect duplicates, match orders, find targets
type Engine struct {
	duplicates *DuplicateDetector
	matcher    *Matcher
	status     *StatusProcessor
	cfg        EngineConfig
	observer   Observer
	logger     logrus.FieldLogger
}

// NewEngine creates a new Engine
func NewEngine(existing ExistingFinder, orders OrderFinder, records RecordFinder, cfg EngineConfig, observer Observer, logger logrus.FieldLogger) *Engine {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Engine{
		duplicates: NewDuplicateDetector(existing, logger),
		matcher:    NewMatcher(orders, records, logger),
		status:     NewStatusProcessor(),
		cfg:        cfg,
		observer:   observer,
		logger:     logger,
	}
}

// Matcher exposes the engine's matcher, e.g. to change weights
func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// StatusProcessor exposes the engine's status decision processor
func (e *Engine) StatusProcessor() *StatusProcessor {
	return e.status
}

// Options returns the matching options the engine was configured with
func (e *Engine) Options() MatchOptions {
	return e.cfg.Match
}

// Run executes every pre-commit stage in order
func (e *Engine) Run(ctx context.Context, sessionID, plantID string, ref ReferenceData, rows []RawRow) (*Batch, error) {
	batch, err := e.Validate(ctx, sessionID, plantID, ref, rows)
	if err != nil {
		return nil, err
	}
	batch = e.DetectDuplicates(ctx, batch)
	batch = e.MatchOrders(ctx, batch, nil, false)
	batch = e.FindTargets(ctx, batch, nil)
	return batch, nil
}

// Validate is the first stage: raw rows into staging records
func (e *Engine) Validate(ctx context.Context, sessionID, plantID string, ref ReferenceData, rows []RawRow) (*Batch, error) {
	validator := NewValidator(ref, plantID, e.cfg.Parallelism)
	records, err := validator.ValidateBatch(ctx, rows)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		e.observer.RecordValidated(rec.ValidationStatus())
	}
	return &Batch{
		SessionID:  sessionID,
		PlantID:    plantID,
		Records:    records,
		Duplicates: map[string]DuplicateInfo{},
		OrderRefs:  map[string]OrderSummary{},
		Candidates: map[string][]CompatibleOrderCandidate{},
		Targets:    map[string][]ReassignmentTarget{},
	}, nil
}

// DetectDuplicates is the second stage. It can be re-run; previous results are replaced.
func (e *Engine) DetectDuplicates(ctx context.Context, in *Batch) *Batch {
	out := in.clone()
	out.Duplicates = e.duplicates.Detect(ctx, out.PlantID, out.Records)

	for i := range out.Records {
		rec := &out.Records[i]
		if rec.RepeatOf > 0 {
			continue
		}
		rec.Issues = withoutKind(rec.Issues, IssueDuplicateRecord)
		info, ok := out.Duplicates[rec.Number]
		if !ok {
			continue
		}
		e.observer.DuplicateFound(info.Risk)
		rec.OrderID = info.Existing.OrderID
		rec.Issues = append(rec.Issues, ValidationIssue{
			Kind:    IssueDuplicateRecord,
			Field:   "remision",
			Value:   rec.Number,
			Message: fmt.Sprintf("Remisión %s ya existe (riesgo %s)", rec.Number, info.Risk),
		})
		delete(out.Candidates, rec.Number)
	}
	return out
}

// MatchOrders is the third stage. With numbers nil it scores every unmatched,
// unblocked, non-duplicate record; with numbers given it rescores exactly those,
// duplicates included, and already-assigned ones when includeAssigned is set.
func (e *Engine) MatchOrders(ctx context.Context, in *Batch, numbers []string, includeAssigned bool) *Batch {
	out := in.clone()
	wanted := toSet(numbers)

	type result struct {
		number     string
		ref        *OrderSummary
		candidates []CompatibleOrderCandidate
	}
	var (
		mu      sync.Mutex
		results []result
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for _, rec := range out.Records {
		rec := rec
		if rec.Blocked() {
			continue
		}
		if _, dup := out.Duplicates[rec.Number]; dup && !wanted[rec.Number] {
			continue
		}
		if wanted != nil {
			if !wanted[rec.Number] || (rec.OrderID != "" && !includeAssigned) {
				continue
			}
		} else if rec.OrderID != "" {
			continue
		}
		g.Go(func() error {
			r := result{number: rec.Number}
			if wanted == nil {
				r.ref = e.matcher.ResolveOrderRef(gCtx, rec)
			}
			if r.ref == nil {
				r.candidates = e.matcher.FindCompatibleOrders(gCtx, rec, e.cfg.Match)
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.ref != nil {
			out.OrderRefs[r.number] = *r.ref
			for i := range out.Records {
				if out.Records[i].Number == r.number && out.Records[i].RepeatOf == 0 {
					out.Records[i].OrderID = r.ref.ID
				}
			}
			delete(out.Candidates, r.number)
			continue
		}
		out.Candidates[r.number] = r.candidates
	}
	return out
}

// FindTargets is the fourth stage: reassignment targets for abnormal records
// (numbers nil) or for the given records.
func (e *Engine) FindTargets(ctx context.Context, in *Batch, numbers []string) *Batch {
	out := in.clone()
	wanted := toSet(numbers)

	for _, rec := range out.Records {
		if rec.Blocked() {
			continue
		}
		if wanted != nil {
			if !wanted[rec.Number] {
				continue
			}
		} else if !rec.IsAbnormal() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		out.Targets[rec.Number] = e.matcher.FindReassignmentTargets(ctx, rec, out.Records, MatchOptions{
			AllowAssigned: e.cfg.Match.AllowAssigned,
		})
	}
	return out
}

func withoutKind(issues []ValidationIssue, kind IssueKind) []ValidationIssue {
	out := issues[:0:0]
	for _, issue := range issues {
		if issue.Kind != kind {
			out = append(out, issue)
		}
	}
	return out
}

func toSet(values []string) map[string]bool {
	if values == nil {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
