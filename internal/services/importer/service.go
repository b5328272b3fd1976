// Package importer runs Arkik imports end to end: read the export, stage it,
// hold the session while operators decide, then commit it.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/arkikfile"
	"github.com/xelth-com/arkikgo/internal/logging"
	"github.com/xelth-com/arkikgo/internal/models"
	"github.com/xelth-com/arkikgo/internal/report"
)

// ErrPlantRequired is returned when neither the request nor the config names a plant
var ErrPlantRequired = errors.New("plant id is required")

// Catalog is the persistence the importer needs around the engine
type Catalog interface {
	LoadReferenceSet(ctx context.Context, plantID string) (*arkik.ReferenceSet, error)
	OpenImportSession(ctx context.Context, s models.ImportSession) error
	CloseImportSession(ctx context.Context, id string, status models.ImportSessionStatus, summary any) error
	FindImportByFingerprint(ctx context.Context, plantID, fingerprint string) (*models.ImportSession, error)
}

// Observer is told about session counts and read files, e.g. for metrics
type Observer interface {
	SetSessionsOpen(n int)
	RecordFileImported(format string)
}

type nopObserver struct{}

func (nopObserver) SetSessionsOpen(int)       {}
func (nopObserver) RecordFileImported(string) {}

// Config configures the Service
type Config struct {
	PlantID    string // used when a request names no plant
	SessionTTL time.Duration
}

// Opened is the result of staging an export
type Opened struct {
	Session  *arkik.Session
	Metadata arkikfile.Metadata
	// Previous is the last import of the same file, if any
	Previous *models.ImportSession
}

// entry is what the service keeps per session besides the engine session
type entry struct {
	metadata   arkikfile.Metadata
	lastReport *arkik.CommitReport
	// set once every row is final and the engine session was released
	finished *arkik.Summary
	outcomes []arkik.CommitOutcome
	closedAt time.Time
}

// Service handles import sessions
type Service struct {
	engine    *arkik.Engine
	committer *arkik.Committer
	catalog   Catalog
	sessions  *arkik.SessionStore
	progress  arkik.ProgressSink
	observer  Observer
	cfg       Config
	logger    logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewService creates a new import service
func NewService(engine *arkik.Engine, committer *arkik.Committer, catalog Catalog, progress arkik.ProgressSink, observer Observer, cfg Config, logger logrus.FieldLogger) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	return &Service{
		engine:    engine,
		committer: committer,
		catalog:   catalog,
		sessions:  arkik.NewSessionStore(),
		progress:  progress,
		observer:  observer,
		cfg:       cfg,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// OpenFile stages an uploaded Arkik export
func (s *Service) OpenFile(ctx context.Context, plantID, name string, r io.Reader) (*Opened, error) {
	file, err := arkikfile.Read(name, r)
	if err != nil {
		return nil, err
	}
	s.observer.RecordFileImported(strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."))
	return s.open(ctx, plantID, file.Metadata, file.Rows)
}

// OpenRows stages rows that were already parsed by the caller
func (s *Service) OpenRows(ctx context.Context, plantID, name string, rows []arkik.RawRow) (*Opened, error) {
	return s.open(ctx, plantID, arkikfile.Metadata{FileName: name, TotalRows: len(rows)}, rows)
}

func (s *Service) open(ctx context.Context, plantID string, meta arkikfile.Metadata, rows []arkik.RawRow) (*Opened, error) {
	if plantID == "" {
		plantID = s.cfg.PlantID
	}
	if plantID == "" {
		return nil, ErrPlantRequired
	}
	sessionID := uuid.New().String()
	log := s.logger.WithFields(logrus.Fields{"module": "importer", "session_id": sessionID, "plant_id": plantID})

	var previous *models.ImportSession
	if meta.Fingerprint != "" {
		prev, err := s.catalog.FindImportByFingerprint(ctx, plantID, meta.Fingerprint)
		if err != nil {
			logging.LogError(s.logger, "importer", "open", "fingerprint lookup", meta.FileName, err)
		}
		previous = prev
	}

	ref, err := s.catalog.LoadReferenceSet(ctx, plantID)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	if err := s.catalog.OpenImportSession(ctx, models.ImportSession{
		ID:          sessionID,
		PlantID:     plantID,
		FileName:    meta.FileName,
		Fingerprint: meta.Fingerprint,
		TotalRows:   len(rows),
	}); err != nil {
		return nil, err
	}

	batch, err := s.engine.Run(ctx, sessionID, plantID, ref, rows)
	if err != nil {
		s.closeQuietly(sessionID, models.ImportSessionAbandoned, nil)
		return nil, fmt.Errorf("stage rows: %w", err)
	}
	session := arkik.NewSession(batch, s.engine.StatusProcessor())
	s.sessions.Put(session)

	s.mu.Lock()
	s.entries[sessionID] = &entry{metadata: meta}
	open := s.openCountLocked()
	s.mu.Unlock()
	s.observer.SetSessionsOpen(open)

	sum := arkik.Summarize(session)
	log.WithFields(logrus.Fields{
		"rows":       sum.TotalRows,
		"errors":     sum.Errors,
		"duplicates": sum.Duplicates,
		"pending":    sum.Pending,
	}).Info("📥 import session opened")
	return &Opened{Session: session, Metadata: meta, Previous: previous}, nil
}

// Session returns an open session
func (s *Service) Session(id string) (*arkik.Session, error) {
	return s.sessions.Get(id)
}

// Metadata returns the file metadata of a session, open or finished
func (s *Service) Metadata(id string) (arkikfile.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return arkikfile.Metadata{}, fmt.Errorf("%w: %s", arkik.ErrSessionNotFound, id)
	}
	return e.metadata, nil
}

// Summary returns the overview of a session, open or finished
func (s *Service) Summary(id string) (arkik.Summary, error) {
	if session, err := s.sessions.Get(id); err == nil {
		return arkik.Summarize(session), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.finished != nil {
		return *e.finished, nil
	}
	return arkik.Summary{}, fmt.Errorf("%w: %s", arkik.ErrSessionNotFound, id)
}

// Refresh re-runs duplicate detection, order matching and target search, e.g. after
// another import committed records this session refers to
func (s *Service) Refresh(ctx context.Context, id string) (*arkik.Session, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	batch := s.engine.DetectDuplicates(ctx, session.Batch())
	batch = s.engine.MatchOrders(ctx, batch, nil, false)
	batch = s.engine.FindTargets(ctx, batch, nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session.Advance(batch)
	return session, nil
}

// Rematch rescores the named records against open orders. Records that already
// carry an order are rescored only with includeAssigned.
func (s *Service) Rematch(ctx context.Context, id string, numbers []string, includeAssigned bool) (*arkik.Session, error) {
	session, err := s.stagedRecords(id, numbers)
	if err != nil {
		return nil, err
	}
	batch := s.engine.MatchOrders(ctx, session.Batch(), numbers, includeAssigned)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session.Advance(batch)
	return session, nil
}

// Retarget searches reassignment targets for the named records, abnormal or not
func (s *Service) Retarget(ctx context.Context, id string, numbers []string) (*arkik.Session, error) {
	session, err := s.stagedRecords(id, numbers)
	if err != nil {
		return nil, err
	}
	batch := s.engine.FindTargets(ctx, session.Batch(), numbers)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session.Advance(batch)
	return session, nil
}

func (s *Service) stagedRecords(id string, numbers []string) (*arkik.Session, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%w: no record numbers given", arkik.ErrRecordNotFound)
	}
	batch := session.Batch()
	for _, number := range numbers {
		if _, ok := batch.Record(number); !ok {
			return nil, fmt.Errorf("%w: %s", arkik.ErrRecordNotFound, number)
		}
	}
	return session, nil
}

// Commit writes the session's pending rows. With unattended set, the safe
// defaults are applied to every decision still pending first.
func (s *Service) Commit(ctx context.Context, id string, unattended bool) (arkik.CommitReport, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return arkik.CommitReport{}, err
	}
	if unattended {
		session.ApplyUnattendedPolicy()
	}
	if err := session.BeginCommit(); err != nil {
		return arkik.CommitReport{}, err
	}
	plan, err := session.Plan()
	if err != nil {
		session.FinishCommit(arkik.CommitReport{})
		return arkik.CommitReport{}, err
	}

	log := s.logger.WithFields(logrus.Fields{"module": "importer", "session_id": id})
	log.WithField("rows", len(plan.Items)).Info("🚀 commit started")

	rep := s.committer.Commit(ctx, plan)
	session.FinishCommit(rep)
	s.progress.Publish(id, rep)

	sum := arkik.Summarize(session)
	status := models.ImportSessionOpen
	switch {
	case session.Complete():
		status = models.ImportSessionCommitted
	case len(session.Outcomes()) > 0:
		status = models.ImportSessionPartial
	}
	if status != models.ImportSessionOpen {
		s.closeQuietly(id, status, sum)
	}

	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		e.lastReport = &rep
		if status == models.ImportSessionCommitted {
			e.finished = &sum
			e.outcomes = session.Outcomes()
			e.closedAt = time.Now().UTC()
		}
	}
	if status == models.ImportSessionCommitted {
		s.sessions.Delete(id)
	}
	open := s.openCountLocked()
	s.mu.Unlock()
	s.observer.SetSessionsOpen(open)

	log.WithFields(logrus.Fields{
		"created":       rep.Counts[arkik.OutcomeCreated],
		"updated":       rep.Counts[arkik.OutcomeUpdated],
		"skipped":       rep.Counts[arkik.OutcomeSkipped],
		"failed":        rep.Counts[arkik.OutcomeFailed],
		"not_processed": rep.Counts[arkik.OutcomeNotProcessed],
		"cancelled":     rep.Cancelled,
		"status":        status,
	}).Info("✅ commit finished")
	return rep, nil
}

// LastReport returns the report of the session's latest commit run
func (s *Service) LastReport(id string) (*arkik.CommitReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.lastReport == nil {
		return nil, false
	}
	return e.lastReport, true
}

// Abandon discards an open session. Rows already committed stay committed.
func (s *Service) Abandon(ctx context.Context, id string) error {
	session, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	if err := session.BeginCommit(); err != nil {
		return err
	}
	status := models.ImportSessionAbandoned
	if len(session.Outcomes()) > 0 {
		status = models.ImportSessionPartial
	}
	sum := arkik.Summarize(session)
	s.sessions.Delete(id)

	s.mu.Lock()
	delete(s.entries, id)
	open := s.openCountLocked()
	s.mu.Unlock()
	s.observer.SetSessionsOpen(open)

	if err := s.catalog.CloseImportSession(ctx, id, status, sum); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"module": "importer", "session_id": id}).Info("🗑️ import session abandoned")
	return nil
}

// ReportPDF renders the printable report of a session, open or finished
func (s *Service) ReportPDF(id string) ([]byte, error) {
	in := report.Input{GeneratedAt: time.Now().UTC()}
	if session, err := s.sessions.Get(id); err == nil {
		in.Summary = arkik.Summarize(session)
		in.Outcomes = session.Outcomes()
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		in.FileName = e.metadata.FileName
		if e.finished != nil {
			in.Summary = *e.finished
			in.Outcomes = e.outcomes
		}
		// failed rows are only in the latest run
		if e.lastReport != nil && e.finished == nil {
			in.Outcomes = mergeOutcomes(in.Outcomes, e.lastReport.Outcomes)
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", arkik.ErrSessionNotFound, id)
	}
	return report.SessionPDF(in)
}

// Sweep drops sessions idle for longer than the TTL and forgets finished ones
func (s *Service) Sweep() int {
	n := s.sessions.Sweep(s.cfg.SessionTTL)
	cutoff := time.Now().UTC().Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	var expired []string
	for id, e := range s.entries {
		if e.finished != nil {
			if e.closedAt.Before(cutoff) {
				delete(s.entries, id)
			}
			continue
		}
		if _, err := s.sessions.Get(id); err != nil {
			delete(s.entries, id)
			expired = append(expired, id)
		}
	}
	open := s.openCountLocked()
	s.mu.Unlock()
	s.observer.SetSessionsOpen(open)

	for _, id := range expired {
		s.closeQuietly(id, models.ImportSessionAbandoned, nil)
	}
	if n > 0 {
		s.logger.WithFields(logrus.Fields{"module": "importer", "expired": n}).Info("🧹 idle import sessions dropped")
	}
	return n
}

// RunSweeper sweeps every interval until ctx ends
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Service) openCountLocked() int {
	n := 0
	for _, e := range s.entries {
		if e.finished == nil {
			n++
		}
	}
	return n
}

func (s *Service) closeQuietly(id string, status models.ImportSessionStatus, summary any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.catalog.CloseImportSession(ctx, id, status, summary); err != nil {
		logging.LogError(s.logger, "importer", "closeQuietly", "close import session", id, err)
	}
}

// mergeOutcomes adds the non-final rows of the latest run to the final ones
func mergeOutcomes(final, latest []arkik.CommitOutcome) []arkik.CommitOutcome {
	seen := make(map[int]bool, len(final))
	out := append([]arkik.CommitOutcome(nil), final...)
	for _, o := range final {
		seen[o.RowNumber] = true
	}
	for _, o := range latest {
		if !seen[o.RowNumber] {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}
