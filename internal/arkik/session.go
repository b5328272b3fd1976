package arkik

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Session errors
var (
	ErrSessionNotFound   = errors.New("import session not found")
	ErrRecordNotFound    = errors.New("record not found in session")
	ErrNotDuplicate      = errors.New("record is not a duplicate")
	ErrInvalidStrategy   = errors.New("invalid duplicate strategy")
	ErrUnknownCandidate  = errors.New("order is not among the record's candidates")
	ErrAssignmentNotUsed = errors.New("record does not take an order assignment")
	ErrCommitBlocked     = errors.New("commit blocked by pending decisions")
	ErrCommitInProgress  = errors.New("commit already in progress")
)

// BlockerKind names the decision a record is still waiting for
type BlockerKind string

const (
	BlockerDuplicateStrategy BlockerKind = "duplicate_strategy"
	BlockerOrderAssignment   BlockerKind = "order_assignment"
	BlockerStatusDecision    BlockerKind = "status_decision"
)

// Blocker is one pending decision that keeps the session from committing
type Blocker struct {
	RowNumber int         `json:"row_number"`
	Number    string      `json:"number"`
	Kind      BlockerKind `json:"kind"`
	Message   string      `json:"message"`
}

// Session holds one import: the current batch plus every operator choice,
// keyed by record number. Nothing here outlives the session.
type Session struct {
	ID        string
	PlantID   string
	CreatedAt time.Time

	mu          sync.RWMutex
	batch       *Batch
	processor   *StatusProcessor
	resolutions map[string]DuplicateResolution
	assignments map[string]OrderAssignment
	decisions   map[string]DecisionState
	outcomes    map[int]CommitOutcome
	orders      map[string]OrderRef // orders created by commit runs, by group key
	committing  bool
	touchedAt   time.Time
}

// NewSession creates a new Session around a batch from the engine
func NewSession(batch *Batch, processor *StatusProcessor) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:          batch.SessionID,
		PlantID:     batch.PlantID,
		CreatedAt:   now,
		processor:   processor,
		resolutions: map[string]DuplicateResolution{},
		assignments: map[string]OrderAssignment{},
		decisions:   map[string]DecisionState{},
		outcomes:    map[int]CommitOutcome{},
		orders:      map[string]OrderRef{},
		touchedAt:   now,
	}
	s.advance(batch)
	return s
}

// Batch returns the current batch. Callers must treat it as read-only.
func (s *Session) Batch() *Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batch
}

// Advance replaces the batch after a stage was re-run and drops choices it invalidated
func (s *Session) Advance(batch *Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(batch)
}

func (s *Session) advance(batch *Batch) {
	s.batch = batch
	s.touchedAt = time.Now().UTC()

	for number := range s.resolutions {
		if _, ok := batch.Duplicates[number]; !ok {
			delete(s.resolutions, number)
		}
	}
	for number, a := range s.assignments {
		if _, dup := batch.Duplicates[number]; dup {
			delete(s.assignments, number)
			continue
		}
		if existing, ok := a.(AssignExisting); ok && !hasCandidate(batch.Candidates[number], existing.OrderID) {
			if ref, ok := batch.OrderRefs[number]; !ok || ref.ID != existing.OrderID {
				delete(s.assignments, number)
			}
		}
	}
	for number, state := range s.decisions {
		if d, ok := state.Decision.(ReassignToExisting); ok && !hasTarget(batch.Targets[number], d.TargetNumber) {
			state.Decision = nil
			state.DecidedAt = time.Time{}
			s.decisions[number] = state
		}
	}
	for _, rec := range batch.Records {
		if rec.RepeatOf > 0 {
			continue
		}
		if _, ok := s.decisions[rec.Number]; ok {
			continue
		}
		if state, ok := s.processor.Begin(rec); ok {
			s.decisions[rec.Number] = state
		}
	}
}

// SetDuplicateStrategy records the operator's strategy for one duplicate
func (s *Session) SetDuplicateStrategy(number string, strategy DuplicateStrategy, note string) error {
	if !strategy.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.batch.Duplicates[number]; !ok {
		return fmt.Errorf("%w: %s", ErrNotDuplicate, number)
	}
	s.resolutions[number] = DuplicateResolution{Strategy: strategy, Note: note}
	s.touchedAt = time.Now().UTC()
	return nil
}

// AcceptSuggestedStrategies confirms the suggested strategy for every duplicate
// still without one and returns how many were accepted
func (s *Session) AcceptSuggestedStrategies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for number, info := range s.batch.Duplicates {
		if _, ok := s.resolutions[number]; ok {
			continue
		}
		s.resolutions[number] = DuplicateResolution{Strategy: info.Suggested, Note: "sugerencia aceptada"}
		n++
	}
	return n
}

// Resolution returns the chosen strategy for a duplicate, if any
func (s *Session) Resolution(number string) (DuplicateResolution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resolutions[number]
	return r, ok
}

// AssignOrder records the order choice for an unmatched record.
// An existing order must be one of the record's scored candidates.
func (s *Session) AssignOrder(number string, assignment OrderAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	rec, ok := s.batch.Record(number)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, number)
	}
	if _, dup := s.batch.Duplicates[number]; dup || rec.Blocked() {
		return fmt.Errorf("%w: %s", ErrAssignmentNotUsed, number)
	}

	switch a := assignment.(type) {
	case AssignExisting:
		ref, hasRef := s.batch.OrderRefs[number]
		if !hasCandidate(s.batch.Candidates[number], a.OrderID) && (!hasRef || ref.ID != a.OrderID) {
			return fmt.Errorf("%w: %s", ErrUnknownCandidate, a.OrderID)
		}
	case CreateNewOrder:
	default:
		return fmt.Errorf("unknown order assignment %T", assignment)
	}
	s.assignments[number] = assignment
	s.touchedAt = time.Now().UTC()
	return nil
}

// AcceptPreselected confirms every preselected candidate still without a choice
func (s *Session) AcceptPreselected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for number, candidates := range s.batch.Candidates {
		if _, ok := s.assignments[number]; ok {
			continue
		}
		if len(candidates) == 1 && candidates[0].Preselected {
			s.assignments[number] = AssignExisting{OrderID: candidates[0].OrderID, OrderNumber: candidates[0].OrderNumber}
			n++
		}
	}
	return n
}

// Assignment returns the effective order assignment for a record: the operator's
// choice, the order named by the row, or a new order when no candidate was found.
// The second return is false while the choice is still pending.
func (s *Session) Assignment(number string) (OrderAssignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignment(number)
}

func (s *Session) assignment(number string) (OrderAssignment, bool) {
	if a, ok := s.assignments[number]; ok {
		return a, true
	}
	if ref, ok := s.batch.OrderRefs[number]; ok {
		return AssignExisting{OrderID: ref.ID, OrderNumber: ref.Number}, true
	}
	if len(s.batch.Candidates[number]) == 0 {
		return CreateNewOrder{}, true
	}
	return nil, false
}

// DecideStatus drives the status state machine of one abnormal record.
// A rejected transition leaves the previous state in place.
func (s *Session) DecideStatus(number string, decision StatusDecision, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	rec, ok := s.batch.Record(number)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, number)
	}
	if s.committed(rec.RowNumber) {
		return ErrDecisionAlreadyFinal
	}
	state, ok := s.decisions[number]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAbnormal, number)
	}
	next, err := s.processor.Decide(state, rec, decision, s.batch.Targets[number], notes)
	if err != nil {
		return err
	}
	s.decisions[number] = next
	s.touchedAt = time.Now().UTC()
	return nil
}

// Decision returns the status decision state of an abnormal record
func (s *Session) Decision(number string) (DecisionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[number]
	return d, ok
}

// ApplyUnattendedPolicy resolves what an unattended run can decide safely:
// suggested duplicate strategies, preselected candidates (otherwise a new order),
// proceed for incomplete deliveries and waste for cancelled ones.
func (s *Session) ApplyUnattendedPolicy() {
	s.AcceptSuggestedStrategies()
	s.AcceptPreselected()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.batch.Records {
		if rec.RepeatOf > 0 || rec.Blocked() {
			continue
		}
		if _, dup := s.batch.Duplicates[rec.Number]; !dup {
			if _, ok := s.assignment(rec.Number); !ok {
				s.assignments[rec.Number] = CreateNewOrder{}
			}
		}
		state, ok := s.decisions[rec.Number]
		if !ok || !state.Pending() {
			continue
		}
		var decision StatusDecision = ProceedNormal{}
		if rec.Status == StatusCancelado {
			decision = MarkAsWaste{Reason: string(WasteCancelled)}
		}
		if next, err := s.processor.Decide(state, rec, decision, nil, "política automática"); err == nil {
			s.decisions[rec.Number] = next
		}
	}
}

// Blockers lists every pending decision on records not yet committed
func (s *Session) Blockers() []Blocker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockers()
}

func (s *Session) blockers() []Blocker {
	var out []Blocker
	for _, rec := range s.batch.Records {
		if rec.RepeatOf > 0 || rec.Blocked() || s.committed(rec.RowNumber) {
			continue
		}

		_, dup := s.batch.Duplicates[rec.Number]
		if dup {
			if _, ok := s.resolutions[rec.Number]; !ok {
				out = append(out, Blocker{RowNumber: rec.RowNumber, Number: rec.Number, Kind: BlockerDuplicateStrategy,
					Message: "Falta elegir estrategia para la remisión duplicada"})
			}
		}

		state, abnormal := s.decisions[rec.Number]
		if abnormal && state.Pending() {
			out = append(out, Blocker{RowNumber: rec.RowNumber, Number: rec.Number, Kind: BlockerStatusDecision,
				Message: fmt.Sprintf("Falta decisión para estatus '%s'", rec.RawStatus)})
		}

		excluded := abnormal && !state.Pending() && ExcludesRecord(state.Decision)
		if !dup && !excluded {
			if _, ok := s.assignment(rec.Number); !ok {
				out = append(out, Blocker{RowNumber: rec.RowNumber, Number: rec.Number, Kind: BlockerOrderAssignment,
					Message: fmt.Sprintf("Falta elegir entre %d pedidos compatibles", len(s.batch.Candidates[rec.Number]))})
			}
		}
	}
	return out
}

// Plan freezes the session's choices into a commit plan for rows not yet committed.
// It fails with ErrCommitBlocked while any decision is pending.
func (s *Session) Plan() (CommitPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if blockers := s.blockers(); len(blockers) > 0 {
		return CommitPlan{}, &BlockedError{Blockers: blockers}
	}

	plan := CommitPlan{SessionID: s.ID, PlantID: s.PlantID, Groups: make(map[string]OrderRef, len(s.orders))}
	for key, order := range s.orders {
		plan.Groups[key] = order
	}
	for _, outcome := range s.outcomes {
		plan.Prior = append(plan.Prior, outcome)
	}
	sort.Slice(plan.Prior, func(i, j int) bool { return plan.Prior[i].RowNumber < plan.Prior[j].RowNumber })

	for _, rec := range s.batch.Records {
		if s.committed(rec.RowNumber) {
			continue
		}
		item := PlanItem{Record: rec.clone()}
		if info, ok := s.batch.Duplicates[rec.Number]; ok && rec.RepeatOf == 0 {
			info := info
			item.Duplicate = &info
			item.Resolution = s.resolutions[rec.Number]
		}
		if state, ok := s.decisions[rec.Number]; ok && rec.RepeatOf == 0 {
			item.Decision = state.Decision
			item.DecisionNotes = state.Notes
		}
		if item.Duplicate == nil && !rec.Blocked() && (item.Decision == nil || !ExcludesRecord(item.Decision)) {
			item.Assignment, _ = s.assignment(rec.Number)
		}
		plan.Items = append(plan.Items, item)
	}
	return plan, nil
}

// BeginCommit marks the session as committing; only one commit runs at a time
func (s *Session) BeginCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committing {
		return ErrCommitInProgress
	}
	s.committing = true
	return nil
}

// FinishCommit records the outcomes of a commit run and reopens the session.
// Rows left not_processed stay open so the next commit resumes them.
func (s *Session) FinishCommit(report CommitReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committing = false
	s.touchedAt = time.Now().UTC()
	for _, outcome := range report.Outcomes {
		if outcome.GroupKey != "" && outcome.OrderID != "" {
			s.orders[outcome.GroupKey] = OrderRef{ID: outcome.OrderID, Number: outcome.OrderNumber}
		}
		if outcome.Result.Final() {
			s.outcomes[outcome.RowNumber] = outcome
		}
	}
}

// Outcomes returns the final outcomes so far, in row order
func (s *Session) Outcomes() []CommitOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CommitOutcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

// Complete reports whether every row has a final outcome
func (s *Session) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes) == len(s.batch.Records)
}

// IdleSince returns the last time the session was changed
func (s *Session) IdleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touchedAt
}

func (s *Session) checkOpen() error {
	if s.committing {
		return ErrCommitInProgress
	}
	return nil
}

func (s *Session) committed(row int) bool {
	o, ok := s.outcomes[row]
	return ok && o.Result.Final()
}

// BlockedError carries the pending decisions that stopped a commit
type BlockedError struct {
	Blockers []Blocker
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: %d pending", ErrCommitBlocked.Error(), len(e.Blockers))
}

// Unwrap lets errors.Is match ErrCommitBlocked
func (e *BlockedError) Unwrap() error {
	return ErrCommitBlocked
}

func hasCandidate(candidates []CompatibleOrderCandidate, orderID string) bool {
	for _, c := range candidates {
		if c.OrderID == orderID {
			return true
		}
	}
	return false
}

func hasTarget(targets []ReassignmentTarget, number string) bool {
	for _, t := range targets {
		if t.Number == number {
			return true
		}
	}
	return false
}

// SessionStore keeps the open sessions of one process
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates a new SessionStore
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Put adds or replaces a session
func (st *SessionStore) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Get returns a session by id
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete abandons a session and discards its state
func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// Sweep drops sessions idle for longer than ttl and returns how many were dropped
func (st *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if s.IdleSince().Before(cutoff) {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}
