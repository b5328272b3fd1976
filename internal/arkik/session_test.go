package arkik

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(finder *fakeFinder) *Engine {
	return NewEngine(finder, finder, finder, EngineConfig{
		Parallelism: 2,
		Match:       MatchOptions{AutoAcceptThreshold: 80},
	}, nil, testLogger())
}

func runSession(t *testing.T, finder *fakeFinder, rows ...RawRow) *Session {
	t.Helper()
	engine := newTestEngine(finder)
	batch, err := engine.Run(context.Background(), "sess-1", "plant-1", testReference(), rows)
	require.NoError(t, err)
	return NewSession(batch, engine.StatusProcessor())
}

func blockerKinds(blockers []Blocker) map[string][]BlockerKind {
	out := map[string][]BlockerKind{}
	for _, b := range blockers {
		out[b.Number] = append(out[b.Number], b.Kind)
	}
	return out
}

func TestSessionBlockers(t *testing.T) {
	cancelled := rawRow(4, "3003")
	cancelled.Status = "Cancelado"

	finder := &fakeFinder{
		existing: map[string]ExistingSnapshot{"1001": {RecordID: "rem-1001", Number: "1001", HasMaterials: true}},
		orders: []OrderSummary{
			{ID: "ord-a", Number: "A", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")},
			{ID: "ord-b", Number: "B", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")},
		},
	}
	s := runSession(t, finder, rawRow(2, "1001"), rawRow(3, "2002"), cancelled)

	kinds := blockerKinds(s.Blockers())
	assert.Equal(t, []BlockerKind{BlockerDuplicateStrategy}, kinds["1001"])
	assert.Equal(t, []BlockerKind{BlockerOrderAssignment}, kinds["2002"])
	assert.Equal(t, []BlockerKind{BlockerStatusDecision, BlockerOrderAssignment}, kinds["3003"])

	_, err := s.Plan()
	assert.ErrorIs(t, err, ErrCommitBlocked)

	require.NoError(t, s.SetDuplicateStrategy("1001", StrategySkip, ""))
	require.NoError(t, s.AssignOrder("2002", AssignExisting{OrderID: "ord-b", OrderNumber: "B"}))
	require.NoError(t, s.DecideStatus("3003", MarkAsWaste{Reason: "cancelled"}, ""))
	assert.Empty(t, s.Blockers())

	plan, err := s.Plan()
	require.NoError(t, err)
	require.Len(t, plan.Items, 3)
	assert.NotNil(t, plan.Items[0].Duplicate)
	assert.Nil(t, plan.Items[0].Assignment)
	assert.Equal(t, AssignExisting{OrderID: "ord-b", OrderNumber: "B"}, plan.Items[1].Assignment)
	assert.Nil(t, plan.Items[2].Assignment, "waste rows take no order")
	assert.Equal(t, MarkAsWaste{Reason: "cancelled"}, plan.Items[2].Decision)
}

func TestSessionRejectsInvalidChoices(t *testing.T) {
	finder := &fakeFinder{
		existing: map[string]ExistingSnapshot{"1001": {RecordID: "rem-1001", Number: "1001"}},
		orders:   []OrderSummary{{ID: "ord-a", Number: "A", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")}},
	}
	s := runSession(t, finder, rawRow(2, "1001"), rawRow(3, "2002"))

	assert.ErrorIs(t, s.SetDuplicateStrategy("1001", "replace", ""), ErrInvalidStrategy)
	assert.ErrorIs(t, s.SetDuplicateStrategy("2002", StrategySkip, ""), ErrNotDuplicate)
	assert.ErrorIs(t, s.AssignOrder("2002", AssignExisting{OrderID: "ord-z"}), ErrUnknownCandidate)
	assert.ErrorIs(t, s.AssignOrder("1001", CreateNewOrder{}), ErrAssignmentNotUsed)
	assert.ErrorIs(t, s.AssignOrder("9999", CreateNewOrder{}), ErrRecordNotFound)
	assert.ErrorIs(t, s.DecideStatus("2002", ProceedNormal{}, ""), ErrNotAbnormal)
}

func TestSessionNoCandidatesMeansNewOrder(t *testing.T) {
	s := runSession(t, &fakeFinder{}, rawRow(2, "1001"))
	a, ok := s.Assignment("1001")
	require.True(t, ok)
	assert.Equal(t, CreateNewOrder{}, a)
	assert.Empty(t, s.Blockers())
}

func TestSessionOrderRefResolvesAssignment(t *testing.T) {
	row := rawRow(2, "1001")
	row.OrderRef = "O-77"
	finder := &fakeFinder{byNumber: map[string]OrderSummary{"O-77": {ID: "ord-77", Number: "O-77"}}}
	s := runSession(t, finder, row)

	a, ok := s.Assignment("1001")
	require.True(t, ok)
	assert.Equal(t, AssignExisting{OrderID: "ord-77", OrderNumber: "O-77"}, a)
}

func TestSessionBlockedRecordsAreNotBlockers(t *testing.T) {
	row := rawRow(2, "1001")
	row.ClientName = "Desconocido"
	s := runSession(t, &fakeFinder{}, row, rawRow(3, "1001"))

	assert.Empty(t, s.Blockers())
	plan, err := s.Plan()
	require.NoError(t, err)
	require.Len(t, plan.Items, 2)
	assert.Nil(t, plan.Items[0].Assignment)
}

func TestAdvanceResetsReassignmentWhoseTargetVanished(t *testing.T) {
	source := rawRow(2, "3003")
	source.Status = "Cancelado"
	finder := &fakeFinder{records: []RecordSummary{
		{ID: "rem-8000", Number: "8000", Status: StatusTerminado, DeliveredAt: day("2025-03-10")},
	}}
	engine := newTestEngine(finder)
	batch, err := engine.Run(context.Background(), "sess-1", "plant-1", testReference(), []RawRow{source})
	require.NoError(t, err)
	s := NewSession(batch, engine.StatusProcessor())
	require.NoError(t, s.DecideStatus("3003", ReassignToExisting{TargetNumber: "8000"}, "se cargó en otra unidad"))

	s.Advance(engine.FindTargets(context.Background(), s.Batch(), nil))
	state, ok := s.Decision("3003")
	require.True(t, ok)
	assert.False(t, state.Pending(), "target still offered")

	finder.records = nil
	s.Advance(engine.FindTargets(context.Background(), s.Batch(), nil))
	state, ok = s.Decision("3003")
	require.True(t, ok)
	assert.True(t, state.Pending())
	assert.True(t, state.DecidedAt.IsZero())
	assert.Equal(t, "se cargó en otra unidad", state.Notes)
	assert.Contains(t, blockerKinds(s.Blockers())["3003"], BlockerStatusDecision)
}

func TestAdvanceDropsAssignmentWhoseCandidateVanished(t *testing.T) {
	finder := &fakeFinder{orders: []OrderSummary{
		{ID: "ord-a", Number: "A", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")},
		{ID: "ord-b", Number: "B", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")},
	}}
	engine := newTestEngine(finder)
	batch, err := engine.Run(context.Background(), "sess-1", "plant-1", testReference(), []RawRow{rawRow(2, "2002")})
	require.NoError(t, err)
	s := NewSession(batch, engine.StatusProcessor())
	require.NoError(t, s.AssignOrder("2002", AssignExisting{OrderID: "ord-b", OrderNumber: "B"}))

	finder.orders = finder.orders[:1]
	s.Advance(engine.MatchOrders(context.Background(), s.Batch(), []string{"2002"}, false))

	assert.Contains(t, blockerKinds(s.Blockers())["2002"], BlockerOrderAssignment)
}

func TestApplyUnattendedPolicy(t *testing.T) {
	incomplete := rawRow(3, "2002")
	incomplete.Status = "Terminado incompleto"
	cancelled := rawRow(4, "3003")
	cancelled.Status = "Cancelado"

	finder := &fakeFinder{
		existing: map[string]ExistingSnapshot{"1001": {RecordID: "rem-1001", Number: "1001"}},
		orders: []OrderSummary{
			{ID: "ord-a", Number: "A", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")},
			{ID: "ord-b", Number: "B", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")},
		},
	}
	s := runSession(t, finder, rawRow(2, "1001"), incomplete, cancelled)
	s.ApplyUnattendedPolicy()
	assert.Empty(t, s.Blockers())

	r, ok := s.Resolution("1001")
	require.True(t, ok)
	assert.Equal(t, StrategyUpdateMaterialsOnly, r.Strategy)

	a, _ := s.Assignment("2002")
	assert.Equal(t, CreateNewOrder{}, a)

	d, _ := s.Decision("2002")
	assert.Equal(t, ProceedNormal{}, d.Decision)
	d, _ = s.Decision("3003")
	assert.Equal(t, MarkAsWaste{Reason: "cancelled"}, d.Decision)
}

func TestSessionCommitLifecycle(t *testing.T) {
	s := runSession(t, &fakeFinder{}, rawRow(2, "1001"), rawRow(3, "1002"))
	require.NoError(t, s.BeginCommit())
	assert.ErrorIs(t, s.BeginCommit(), ErrCommitInProgress)
	assert.ErrorIs(t, s.AssignOrder("1001", CreateNewOrder{}), ErrCommitInProgress)

	s.FinishCommit(CommitReport{Outcomes: []CommitOutcome{
		{RowNumber: 2, Number: "1001", Result: OutcomeCreated},
		{RowNumber: 3, Number: "1002", Result: OutcomeNotProcessed},
	}})
	assert.False(t, s.Complete())

	plan, err := s.Plan()
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)
	assert.Equal(t, "1002", plan.Items[0].Record.Number)
	require.Len(t, plan.Prior, 1)
}

func TestSessionStoreSweep(t *testing.T) {
	store := NewSessionStore()
	s := runSession(t, &fakeFinder{}, rawRow(2, "1001"))
	store.Put(s)

	got, err := store.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	assert.Equal(t, 0, store.Sweep(time.Hour))
	assert.Equal(t, 1, store.Sweep(-time.Second))
	_, err = store.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSummarize(t *testing.T) {
	row := rawRow(3, "1002")
	row.ClientName = "Desconocido"
	s := runSession(t, &fakeFinder{}, rawRow(2, "1001"), row)

	sum := Summarize(s)
	assert.Equal(t, 2, sum.TotalRows)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 1, sum.Blocked)
	assert.True(t, sum.TotalVolume.Equal(dec("7.5")))
	assert.True(t, sum.Variance["CEMENT"].Difference.Equal(dec("2")))
	assert.Equal(t, 0, sum.Pending)
}
