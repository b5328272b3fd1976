package arkik

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unmatchedRecord() StagingRecord {
	return StagingRecord{
		Number:      "5001",
		PlantID:     "plant-1",
		ClientID:    "cli-1",
		SiteID:      "site-1",
		RecipeID:    "rcp-1",
		Driver:      "Juan",
		Plate:       "ABC-123",
		DeliveredAt: day("2024-05-01").Add(9 * time.Hour),
		Status:      StatusTerminado,
	}
}

func TestFindCompatibleOrdersRanksSharedDriverFirst(t *testing.T) {
	finder := &fakeFinder{orders: []OrderSummary{
		{
			ID: "ord-y", Number: "Y", ClientID: "cli-1", SiteID: "site-1",
			DeliveryDate: day("2024-05-01"),
			Deliveries:   []OrderDelivery{{Number: "4000", Driver: "Pedro", Plate: "XYZ-999", DeliveredAt: day("2024-05-01"), MaterialCount: 3}},
		},
		{
			ID: "ord-x", Number: "X", ClientID: "cli-1", SiteID: "site-1",
			DeliveryDate: day("2024-05-01"),
			Deliveries:   []OrderDelivery{{Number: "4001", Driver: "juan", Plate: "abc 123", DeliveredAt: day("2024-05-01")}},
		},
	}}
	m := NewMatcher(finder, finder, testLogger())

	candidates := m.FindCompatibleOrders(context.Background(), unmatchedRecord(), MatchOptions{})
	require.Len(t, candidates, 2)
	assert.Equal(t, "X", candidates[0].OrderNumber)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
	assert.Contains(t, candidates[0].Reasons, ReasonSameDriver)
	assert.Contains(t, candidates[0].Reasons, ReasonSamePlate)
	assert.Contains(t, candidates[0].Reasons, ReasonCleanSlot)
	assert.Equal(t, []string{ReasonSameDay}, candidates[1].Reasons)
	assert.False(t, candidates[0].Preselected)
}

func TestScoreOrderNeverDecreasesWithMoreFactors(t *testing.T) {
	rec := unmatchedRecord()
	w := DefaultOrderWeights()
	empty := OrderSummary{DeliveryDate: day("2024-04-20")}

	additions := []func(*OrderSummary){
		func(o *OrderSummary) {
			o.Deliveries = append(o.Deliveries, OrderDelivery{Driver: "Juan", MaterialCount: 1})
		},
		func(o *OrderSummary) {
			o.Deliveries = append(o.Deliveries, OrderDelivery{Plate: "ABC123", MaterialCount: 1})
		},
		func(o *OrderSummary) { o.DeliveryDate = day("2024-05-01") },
		func(o *OrderSummary) {
			o.Deliveries = append(o.Deliveries, OrderDelivery{MaterialCount: 0})
		},
		func(o *OrderSummary) { o.Items = append(o.Items, OrderItemSummary{RecipeID: "rcp-1"}) },
	}

	order := empty
	prev, _ := ScoreOrder(rec, order, w)
	assert.Zero(t, prev)
	for i, add := range additions {
		add(&order)
		score, _ := ScoreOrder(rec, order, w)
		assert.GreaterOrEqual(t, score, prev, "after factor %d", i)
		prev = score
	}
	assert.Equal(t, w.Driver+w.Vehicle+w.SameDay+w.CleanSlot+w.Recipe, prev)
}

func TestScoreOrderCountsEachFactorOnce(t *testing.T) {
	rec := unmatchedRecord()
	order := OrderSummary{Deliveries: []OrderDelivery{
		{Driver: "Juan", MaterialCount: 1},
		{Driver: "Juan", MaterialCount: 1},
	}}
	score, reasons := ScoreOrder(rec, order, DefaultOrderWeights())
	assert.Equal(t, 50.0, score)
	assert.Equal(t, []string{ReasonSameDriver}, reasons)
}

func TestDefaultWeightsKeepRanking(t *testing.T) {
	assert.NoError(t, DefaultOrderWeights().ValidateOrderRanking())

	w := DefaultOrderWeights()
	w.Vehicle = 60
	assert.Error(t, w.ValidateOrderRanking())
}

func TestFindCompatibleOrdersTieBreak(t *testing.T) {
	mk := func(id, number string, latest time.Time) OrderSummary {
		return OrderSummary{
			ID: id, Number: number, ClientID: "cli-1", SiteID: "site-1",
			DeliveryDate: day("2024-05-01"),
			Deliveries:   []OrderDelivery{{Number: id, DeliveredAt: latest, MaterialCount: 1}},
		}
	}
	finder := &fakeFinder{orders: []OrderSummary{
		mk("a", "12", day("2024-05-01").Add(8*time.Hour)),
		mk("b", "11", day("2024-05-01").Add(10*time.Hour)),
		mk("c", "9", day("2024-05-01").Add(10*time.Hour)),
	}}
	m := NewMatcher(finder, finder, testLogger())

	candidates := m.FindCompatibleOrders(context.Background(), unmatchedRecord(), MatchOptions{})
	require.Len(t, candidates, 3)
	assert.Equal(t, []string{"9", "11", "12"}, []string{candidates[0].OrderNumber, candidates[1].OrderNumber, candidates[2].OrderNumber})
}

func TestFindCompatibleOrdersPreselectsSingleStrongCandidate(t *testing.T) {
	finder := &fakeFinder{orders: []OrderSummary{{
		ID: "ord-x", Number: "X", ClientID: "cli-1", SiteID: "site-1",
		DeliveryDate: day("2024-05-01"),
		Deliveries:   []OrderDelivery{{Driver: "Juan", Plate: "ABC-123", MaterialCount: 2}},
	}}}
	m := NewMatcher(finder, finder, testLogger())

	candidates := m.FindCompatibleOrders(context.Background(), unmatchedRecord(), MatchOptions{AutoAcceptThreshold: 80})
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].Preselected)

	candidates = m.FindCompatibleOrders(context.Background(), unmatchedRecord(), MatchOptions{AutoAcceptThreshold: 150})
	assert.False(t, candidates[0].Preselected)
}

func TestFindCompatibleOrdersAdjacentDays(t *testing.T) {
	finder := &fakeFinder{orders: []OrderSummary{{
		ID: "ord-x", Number: "X", ClientID: "cli-1", SiteID: "site-1",
		DeliveryDate: day("2024-05-02"),
	}}}
	m := NewMatcher(finder, finder, testLogger())

	assert.Empty(t, m.FindCompatibleOrders(context.Background(), unmatchedRecord(), MatchOptions{}))

	candidates := m.FindCompatibleOrders(context.Background(), unmatchedRecord(), MatchOptions{AdjacentDays: true})
	require.Len(t, candidates, 1)
	assert.Equal(t, []string{ReasonAdjacentDay}, candidates[0].Reasons)
}

func TestFindCompatibleOrdersSearchFailure(t *testing.T) {
	finder := &fakeFinder{ordersErr: errors.New("timeout")}
	m := NewMatcher(finder, finder, testLogger())
	assert.Empty(t, m.FindCompatibleOrders(context.Background(), unmatchedRecord(), MatchOptions{}))
}

func TestFindReassignmentTargets(t *testing.T) {
	source := unmatchedRecord()
	source.Number = "6000"
	source.RawStatus = "Cancelado"
	source.Status = StatusCancelado

	finder := &fakeFinder{records: []RecordSummary{
		{ID: "rem-1", Number: "6001", Status: StatusTerminado, DeliveredAt: day("2024-05-01"), HasMaterials: true, Driver: "Juan"},
		{ID: "rem-2", Number: "6002", Status: StatusTerminado, DeliveredAt: day("2024-05-02")},
		{ID: "rem-3", Number: "6003", Status: StatusCancelado, DeliveredAt: day("2024-05-01")},
		{ID: "rem-4", Number: "6004", Status: StatusTerminado, DeliveredAt: day("2024-05-01"), OrderID: "ord-1"},
		{ID: "rem-5", Number: "6005", Status: StatusTerminado, DeliveredAt: day("2024-05-01"), RecipeID: "rcp-other"},
		{ID: "rem-6", Number: "6006", Status: StatusTerminado, DeliveredAt: day("2024-05-09")},
	}}
	m := NewMatcher(finder, finder, testLogger())

	batch := []StagingRecord{source, {
		Number: "6007", ClientID: "cli-1", SiteID: "site-1", Status: StatusTerminado,
		DeliveredAt: day("2024-05-01"), Driver: "Juan", Plate: "ABC-123",
	}}

	targets := m.FindReassignmentTargets(context.Background(), source, batch, MatchOptions{})
	numbers := make([]string, 0, len(targets))
	for _, target := range targets {
		numbers = append(numbers, target.Number)
	}
	assert.Equal(t, []string{"6007", "6002", "6001"}, numbers)
	assert.True(t, targets[0].InBatch)

	targets = m.FindReassignmentTargets(context.Background(), source, batch, MatchOptions{AllowAssigned: true})
	assert.Len(t, targets, 4)
}

func TestMatchOrdersNamedRecords(t *testing.T) {
	assigned := rawRow(3, "2002")
	assigned.OrderRef = "O-77"
	finder := &fakeFinder{
		existing: map[string]ExistingSnapshot{"1001": {RecordID: "rem-1001", Number: "1001"}},
		orders:   []OrderSummary{{ID: "ord-a", Number: "A", ClientID: "cli-1", SiteID: "site-1", DeliveryDate: day("2025-03-10")}},
		byNumber: map[string]OrderSummary{"O-77": {ID: "ord-77", Number: "O-77", ClientID: "cli-1", SiteID: "site-1"}},
	}
	engine := newTestEngine(finder)
	batch, err := engine.Run(context.Background(), "sess-1", "plant-1", testReference(), []RawRow{rawRow(2, "1001"), assigned})
	require.NoError(t, err)
	_, ok := batch.Candidates["1001"]
	require.False(t, ok, "duplicates are not matched on open")
	rec, _ := batch.Record("2002")
	require.Equal(t, "ord-77", rec.OrderID)

	// naming a duplicate rescores it
	out := engine.MatchOrders(context.Background(), batch, []string{"1001"}, false)
	require.Len(t, out.Candidates["1001"], 1)
	assert.Equal(t, "ord-a", out.Candidates["1001"][0].OrderID)

	// an assigned record is rescored only on request
	out = engine.MatchOrders(context.Background(), batch, []string{"2002"}, false)
	_, ok = out.Candidates["2002"]
	assert.False(t, ok)
	out = engine.MatchOrders(context.Background(), batch, []string{"2002"}, true)
	require.Len(t, out.Candidates["2002"], 1)
	assert.Equal(t, "ord-a", out.Candidates["2002"][0].OrderID)
	rec, _ = out.Record("2002")
	assert.Equal(t, "ord-77", rec.OrderID, "rescoring keeps the resolved order")
}

func TestFindTargetsNamedRecords(t *testing.T) {
	engine := newTestEngine(&fakeFinder{})
	batch, err := engine.Run(context.Background(), "sess-1", "plant-1", testReference(), []RawRow{rawRow(2, "1001"), rawRow(3, "2002")})
	require.NoError(t, err)
	require.Empty(t, batch.Targets)

	out := engine.FindTargets(context.Background(), batch, []string{"1001"})
	_, ok := out.Targets["1001"]
	assert.True(t, ok)
	_, ok = out.Targets["2002"]
	assert.False(t, ok)
}
