package arkik

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func testReference() *ReferenceSet {
	return NewReferenceSet(
		[]Recipe{{ID: "rcp-1", Code: "R-250", ArkikCode: "5-250-2-C-28-14-D-2-000"}},
		[]Client{{ID: "cli-1", Code: "C001", Name: "Constructora ABC"}},
		[]Site{{ID: "site-1", ClientID: "cli-1", Name: "Torre Norte"}},
		[]Material{{ID: "mat-cement", Code: "CEMENT"}, {ID: "mat-water", Code: "WATER"}},
		[]Price{{RecipeID: "rcp-1", Amount: dec("1850.00"), QuoteDetailID: "qd-1"}},
	)
}

func rawRow(row int, number string) RawRow {
	return RawRow{
		RowNumber:          row,
		Number:             number,
		ClientName:         "Constructora ABC",
		SiteName:           "Torre Norte",
		Date:               day("2025-03-10"),
		ProductDescription: "5-250-2-C-28-14-D-2-000",
		Volume:             "7.5",
		Driver:             "Juan",
		Plate:              "ABC-123",
		Status:             "Terminado",
		Materials: map[string]Measure{
			"CEMENT": {Theoretical: dec("100"), Real: dec("102")},
		},
	}
}

// fakeFinder serves ExistingFinder, OrderFinder and RecordFinder from memory
type fakeFinder struct {
	existing    map[string]ExistingSnapshot
	orders      []OrderSummary
	byNumber    map[string]OrderSummary
	records     []RecordSummary
	existingErr error
	ordersErr   error
}

func (f *fakeFinder) FindExisting(_ context.Context, _ string, numbers []string) (map[string]ExistingSnapshot, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	out := map[string]ExistingSnapshot{}
	for _, n := range numbers {
		if snap, ok := f.existing[n]; ok {
			out[n] = snap
		}
	}
	return out, nil
}

func (f *fakeFinder) FindOrders(_ context.Context, q OrderQuery) ([]OrderSummary, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	var out []OrderSummary
	for _, o := range f.orders {
		if o.ClientID == q.ClientID && o.SiteID == q.SiteID && !o.DeliveryDate.Before(q.From) && !o.DeliveryDate.After(q.To) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeFinder) FindOrderByNumber(_ context.Context, _ string, number string) (*OrderSummary, error) {
	if o, ok := f.byNumber[number]; ok {
		return &o, nil
	}
	return nil, nil
}

func (f *fakeFinder) FindRecords(_ context.Context, q RecordQuery) ([]RecordSummary, error) {
	var out []RecordSummary
	for _, r := range f.records {
		if r.Number != q.ExcludeNumber {
			out = append(out, r)
		}
	}
	return out, nil
}

type storedRecord struct {
	RecordWrite
	ID string
}

// memStore is an in-memory Store with the same keying as the database one
type memStore struct {
	mu        sync.Mutex
	seq       int
	orders    map[string]OrderWrite
	items     map[string]OrderItemWrite
	prices    map[string]PriceWrite
	records   map[string]*storedRecord
	waste     map[string]WasteWrite
	transfers map[string]TransferWrite
	outcomes  []CommitOutcome

	failRecord   map[string]error
	failTransfer error
	onUpsert     func(number string)
}

func newMemStore() *memStore {
	return &memStore{
		seq:        1,
		orders:     map[string]OrderWrite{},
		items:      map[string]OrderItemWrite{},
		prices:     map[string]PriceWrite{},
		records:    map[string]*storedRecord{},
		waste:      map[string]WasteWrite{},
		transfers:  map[string]TransferWrite{},
		failRecord: map[string]error{},
	}
}

func (s *memStore) NextOrderSequence(context.Context, string, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq + len(s.orders), nil
}

func (s *memStore) CreateOrder(_ context.Context, w OrderWrite) (OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[w.Number] = w
	return OrderRef{ID: "ord-" + w.Number, Number: w.Number}, nil
}

func (s *memStore) UpsertOrderItem(_ context.Context, w OrderItemWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[w.OrderID+"|"+w.RecordNumber] = w
	return nil
}

func (s *memStore) RecordPrice(_ context.Context, w PriceWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[w.OrderID+"|"+w.RecipeID] = w
	return nil
}

func (s *memStore) UpsertRecord(_ context.Context, w RecordWrite) (RecordRef, error) {
	if s.onUpsert != nil {
		s.onUpsert(w.Number)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failRecord[w.Number]; err != nil {
		return RecordRef{}, err
	}
	if existing, ok := s.records[w.Number]; ok {
		existing.RecordWrite = w
		return RecordRef{ID: existing.ID}, nil
	}
	rec := &storedRecord{RecordWrite: w, ID: "rem-" + w.Number}
	s.records[w.Number] = rec
	return RecordRef{ID: rec.ID, Created: true}, nil
}

func (s *memStore) ReplaceMaterials(_ context.Context, recordID string, materials map[string]Measure, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == recordID {
			rec.Materials = materials
			return nil
		}
	}
	return fmt.Errorf("record %s not found", recordID)
}

func (s *memStore) RecordWaste(ctx context.Context, rows []WasteWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range rows {
		s.waste[w.Number+"|"+w.MaterialCode] = w
	}
	return nil
}

func (s *memStore) TransferMaterials(_ context.Context, w TransferWrite) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTransfer != nil {
		return false, s.failTransfer
	}
	key := w.PlantID + "|" + w.SourceNumber + "|" + w.TargetNumber
	if _, done := s.transfers[key]; done {
		return false, nil
	}
	target, ok := s.records[w.TargetNumber]
	if !ok {
		return false, fmt.Errorf("target %s not found", w.TargetNumber)
	}
	if target.Materials == nil {
		target.Materials = map[string]Measure{}
	}
	for code, qty := range w.Materials {
		m := target.Materials[code]
		m.Real = m.Real.Add(qty)
		target.Materials[code] = m
	}
	s.transfers[key] = w
	return true, nil
}

func (s *memStore) SaveOutcomes(_ context.Context, _ string, outcomes []CommitOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcomes...)
	return nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

type memLock struct {
	l   *memLocker
	key string
}

func (l *memLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, fmt.Errorf("lock %s busy", key)
	}
	l.held[key] = true
	return &memLock{l: l, key: key}, nil
}

func (m *memLock) Release(context.Context) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	delete(m.l.held, m.key)
	return nil
}
