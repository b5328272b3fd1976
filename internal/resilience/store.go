package resilience

import (
	"context"
	"time"

	"github.com/xelth-com/arkikgo/internal/arkik"
)

// Backend is everything the engine reads from and writes to persistence
type Backend interface {
	arkik.Store
	arkik.ExistingFinder
	arkik.OrderFinder
	arkik.RecordFinder
}

// GuardedBackend runs lookups and writes of a Backend through guards.
// Every Store write is keyed, so retrying one repeats an upsert rather than inserting twice.
type GuardedBackend struct {
	next   Backend
	reads  *Guard
	writes *Guard
}

// NewGuardedBackend wraps next with separate guards for lookups and writes
func NewGuardedBackend(next Backend, reads, writes *Guard) *GuardedBackend {
	return &GuardedBackend{next: next, reads: reads, writes: writes}
}

func (b *GuardedBackend) FindExisting(ctx context.Context, plantID string, numbers []string) (map[string]arkik.ExistingSnapshot, error) {
	return Call(ctx, b.reads, "FindExisting", func(ctx context.Context) (map[string]arkik.ExistingSnapshot, error) {
		return b.next.FindExisting(ctx, plantID, numbers)
	})
}

func (b *GuardedBackend) FindOrders(ctx context.Context, q arkik.OrderQuery) ([]arkik.OrderSummary, error) {
	return Call(ctx, b.reads, "FindOrders", func(ctx context.Context) ([]arkik.OrderSummary, error) {
		return b.next.FindOrders(ctx, q)
	})
}

func (b *GuardedBackend) FindOrderByNumber(ctx context.Context, plantID, number string) (*arkik.OrderSummary, error) {
	return Call(ctx, b.reads, "FindOrderByNumber", func(ctx context.Context) (*arkik.OrderSummary, error) {
		return b.next.FindOrderByNumber(ctx, plantID, number)
	})
}

func (b *GuardedBackend) FindRecords(ctx context.Context, q arkik.RecordQuery) ([]arkik.RecordSummary, error) {
	return Call(ctx, b.reads, "FindRecords", func(ctx context.Context) ([]arkik.RecordSummary, error) {
		return b.next.FindRecords(ctx, q)
	})
}

func (b *GuardedBackend) NextOrderSequence(ctx context.Context, plantCode string, day time.Time) (int, error) {
	return Call(ctx, b.reads, "NextOrderSequence", func(ctx context.Context) (int, error) {
		return b.next.NextOrderSequence(ctx, plantCode, day)
	})
}

func (b *GuardedBackend) CreateOrder(ctx context.Context, w arkik.OrderWrite) (arkik.OrderRef, error) {
	return Call(ctx, b.writes, "CreateOrder", func(ctx context.Context) (arkik.OrderRef, error) {
		return b.next.CreateOrder(ctx, w)
	})
}

func (b *GuardedBackend) UpsertOrderItem(ctx context.Context, w arkik.OrderItemWrite) error {
	return b.writes.Do(ctx, "UpsertOrderItem", func(ctx context.Context) error {
		return b.next.UpsertOrderItem(ctx, w)
	})
}

func (b *GuardedBackend) RecordPrice(ctx context.Context, w arkik.PriceWrite) error {
	return b.writes.Do(ctx, "RecordPrice", func(ctx context.Context) error {
		return b.next.RecordPrice(ctx, w)
	})
}

func (b *GuardedBackend) UpsertRecord(ctx context.Context, w arkik.RecordWrite) (arkik.RecordRef, error) {
	return Call(ctx, b.writes, "UpsertRecord", func(ctx context.Context) (arkik.RecordRef, error) {
		return b.next.UpsertRecord(ctx, w)
	})
}

func (b *GuardedBackend) ReplaceMaterials(ctx context.Context, recordID string, materials map[string]arkik.Measure, materialIDs map[string]string) error {
	return b.writes.Do(ctx, "ReplaceMaterials", func(ctx context.Context) error {
		return b.next.ReplaceMaterials(ctx, recordID, materials, materialIDs)
	})
}

func (b *GuardedBackend) RecordWaste(ctx context.Context, rows []arkik.WasteWrite) error {
	return b.writes.Do(ctx, "RecordWaste", func(ctx context.Context) error {
		return b.next.RecordWaste(ctx, rows)
	})
}

func (b *GuardedBackend) TransferMaterials(ctx context.Context, w arkik.TransferWrite) (bool, error) {
	return Call(ctx, b.writes, "TransferMaterials", func(ctx context.Context) (bool, error) {
		return b.next.TransferMaterials(ctx, w)
	})
}

func (b *GuardedBackend) SaveOutcomes(ctx context.Context, sessionID string, outcomes []arkik.CommitOutcome) error {
	return b.writes.Do(ctx, "SaveOutcomes", func(ctx context.Context) error {
		return b.next.SaveOutcomes(ctx, sessionID, outcomes)
	})
}
