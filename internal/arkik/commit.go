package arkik

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OutcomeResult is what happened to one row at commit
type OutcomeResult string

const (
	OutcomeCreated      OutcomeResult = "created"
	OutcomeUpdated      OutcomeResult = "updated"
	OutcomeSkipped      OutcomeResult = "skipped"
	OutcomeFailed       OutcomeResult = "failed"
	OutcomeNotProcessed OutcomeResult = "not_processed"
)

// Final reports whether the row needs no further commit attempt
func (r OutcomeResult) Final() bool {
	return r == OutcomeCreated || r == OutcomeUpdated || r == OutcomeSkipped
}

// Commit stages, reported on failed outcomes
const (
	StageLock      = "lock"
	StageOrder     = "order"
	StageOrderItem = "order_item"
	StagePrice     = "price"
	StageRecord    = "record"
	StageMaterials = "materials"
	StageWaste     = "waste"
	StageTransfer  = "transfer"
)

// CommitOutcome is the permanent audit entry of one row
type CommitOutcome struct {
	RowNumber    int           `json:"row_number"`
	Number       string        `json:"number"`
	Result       OutcomeResult `json:"result"`
	RecordID     string        `json:"record_id,omitempty"`
	OrderID      string        `json:"order_id,omitempty"`
	OrderNumber  string        `json:"order_number,omitempty"`
	CreatedOrder bool          `json:"created_order,omitempty"`
	Strategy     string        `json:"strategy,omitempty"`
	Action       StatusAction  `json:"action,omitempty"`
	Stage        string        `json:"stage,omitempty"`
	Error        string        `json:"error,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	GroupKey     string        `json:"-"`
}

// CommitReport is the result of one commit run
type CommitReport struct {
	SessionID  string                `json:"session_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Outcomes   []CommitOutcome       `json:"outcomes"`
	Counts     map[OutcomeResult]int `json:"counts"`
	Cancelled  bool                  `json:"cancelled"`
}

// PlanItem is one row with every choice frozen for commit
type PlanItem struct {
	Record        StagingRecord
	Duplicate     *DuplicateInfo
	Resolution    DuplicateResolution
	Assignment    OrderAssignment // nil for duplicates, blocked rows and excluded rows
	Decision      StatusDecision  // nil for normal rows
	DecisionNotes string
}

// CommitPlan is the frozen input of a commit run, in row order
type CommitPlan struct {
	SessionID string
	PlantID   string
	Items     []PlanItem
	Prior     []CommitOutcome
	// Groups are orders created by earlier runs, including runs whose row then failed
	Groups map[string]OrderRef
}

// RecordWrite is a delivery record upsert keyed by (PlantID, Number)
type RecordWrite struct {
	SessionID    string
	PlantID      string
	Number       string
	OrderID      string
	ClientID     string
	SiteID       string
	RecipeID     string
	DeliveredAt  time.Time
	Volume       decimal.Decimal
	Driver       string
	Plate        string
	Truck        string
	RawStatus    string
	Status       RemisionStatus
	Materials    map[string]Measure
	MaterialIDs  map[string]string
	Excluded     bool
	Action       StatusAction
	WasteReason  string
	ReassignedTo string
	Notes        string
}

// RecordRef identifies a persisted delivery record
type RecordRef struct {
	ID      string
	Created bool
}

// OrderWrite creates an order keyed by its number
type OrderWrite struct {
	PlantID      string
	Number       string
	ClientID     string
	SiteID       string
	SiteName     string
	DeliveryDate time.Time
}

// OrderRef identifies a persisted order
type OrderRef struct {
	ID     string
	Number string
}

// OrderItemWrite is one line of a created order, keyed by (OrderID, RecordNumber)
type OrderItemWrite struct {
	OrderID       string
	RecordNumber  string
	RecipeID      string
	ProductType   string
	Volume        decimal.Decimal
	UnitPrice     decimal.Decimal
	QuoteDetailID string
}

// PriceWrite keeps the price used for an order line, keyed by (OrderID, RecipeID)
type PriceWrite struct {
	OrderID       string
	RecipeID      string
	ClientID      string
	SiteID        string
	Amount        decimal.Decimal
	Source        PriceSource
	QuoteDetailID string
}

// WasteWrite is one scrapped material, keyed by (PlantID, Number, MaterialCode)
type WasteWrite struct {
	SessionID    string
	PlantID      string
	Number       string
	MaterialCode string
	MaterialID   string
	Theoretical  decimal.Decimal
	Actual       decimal.Decimal
	Waste        decimal.Decimal
	Reason       WasteReason
	Notes        string
	DeliveredAt  time.Time
}

// TransferWrite adds materials to a target record, keyed by (PlantID, SourceNumber, TargetNumber)
type TransferWrite struct {
	PlantID        string
	SourceNumber   string
	TargetNumber   string
	TargetRecordID string
	Materials      map[string]decimal.Decimal
	Reason         string
}

// Store is the write side of the commit pipeline. Every write is keyed so that
// repeating it is an upsert or a no-op, never a second insert.
type Store interface {
	NextOrderSequence(ctx context.Context, plantCode string, day time.Time) (int, error)
	CreateOrder(ctx context.Context, w OrderWrite) (OrderRef, error)
	UpsertOrderItem(ctx context.Context, w OrderItemWrite) error
	RecordPrice(ctx context.Context, w PriceWrite) error
	UpsertRecord(ctx context.Context, w RecordWrite) (RecordRef, error)
	ReplaceMaterials(ctx context.Context, recordID string, materials map[string]Measure, materialIDs map[string]string) error
	RecordWaste(ctx context.Context, rows []WasteWrite) error
	// TransferMaterials returns false when this transfer was already applied
	TransferMaterials(ctx context.Context, w TransferWrite) (bool, error)
	SaveOutcomes(ctx context.Context, sessionID string, outcomes []CommitOutcome) error
}

// Lock is a held per-key lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serializes commits of the same record number across processes
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

// ProgressEvent is published after every committed row
type ProgressEvent struct {
	SessionID string        `json:"session_id"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Outcome   CommitOutcome `json:"outcome"`
}

// ProgressSink receives commit progress, e.g. to push to operators
type ProgressSink interface {
	Publish(sessionID string, event any)
}

type nopSink struct{}

func (nopSink) Publish(string, any) {}

// CommitterConfig configures a Committer
type CommitterConfig struct {
	PlantCode string
	Now       func() time.Time
}

// Committer applies a commit plan row by row. A failing row is recorded and
// the run moves on; cancellation leaves the remaining rows not_processed.
type Committer struct {
	store     Store
	locker    Locker
	observer  Observer
	progress  ProgressSink
	logger    logrus.FieldLogger
	plantCode string
	now       func() time.Time
}

// NewCommitter creates a new Committer
func NewCommitter(store Store, locker Locker, cfg CommitterConfig, observer Observer, progress ProgressSink, logger logrus.FieldLogger) *Committer {
	if observer == nil {
		observer = NopObserver{}
	}
	if progress == nil {
		progress = nopSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Committer{
		store:     store,
		locker:    locker,
		observer:  observer,
		progress:  progress,
		logger:    logger,
		plantCode: cfg.PlantCode,
		now:       cfg.Now,
	}
}

// run carries what one commit run shares between rows
type run struct {
	plan      CommitPlan
	groups    map[string]OrderRef
	sequence  int
	transfers []pendingTransfer
}

type pendingTransfer struct {
	index    int
	item     PlanItem
	decision ReassignToExisting
}

// Commit applies the plan in row order
func (c *Committer) Commit(ctx context.Context, plan CommitPlan) CommitReport {
	report := CommitReport{
		SessionID: plan.SessionID,
		StartedAt: c.now().UTC(),
		Counts:    map[OutcomeResult]int{},
	}
	r := &run{plan: plan, groups: map[string]OrderRef{}}
	for key, order := range plan.Groups {
		r.groups[key] = order
	}
	for _, prior := range plan.Prior {
		if prior.GroupKey != "" && prior.OrderID != "" {
			r.groups[prior.GroupKey] = OrderRef{ID: prior.OrderID, Number: prior.OrderNumber}
		}
	}

	// 1. Rows in order
	outcomes := make([]CommitOutcome, len(plan.Items))
	for i, item := range plan.Items {
		if ctx.Err() != nil {
			report.Cancelled = true
			for j := i; j < len(plan.Items); j++ {
				outcomes[j] = notProcessed(plan.Items[j])
			}
			break
		}
		started := time.Now()
		outcomes[i] = c.commitItem(ctx, r, i, item)
		if outcomes[i].Result != OutcomeNotProcessed {
			c.observer.RecordCommitted(outcomes[i].Result, time.Since(started))
		}
		c.progress.Publish(plan.SessionID, ProgressEvent{SessionID: plan.SessionID, Processed: i + 1, Total: len(plan.Items), Outcome: outcomes[i]})
	}

	// 2. Material transfers, once every target row had its chance to be written
	for _, t := range r.transfers {
		if outcomes[t.index].Result == OutcomeFailed || outcomes[t.index].Result == OutcomeNotProcessed {
			continue
		}
		if ctx.Err() != nil {
			report.Cancelled = true
			outcomes[t.index].Result = OutcomeNotProcessed
			outcomes[t.index].Reason = "transferencia pendiente"
			continue
		}
		if err := c.transfer(ctx, plan, t); err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				outcomes[t.index].Result = OutcomeNotProcessed
				outcomes[t.index].Reason = "transferencia pendiente"
				continue
			}
			outcomes[t.index] = failed(t.item, StageTransfer, err)
			c.logFailure(t.item, StageTransfer, err)
		}
	}

	for _, o := range outcomes {
		report.Counts[o.Result]++
	}
	report.Outcomes = outcomes
	report.FinishedAt = c.now().UTC()

	// 3. Audit trail, even when the run was cancelled
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.store.SaveOutcomes(auditCtx, plan.SessionID, outcomes); err != nil {
		c.logger.WithFields(logrus.Fields{
			"module":   "commit",
			"funcName": "Commit",
			"session":  plan.SessionID,
		}).WithError(err).Error("failed to save commit outcomes")
	}
	return report
}

func (c *Committer) commitItem(ctx context.Context, r *run, index int, item PlanItem) CommitOutcome {
	rec := item.Record
	if rec.RepeatOf > 0 {
		return skipped(item, fmt.Sprintf("repetida en el archivo (fila %d)", rec.RepeatOf))
	}
	if rec.Blocked() {
		return skipped(item, "problemas de validación sin resolver")
	}
	if item.Duplicate != nil && !item.Resolution.Strategy.Writes() {
		out := skipped(item, "duplicada: "+string(item.Resolution.Strategy))
		out.RecordID = item.Duplicate.Existing.RecordID
		out.OrderID = item.Duplicate.Existing.OrderID
		return out
	}

	lock, err := c.locker.Obtain(ctx, recordLockKey(r.plan.PlantID, rec.Number))
	if err != nil {
		if ctx.Err() != nil {
			return notProcessed(item)
		}
		c.logFailure(item, StageLock, err)
		return failed(item, StageLock, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			c.logger.WithField("number", rec.Number).WithError(err).Warn("failed to release record lock")
		}
	}()

	var out CommitOutcome
	var stage string
	if item.Duplicate != nil {
		out, stage, err = c.applyDuplicate(ctx, r, item)
	} else {
		out, stage, err = c.applyNew(ctx, r, item)
	}
	if err != nil {
		return c.interrupted(ctx, out, item, stage, err)
	}

	// Status decision side effects
	switch d := item.Decision.(type) {
	case MarkAsWaste:
		if err := c.store.RecordWaste(ctx, wasteRows(r.plan, item, d)); err != nil {
			return c.interrupted(ctx, out, item, StageWaste, err)
		}
		out.Reason = "materiales marcados como desperdicio: " + d.Reason
	case ReassignToExisting:
		r.transfers = append(r.transfers, pendingTransfer{index: index, item: item, decision: d})
		out.Reason = "materiales reasignados a " + d.TargetNumber
	}
	return out
}

// interrupted turns a write error into the row outcome: not_processed when the run
// was cancelled, failed otherwise. An order the row already created stays on the
// outcome so the next run reuses it.
func (c *Committer) interrupted(ctx context.Context, partial CommitOutcome, item PlanItem, stage string, err error) CommitOutcome {
	var out CommitOutcome
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		out = notProcessed(item)
	} else {
		c.logFailure(item, stage, err)
		out = failed(item, stage, err)
	}
	if partial.GroupKey != "" && partial.OrderID != "" {
		out.OrderID = partial.OrderID
		out.OrderNumber = partial.OrderNumber
		out.CreatedOrder = partial.CreatedOrder
		out.GroupKey = partial.GroupKey
	}
	return out
}

// applyDuplicate writes a colliding row according to its strategy
func (c *Committer) applyDuplicate(ctx context.Context, r *run, item PlanItem) (CommitOutcome, string, error) {
	existing := item.Duplicate.Existing
	out := base(item)
	out.Result = OutcomeUpdated
	out.RecordID = existing.RecordID
	out.OrderID = existing.OrderID
	out.OrderNumber = existing.OrderNumber

	switch item.Resolution.Strategy {
	case StrategyUpdateMaterialsOnly:
		materials, ids := materialsForWrite(item)
		if err := c.store.ReplaceMaterials(ctx, existing.RecordID, materials, ids); err != nil {
			return out, StageMaterials, err
		}
		return out, "", nil

	case StrategyUpdateAll:
		w := c.recordWrite(r.plan, item, existing.OrderID)
		ref, err := c.store.UpsertRecord(ctx, w)
		if err != nil {
			return out, StageRecord, err
		}
		out.RecordID = ref.ID
		return out, "", nil

	case StrategyMerge:
		w := MergeRecord(existing, c.recordWrite(r.plan, item, existing.OrderID))
		ref, err := c.store.UpsertRecord(ctx, w)
		if err != nil {
			return out, StageRecord, err
		}
		out.RecordID = ref.ID
		return out, "", nil
	}
	return out, StageRecord, fmt.Errorf("strategy %q does not write", item.Resolution.Strategy)
}

// applyNew resolves the order of a non-duplicate row and writes it
func (c *Committer) applyNew(ctx context.Context, r *run, item PlanItem) (CommitOutcome, string, error) {
	rec := item.Record
	out := base(item)
	orderID := ""

	excluded := item.Decision != nil && ExcludesRecord(item.Decision)
	if !excluded {
		switch a := item.Assignment.(type) {
		case AssignExisting:
			orderID = a.OrderID
			out.OrderID = a.OrderID
			out.OrderNumber = a.OrderNumber

		case CreateNewOrder:
			key := groupKey(rec)
			order, created, err := c.orderForGroup(ctx, r, key, rec)
			if err != nil {
				return out, StageOrder, err
			}
			orderID = order.ID
			out.OrderID = order.ID
			out.OrderNumber = order.Number
			out.CreatedOrder = created
			out.GroupKey = key

			if err := c.store.UpsertOrderItem(ctx, orderItemWrite(order.ID, rec)); err != nil {
				return out, StageOrderItem, err
			}
			if rec.UnitPrice != nil && rec.RecipeID != "" {
				if err := c.store.RecordPrice(ctx, PriceWrite{
					OrderID:       order.ID,
					RecipeID:      rec.RecipeID,
					ClientID:      rec.ClientID,
					SiteID:        rec.SiteID,
					Amount:        *rec.UnitPrice,
					Source:        rec.PriceSource,
					QuoteDetailID: rec.QuoteDetailID,
				}); err != nil {
					return out, StagePrice, err
				}
			}

		default:
			return out, StageOrder, fmt.Errorf("no order assignment for record %s", rec.Number)
		}
	}

	ref, err := c.store.UpsertRecord(ctx, c.recordWrite(r.plan, item, orderID))
	if err != nil {
		return out, StageRecord, err
	}
	out.RecordID = ref.ID
	out.Result = OutcomeUpdated
	if ref.Created {
		out.Result = OutcomeCreated
	}
	return out, "", nil
}

// orderForGroup returns the order created in this run (or a resumed one) for the
// group, creating it when it does not exist yet
func (c *Committer) orderForGroup(ctx context.Context, r *run, key string, rec StagingRecord) (OrderRef, bool, error) {
	if order, ok := r.groups[key]; ok {
		return order, false, nil
	}

	today := c.now()
	if r.sequence == 0 {
		seq, err := c.store.NextOrderSequence(ctx, c.plantCode, today)
		if err != nil {
			return OrderRef{}, false, fmt.Errorf("next order sequence: %w", err)
		}
		r.sequence = seq
	}

	order, err := c.store.CreateOrder(ctx, OrderWrite{
		PlantID:      r.plan.PlantID,
		Number:       OrderNumber(c.plantCode, today, r.sequence),
		ClientID:     rec.ClientID,
		SiteID:       rec.SiteID,
		SiteName:     rec.SiteName,
		DeliveryDate: civilDate(rec.DeliveredAt),
	})
	if err != nil {
		return OrderRef{}, false, fmt.Errorf("create order: %w", err)
	}
	r.sequence++
	r.groups[key] = order
	return order, true, nil
}

func (c *Committer) transfer(ctx context.Context, plan CommitPlan, t pendingTransfer) error {
	lock, err := c.locker.Obtain(ctx, recordLockKey(plan.PlantID, t.decision.TargetNumber))
	if err != nil {
		return fmt.Errorf("lock target %s: %w", t.decision.TargetNumber, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}()

	applied, err := c.store.TransferMaterials(ctx, TransferWrite{
		PlantID:        plan.PlantID,
		SourceNumber:   t.item.Record.Number,
		TargetNumber:   t.decision.TargetNumber,
		TargetRecordID: t.decision.TargetRecordID,
		Materials:      t.decision.Materials,
		Reason:         firstNonEmpty(t.item.DecisionNotes, "reasignación por estatus "+t.item.Record.RawStatus),
	})
	if err != nil {
		return err
	}
	if !applied {
		c.logger.WithFields(logrus.Fields{
			"source": t.item.Record.Number,
			"target": t.decision.TargetNumber,
		}).Info("transfer already applied, skipping")
	}
	return nil
}

// recordWrite builds the delivery record write with the status decision applied
func (c *Committer) recordWrite(plan CommitPlan, item PlanItem, orderID string) RecordWrite {
	rec := item.Record
	materials, ids := materialsForWrite(item)
	w := RecordWrite{
		SessionID:   plan.SessionID,
		PlantID:     plan.PlantID,
		Number:      rec.Number,
		OrderID:     orderID,
		ClientID:    rec.ClientID,
		SiteID:      rec.SiteID,
		RecipeID:    rec.RecipeID,
		DeliveredAt: rec.DeliveredAt,
		Volume:      rec.Volume,
		Driver:      rec.Driver,
		Plate:       rec.Plate,
		Truck:       rec.Truck,
		RawStatus:   rec.RawStatus,
		Status:      rec.Status,
		Materials:   materials,
		MaterialIDs: ids,
		Notes:       item.DecisionNotes,
	}
	if item.Decision != nil {
		w.Action = item.Decision.Action()
	}
	switch d := item.Decision.(type) {
	case ReassignToExisting:
		w.Excluded = true
		w.Volume = decimal.Zero
		w.ReassignedTo = d.TargetNumber
	case MarkAsWaste:
		w.Excluded = true
		w.WasteReason = d.Reason
	}
	return w
}

// materialsForWrite returns the materials a row imports; excluded rows import none
func materialsForWrite(item PlanItem) (map[string]Measure, map[string]string) {
	if item.Decision != nil && ExcludesRecord(item.Decision) {
		return map[string]Measure{}, map[string]string{}
	}
	materials := make(map[string]Measure, len(item.Record.Materials))
	for code, m := range item.Record.Materials {
		if m.Theoretical.IsPositive() || m.FinalReal().IsPositive() {
			materials[code] = m
		}
	}
	return materials, item.Record.MaterialIDs
}

// MergeRecord folds an incoming write into the existing record: fields the existing
// record leaves empty are filled, any conflict keeps the existing value, and
// materials absent on the existing record are added.
func MergeRecord(existing ExistingSnapshot, incoming RecordWrite) RecordWrite {
	merged := incoming
	merged.OrderID = pick(existing.OrderID, incoming.OrderID)
	merged.ClientID = pick(existing.ClientID, incoming.ClientID)
	merged.SiteID = pick(existing.SiteID, incoming.SiteID)
	merged.RecipeID = pick(existing.RecipeID, incoming.RecipeID)
	merged.Driver = pick(existing.Driver, incoming.Driver)
	merged.Plate = pick(existing.Plate, incoming.Plate)
	merged.RawStatus = pick(existing.Status, incoming.RawStatus)
	if existing.Status != "" {
		merged.Status = NormalizeStatus(existing.Status)
	}
	if !existing.Volume.IsZero() {
		merged.Volume = existing.Volume
	}
	if !existing.DeliveredAt.IsZero() {
		merged.DeliveredAt = existing.DeliveredAt
	}

	materials := make(map[string]Measure, len(existing.Materials)+len(incoming.Materials))
	for code, m := range existing.Materials {
		materials[code] = m
	}
	for code, m := range incoming.Materials {
		if _, ok := materials[code]; !ok {
			materials[code] = m
		}
	}
	merged.Materials = materials
	return merged
}

// OrderNumber formats a generated order number: {plant}-{YYMMDD}-{seq:03d}
func OrderNumber(plantCode string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", plantCode, day.Format("060102"), seq)
}

func groupKey(rec StagingRecord) string {
	return rec.ClientID + "|" + rec.SiteID + "|" + civilDate(rec.DeliveredAt).Format("2006-01-02")
}

func recordLockKey(plantID, number string) string {
	return "arkik:remision:" + plantID + ":" + number
}

func orderItemWrite(orderID string, rec StagingRecord) OrderItemWrite {
	price := decimal.Zero
	if rec.UnitPrice != nil {
		price = *rec.UnitPrice
	}
	return OrderItemWrite{
		OrderID:       orderID,
		RecordNumber:  rec.Number,
		RecipeID:      rec.RecipeID,
		ProductType:   "CONCRETO",
		Volume:        rec.Volume,
		UnitPrice:     price,
		QuoteDetailID: rec.QuoteDetailID,
	}
}

func wasteRows(plan CommitPlan, item PlanItem, d MarkAsWaste) []WasteWrite {
	rec := item.Record
	rows := make([]WasteWrite, 0, len(rec.Materials))
	for _, code := range rec.MaterialCodes() {
		m := rec.Materials[code]
		actual := m.FinalReal()
		rows = append(rows, WasteWrite{
			SessionID:    plan.SessionID,
			PlantID:      plan.PlantID,
			Number:       rec.Number,
			MaterialCode: code,
			MaterialID:   rec.MaterialIDs[code],
			Theoretical:  m.Theoretical,
			Actual:       actual,
			Waste:        actual,
			Reason:       WasteCategory(d.Reason),
			Notes:        firstNonEmpty(item.DecisionNotes, d.Reason),
			DeliveredAt:  rec.DeliveredAt,
		})
	}
	return rows
}

func (c *Committer) logFailure(item PlanItem, stage string, err error) {
	c.logger.WithFields(logrus.Fields{
		"module":   "commit",
		"funcName": "Commit",
		"row":      item.Record.RowNumber,
		"number":   item.Record.Number,
		"stage":    stage,
	}).WithError(err).Error("row commit failed")
}

func base(item PlanItem) CommitOutcome {
	out := CommitOutcome{RowNumber: item.Record.RowNumber, Number: item.Record.Number}
	if item.Duplicate != nil {
		out.Strategy = string(item.Resolution.Strategy)
	}
	if item.Decision != nil {
		out.Action = item.Decision.Action()
	}
	return out
}

func skipped(item PlanItem, reason string) CommitOutcome {
	out := base(item)
	out.Result = OutcomeSkipped
	out.Reason = reason
	return out
}

func failed(item PlanItem, stage string, err error) CommitOutcome {
	out := base(item)
	out.Result = OutcomeFailed
	out.Stage = stage
	out.Error = err.Error()
	return out
}

func notProcessed(item PlanItem) CommitOutcome {
	out := base(item)
	out.Result = OutcomeNotProcessed
	return out
}

func pick(existing, incoming string) string {
	if existing != "" {
		return existing
	}
	return incoming
}
