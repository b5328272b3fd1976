package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/models"
)

// ErrTargetNotFound is returned when a transfer names a record that does not exist
var ErrTargetNotFound = errors.New("transfer target record not found")

// Repository is the gorm-backed persistence of the import engine
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// NextOrderSequence returns the sequence after the highest order number generated for the day
func (r *Repository) NextOrderSequence(ctx context.Context, plantCode string, day time.Time) (int, error) {
	prefix := fmt.Sprintf("%s-%s-", plantCode, day.Format("060102"))

	var numbers []string
	if err := r.db.WithContext(ctx).Unscoped().Model(&models.Order{}).
		Where("order_number LIKE ?", prefix+"%").
		Pluck("order_number", &numbers).Error; err != nil {
		return 0, fmt.Errorf("load order numbers: %w", err)
	}

	last := 0
	for _, n := range numbers {
		if seq, err := strconv.Atoi(strings.TrimPrefix(n, prefix)); err == nil && seq > last {
			last = seq
		}
	}
	return last + 1, nil
}

// CreateOrder creates the order, or returns the existing one with the same number
func (r *Repository) CreateOrder(ctx context.Context, w arkik.OrderWrite) (arkik.OrderRef, error) {
	order := models.Order{
		PlantID:            w.PlantID,
		OrderNumber:        w.Number,
		ClientID:           w.ClientID,
		ConstructionSiteID: w.SiteID,
		ConstructionSite:   w.SiteName,
		DeliveryDate:       w.DeliveryDate,
		Status:             models.OrderStatusCreated,
		AutoGenerated:      true,
	}
	if err := r.db.WithContext(ctx).
		Where("order_number = ?", w.Number).
		Attrs(order).
		FirstOrCreate(&order).Error; err != nil {
		return arkik.OrderRef{}, fmt.Errorf("create order %s: %w", w.Number, err)
	}
	return arkik.OrderRef{ID: order.ID, Number: order.OrderNumber}, nil
}

// UpsertOrderItem writes the order line of one delivery slip and refreshes the order total
func (r *Repository) UpsertOrderItem(ctx context.Context, w arkik.OrderItemWrite) error {
	item := models.OrderItem{
		OrderID:       w.OrderID,
		RecordNumber:  w.RecordNumber,
		RecipeID:      w.RecipeID,
		ProductType:   w.ProductType,
		Volume:        w.Volume,
		UnitPrice:     w.UnitPrice,
		QuoteDetailID: w.QuoteDetailID,
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "record_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"recipe_id", "product_type", "volume", "unit_price", "total_price", "quote_detail_id", "updated_at"}),
		}).Create(&item).Error; err != nil {
			return fmt.Errorf("upsert order item: %w", err)
		}
		if err := tx.Exec(
			"UPDATE orders SET total = (SELECT COALESCE(SUM(total_price), 0) FROM order_items WHERE order_id = ?), updated_at = ? WHERE id = ?",
			w.OrderID, time.Now().UTC(), w.OrderID,
		).Error; err != nil {
			return fmt.Errorf("refresh order total: %w", err)
		}
		return nil
	})
}

// RecordPrice keeps the price snapshot of a recipe on an order
func (r *Repository) RecordPrice(ctx context.Context, w arkik.PriceWrite) error {
	price := models.OrderPrice{
		OrderID:       w.OrderID,
		RecipeID:      w.RecipeID,
		ClientID:      w.ClientID,
		SiteID:        w.SiteID,
		Amount:        w.Amount,
		Source:        string(w.Source),
		QuoteDetailID: w.QuoteDetailID,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "recipe_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_id", "site_id", "amount", "source", "quote_detail_id", "updated_at"}),
	}).Create(&price).Error; err != nil {
		return fmt.Errorf("record price: %w", err)
	}
	return nil
}

// UpsertRecord writes the delivery slip keyed by plant and number, replacing its materials
func (r *Repository) UpsertRecord(ctx context.Context, w arkik.RecordWrite) (arkik.RecordRef, error) {
	var ref arkik.RecordRef
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Remision
		if err := tx.Unscoped().
			Where("plant_id = ? AND remision_number = ?", w.PlantID, w.Number).
			Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("load remision: %w", err)
		}

		rem := remisionFromWrite(w)
		if existing.ID == "" {
			if err := tx.Omit(clause.Associations).Create(&rem).Error; err != nil {
				return fmt.Errorf("create remision: %w", err)
			}
			ref = arkik.RecordRef{ID: rem.ID, Created: true}
		} else {
			rem.ID = existing.ID
			rem.CreatedAt = existing.CreatedAt
			// Select("*") writes zero values too, which also clears a soft delete
			if err := tx.Unscoped().Model(&rem).
				Select("*").Omit("id", "created_at", clause.Associations).
				Updates(&rem).Error; err != nil {
				return fmt.Errorf("update remision: %w", err)
			}
			ref = arkik.RecordRef{ID: existing.ID}
		}
		return replaceMaterials(tx, ref.ID, w.Materials, w.MaterialIDs)
	})
	return ref, err
}

// ReplaceMaterials overwrites the material rows of a persisted slip
func (r *Repository) ReplaceMaterials(ctx context.Context, recordID string, materials map[string]arkik.Measure, materialIDs map[string]string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Remision{}).Where("id = ?", recordID).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return fmt.Errorf("touch remision: %w", err)
		}
		return replaceMaterials(tx, recordID, materials, materialIDs)
	})
}

func replaceMaterials(tx *gorm.DB, recordID string, materials map[string]arkik.Measure, materialIDs map[string]string) error {
	if err := tx.Where("remision_id = ?", recordID).Delete(&models.RemisionMaterial{}).Error; err != nil {
		return fmt.Errorf("clear materials: %w", err)
	}
	rows := materialRows(recordID, materials, materialIDs)
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert materials: %w", err)
	}
	return nil
}

// RecordWaste writes one waste row per material
func (r *Repository) RecordWaste(ctx context.Context, rows []arkik.WasteWrite) error {
	if len(rows) == 0 {
		return nil
	}
	waste := make([]models.WasteMaterial, 0, len(rows))
	for _, w := range rows {
		waste = append(waste, models.WasteMaterial{
			PlantID:           w.PlantID,
			RemisionNumber:    w.Number,
			MaterialCode:      w.MaterialCode,
			MaterialID:        optional(w.MaterialID),
			TheoreticalAmount: w.Theoretical,
			ActualAmount:      w.Actual,
			WasteAmount:       w.Waste,
			WasteReason:       string(w.Reason),
			Notes:             w.Notes,
			FechaEntrega:      w.DeliveredAt,
			ImportSessionID:   w.SessionID,
		})
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "plant_id"}, {Name: "remision_number"}, {Name: "material_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"material_id", "theoretical_amount", "actual_amount", "waste_amount",
			"waste_reason", "notes", "fecha_entrega", "import_session_id", "updated_at",
		}),
	}).Create(&waste).Error; err != nil {
		return fmt.Errorf("record waste: %w", err)
	}
	return nil
}

// TransferMaterials adds the transferred quantities to the target's real consumption.
// The audit row is written first; when it already exists nothing else happens.
func (r *Repository) TransferMaterials(ctx context.Context, w arkik.TransferWrite) (bool, error) {
	payload, err := json.Marshal(w.Materials)
	if err != nil {
		return false, fmt.Errorf("encode transferred materials: %w", err)
	}

	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targetID := w.TargetRecordID
		if targetID == "" {
			var target models.Remision
			if err := tx.Where("plant_id = ? AND remision_number = ?", w.PlantID, w.TargetNumber).
				Limit(1).Find(&target).Error; err != nil {
				return fmt.Errorf("load target: %w", err)
			}
			if target.ID == "" {
				return fmt.Errorf("%w: %s", ErrTargetNotFound, w.TargetNumber)
			}
			targetID = target.ID
		}

		audit := models.RemisionReassignment{
			PlantID:          w.PlantID,
			SourceNumber:     w.SourceNumber,
			TargetNumber:     w.TargetNumber,
			TargetRemisionID: targetID,
			Materials:        payload,
			Reason:           w.Reason,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plant_id"}, {Name: "source_number"}, {Name: "target_number"}},
			DoNothing: true,
		}).Create(&audit)
		if res.Error != nil {
			return fmt.Errorf("record reassignment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		codes := make([]string, 0, len(w.Materials))
		for code := range w.Materials {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			var m models.RemisionMaterial
			if err := tx.Where("remision_id = ? AND material_code = ?", targetID, code).
				Limit(1).Find(&m).Error; err != nil {
				return fmt.Errorf("load target material %s: %w", code, err)
			}
			if m.ID == "" {
				m = models.RemisionMaterial{RemisionID: targetID, MaterialCode: code, Real: w.Materials[code]}
				if err := tx.Create(&m).Error; err != nil {
					return fmt.Errorf("add target material %s: %w", code, err)
				}
				continue
			}
			m.Real = m.Real.Add(w.Materials[code])
			if err := tx.Save(&m).Error; err != nil {
				return fmt.Errorf("update target material %s: %w", code, err)
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// SaveOutcomes stores the audit trail of a commit run
func (r *Repository) SaveOutcomes(ctx context.Context, sessionID string, outcomes []arkik.CommitOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	rows := make([]models.ImportOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		detail, err := outcomeDetail(o)
		if err != nil {
			return err
		}
		rows = append(rows, models.ImportOutcome{
			SessionID:   sessionID,
			RowNumber:   o.RowNumber,
			Number:      o.Number,
			Result:      string(o.Result),
			RecordID:    o.RecordID,
			OrderID:     o.OrderID,
			OrderNumber: o.OrderNumber,
			Stage:       o.Stage,
			Error:       o.Error,
			Detail:      detail,
		})
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "row_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"number", "result", "record_id", "order_id", "order_number", "stage", "error", "detail", "updated_at",
		}),
	}).CreateInBatches(&rows, 200).Error; err != nil {
		return fmt.Errorf("save outcomes: %w", err)
	}
	return nil
}

// outcomeDetail keeps what the columns do not, including the order group of created orders
func outcomeDetail(o arkik.CommitOutcome) ([]byte, error) {
	detail := map[string]any{
		"strategy":      o.Strategy,
		"action":        o.Action,
		"reason":        o.Reason,
		"created_order": o.CreatedOrder,
		"group_key":     o.GroupKey,
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode outcome detail: %w", err)
	}
	return raw, nil
}

func remisionFromWrite(w arkik.RecordWrite) models.Remision {
	return models.Remision{
		PlantID:         w.PlantID,
		RemisionNumber:  w.Number,
		OrderID:         optional(w.OrderID),
		ClientID:        w.ClientID,
		SiteID:          w.SiteID,
		RecipeID:        w.RecipeID,
		DeliveredAt:     w.DeliveredAt,
		Volume:          w.Volume,
		Driver:          w.Driver,
		Plate:           w.Plate,
		Truck:           w.Truck,
		RawStatus:       w.RawStatus,
		Status:          string(w.Status),
		Excluded:        w.Excluded,
		Action:          string(w.Action),
		WasteReason:     w.WasteReason,
		ReassignedTo:    w.ReassignedTo,
		Notes:           w.Notes,
		ImportSessionID: w.SessionID,
	}
}

func materialRows(recordID string, materials map[string]arkik.Measure, materialIDs map[string]string) []models.RemisionMaterial {
	codes := make([]string, 0, len(materials))
	for code := range materials {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	rows := make([]models.RemisionMaterial, 0, len(codes))
	for _, code := range codes {
		m := materials[code]
		rows = append(rows, models.RemisionMaterial{
			RemisionID:   recordID,
			MaterialCode: code,
			MaterialID:   optional(materialIDs[code]),
			Theoretical:  m.Theoretical,
			Real:         m.Real,
			Rework:       m.Rework,
			Manual:       m.Manual,
		})
	}
	return rows
}

func measureOf(m models.RemisionMaterial) arkik.Measure {
	return arkik.Measure{Theoretical: m.Theoretical, Real: m.Real, Rework: m.Rework, Manual: m.Manual}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
