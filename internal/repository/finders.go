package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/models"
)

// FindExisting loads the persisted slips of a plant with the given numbers
func (r *Repository) FindExisting(ctx context.Context, plantID string, numbers []string) (map[string]arkik.ExistingSnapshot, error) {
	out := make(map[string]arkik.ExistingSnapshot)
	if len(numbers) == 0 {
		return out, nil
	}
	db := r.db.WithContext(ctx)

	// 1. The slips and their materials
	var rems []models.Remision
	if err := db.Preload("Materials").
		Where("plant_id = ? AND remision_number IN ?", plantID, numbers).
		Find(&rems).Error; err != nil {
		return nil, fmt.Errorf("load remisiones: %w", err)
	}
	if len(rems) == 0 {
		return out, nil
	}

	// 2. Order numbers
	orderNumbers, err := r.orderNumbers(ctx, rems)
	if err != nil {
		return nil, err
	}

	// 3. Downstream effects that make overwriting risky
	var moves []models.RemisionReassignment
	if err := db.Select("source_number", "target_number").
		Where("plant_id = ? AND (source_number IN ? OR target_number IN ?)", plantID, numbers, numbers).
		Find(&moves).Error; err != nil {
		return nil, fmt.Errorf("load reassignments: %w", err)
	}
	reassigned := make(map[string]bool, len(moves)*2)
	for _, m := range moves {
		reassigned[m.SourceNumber] = true
		reassigned[m.TargetNumber] = true
	}

	var wasted []string
	if err := db.Model(&models.WasteMaterial{}).Distinct("remision_number").
		Where("plant_id = ? AND remision_number IN ?", plantID, numbers).
		Pluck("remision_number", &wasted).Error; err != nil {
		return nil, fmt.Errorf("load waste: %w", err)
	}
	hasWaste := make(map[string]bool, len(wasted))
	for _, n := range wasted {
		hasWaste[n] = true
	}

	for _, rem := range rems {
		snap := arkik.ExistingSnapshot{
			RecordID:           rem.ID,
			Number:             rem.RemisionNumber,
			OrderID:            deref(rem.OrderID),
			OrderNumber:        orderNumbers[deref(rem.OrderID)],
			ClientID:           rem.ClientID,
			SiteID:             rem.SiteID,
			RecipeID:           rem.RecipeID,
			Volume:             rem.Volume,
			DeliveredAt:        rem.DeliveredAt,
			Driver:             rem.Driver,
			Plate:              rem.Plate,
			Status:             rem.RawStatus,
			Materials:          make(map[string]arkik.Measure, len(rem.Materials)),
			HasStatusDecisions: rem.Action != "",
			HasReassignments:   reassigned[rem.RemisionNumber],
			HasWaste:           hasWaste[rem.RemisionNumber],
		}
		for _, m := range rem.Materials {
			measure := measureOf(m)
			snap.Materials[m.MaterialCode] = measure
			if !measure.IsZero() {
				snap.HasMaterials = true
			}
		}
		out[rem.RemisionNumber] = snap
	}
	return out, nil
}

func (r *Repository) orderNumbers(ctx context.Context, rems []models.Remision) (map[string]string, error) {
	ids := make([]string, 0, len(rems))
	for _, rem := range rems {
		if rem.OrderID != nil {
			ids = append(ids, *rem.OrderID)
		}
	}
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var orders []models.Order
	if err := r.db.WithContext(ctx).Unscoped().Select("id", "order_number").
		Where("id IN ?", ids).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	for _, o := range orders {
		out[o.ID] = o.OrderNumber
	}
	return out, nil
}

// FindOrders returns the open orders of a client and site delivered within the window
func (r *Repository) FindOrders(ctx context.Context, q arkik.OrderQuery) ([]arkik.OrderSummary, error) {
	tx := r.db.WithContext(ctx).Preload("Items").
		Where("plant_id = ? AND client_id = ?", q.PlantID, q.ClientID).
		Where("delivery_date BETWEEN ? AND ?", q.From, q.To).
		Where("status NOT IN ?", []models.OrderStatus{models.OrderStatusCompleted, models.OrderStatusCancelled})
	if q.SiteID != "" {
		tx = tx.Where("construction_site_id = ?", q.SiteID)
	}

	var orders []models.Order
	if err := tx.Order("delivery_date DESC, order_number").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	return r.summarizeOrders(ctx, orders)
}

// FindOrderByNumber returns the order with the given number, or nil
func (r *Repository) FindOrderByNumber(ctx context.Context, plantID, number string) (*arkik.OrderSummary, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).Preload("Items").
		Where("plant_id = ? AND order_number = ?", plantID, number).
		Limit(1).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("find order %s: %w", number, err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	summaries, err := r.summarizeOrders(ctx, orders)
	if err != nil {
		return nil, err
	}
	return &summaries[0], nil
}

// summarizeOrders attaches recipe codes and the slips already delivered on each order
func (r *Repository) summarizeOrders(ctx context.Context, orders []models.Order) ([]arkik.OrderSummary, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	orderIDs := make([]string, 0, len(orders))
	recipeIDs := make([]string, 0)
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
		for _, item := range o.Items {
			if item.RecipeID != "" {
				recipeIDs = append(recipeIDs, item.RecipeID)
			}
		}
	}

	var deliveries []models.Remision
	if err := r.db.WithContext(ctx).Preload("Materials").
		Where("order_id IN ?", orderIDs).
		Order("delivered_at").Find(&deliveries).Error; err != nil {
		return nil, fmt.Errorf("load order deliveries: %w", err)
	}
	byOrder := make(map[string][]arkik.OrderDelivery, len(orders))
	for _, d := range deliveries {
		if d.RecipeID != "" {
			recipeIDs = append(recipeIDs, d.RecipeID)
		}
		byOrder[deref(d.OrderID)] = append(byOrder[deref(d.OrderID)], arkik.OrderDelivery{
			Number:        d.RemisionNumber,
			Driver:        d.Driver,
			Plate:         d.Plate,
			RecipeID:      d.RecipeID,
			DeliveredAt:   d.DeliveredAt,
			MaterialCount: len(d.Materials),
		})
	}

	codes, err := r.recipeCodes(ctx, recipeIDs)
	if err != nil {
		return nil, err
	}

	out := make([]arkik.OrderSummary, 0, len(orders))
	for _, o := range orders {
		s := arkik.OrderSummary{
			ID:           o.ID,
			Number:       o.OrderNumber,
			Status:       string(o.Status),
			ClientID:     o.ClientID,
			SiteID:       o.ConstructionSiteID,
			SiteName:     o.ConstructionSite,
			DeliveryDate: o.DeliveryDate,
			Total:        o.Total,
			Deliveries:   byOrder[o.ID],
		}
		items := append([]models.OrderItem(nil), o.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].RecordNumber < items[j].RecordNumber })
		for _, item := range items {
			s.Items = append(s.Items, arkik.OrderItemSummary{
				RecipeID:    item.RecipeID,
				RecipeCode:  codes[item.RecipeID],
				ProductType: item.ProductType,
				Volume:      item.Volume,
				UnitPrice:   item.UnitPrice,
			})
		}
		out = append(out, s)
	}
	return out, nil
}

// FindRecords returns persisted, non-excluded slips of a client and site within the window
func (r *Repository) FindRecords(ctx context.Context, q arkik.RecordQuery) ([]arkik.RecordSummary, error) {
	tx := r.db.WithContext(ctx).Preload("Materials").
		Where("plant_id = ? AND client_id = ? AND excluded = ?", q.PlantID, q.ClientID, false).
		Where("delivered_at BETWEEN ? AND ?", q.From, q.To)
	if q.SiteID != "" {
		tx = tx.Where("site_id = ?", q.SiteID)
	}
	if q.ExcludeNumber != "" {
		tx = tx.Where("remision_number <> ?", q.ExcludeNumber)
	}

	var rems []models.Remision
	if err := tx.Order("delivered_at DESC").Find(&rems).Error; err != nil {
		return nil, fmt.Errorf("find remisiones: %w", err)
	}

	recipeIDs := make([]string, 0, len(rems))
	for _, rem := range rems {
		if rem.RecipeID != "" {
			recipeIDs = append(recipeIDs, rem.RecipeID)
		}
	}
	codes, err := r.recipeCodes(ctx, recipeIDs)
	if err != nil {
		return nil, err
	}

	out := make([]arkik.RecordSummary, 0, len(rems))
	for _, rem := range rems {
		s := arkik.RecordSummary{
			ID:          rem.ID,
			Number:      rem.RemisionNumber,
			OrderID:     deref(rem.OrderID),
			Driver:      rem.Driver,
			Plate:       rem.Plate,
			RecipeID:    rem.RecipeID,
			RecipeCode:  codes[rem.RecipeID],
			Status:      arkik.RemisionStatus(rem.Status),
			DeliveredAt: rem.DeliveredAt,
			Volume:      rem.Volume,
		}
		for _, m := range rem.Materials {
			if !measureOf(m).IsZero() {
				s.HasMaterials = true
				break
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Repository) recipeCodes(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recipes []models.Recipe
	if err := r.db.WithContext(ctx).Unscoped().Select("id", "recipe_code").
		Where("id IN ?", ids).Find(&recipes).Error; err != nil {
		return nil, fmt.Errorf("load recipe codes: %w", err)
	}
	for _, rc := range recipes {
		out[rc.ID] = rc.RecipeCode
	}
	return out, nil
}
