package arkik

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Weights are the per-factor points used to score a candidate.
// Each factor counts at most once per candidate.
type Weights struct {
	Driver      float64 `json:"driver"`
	Vehicle     float64 `json:"vehicle"`
	SameDay     float64 `json:"same_day"`
	AdjacentDay float64 `json:"adjacent_day"`
	CleanSlot   float64 `json:"clean_slot"`
	Recipe      float64 `json:"recipe"`
}

// DefaultOrderWeights rank driver > vehicle > day > clean slot > recipe
func DefaultOrderWeights() Weights {
	return Weights{Driver: 50, Vehicle: 30, SameDay: 20, AdjacentDay: 10, CleanSlot: 15, Recipe: 5}
}

// DefaultTargetWeights make a clean slot dominate; a target that already
// carries materials would double count whatever is transferred into it.
func DefaultTargetWeights() Weights {
	return Weights{CleanSlot: 60, Driver: 25, Vehicle: 15, SameDay: 10, AdjacentDay: 5, Recipe: 3}
}

// ValidateOrderRanking checks the order-matching weights keep their ranking
func (w Weights) ValidateOrderRanking() error {
	ranked := []struct {
		name  string
		value float64
	}{
		{"driver", w.Driver}, {"vehicle", w.Vehicle}, {"same_day", w.SameDay},
		{"clean_slot", w.CleanSlot}, {"recipe", w.Recipe},
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].value >= ranked[i-1].value {
			return fmt.Errorf("weight %s (%v) must be below %s (%v)", ranked[i].name, ranked[i].value, ranked[i-1].name, ranked[i-1].value)
		}
	}
	if w.Recipe <= 0 {
		return fmt.Errorf("weight recipe must be positive")
	}
	if w.AdjacentDay < 0 || w.AdjacentDay >= w.SameDay {
		return fmt.Errorf("weight adjacent_day (%v) must be in [0, same_day)", w.AdjacentDay)
	}
	return nil
}

// Reason tags attached to scored candidates
const (
	ReasonSameDriver  = "Mismo chofer"
	ReasonSamePlate   = "Misma placa"
	ReasonSameDay     = "Misma fecha"
	ReasonAdjacentDay = "Fecha próxima"
	ReasonCleanSlot   = "Remisión sin materiales"
	ReasonRecipe      = "Receta compatible"
)

// OrderQuery selects open orders for a client and site in a date window
type OrderQuery struct {
	PlantID  string
	ClientID string
	SiteID   string
	From     time.Time
	To       time.Time
}

// OrderDelivery is a delivery already linked to an order
type OrderDelivery struct {
	Number        string    `json:"number"`
	Driver        string    `json:"driver,omitempty"`
	Plate         string    `json:"plate,omitempty"`
	RecipeID      string    `json:"recipe_id,omitempty"`
	DeliveredAt   time.Time `json:"delivered_at"`
	MaterialCount int       `json:"material_count"`
}

// OrderItemSummary is one line of an existing order
type OrderItemSummary struct {
	RecipeID    string          `json:"recipe_id,omitempty"`
	RecipeCode  string          `json:"recipe_code,omitempty"`
	ProductType string          `json:"product_type"`
	Volume      decimal.Decimal `json:"volume"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// OrderSummary is an existing order as returned by the order finder
type OrderSummary struct {
	ID           string             `json:"id"`
	Number       string             `json:"number"`
	Status       string             `json:"status"`
	ClientID     string             `json:"client_id"`
	SiteID       string             `json:"site_id"`
	SiteName     string             `json:"site_name"`
	DeliveryDate time.Time          `json:"delivery_date"`
	Items        []OrderItemSummary `json:"items"`
	Total        decimal.Decimal    `json:"total"`
	Deliveries   []OrderDelivery    `json:"deliveries"`
}

// OrderFinder queries candidate orders
type OrderFinder interface {
	FindOrders(ctx context.Context, q OrderQuery) ([]OrderSummary, error)
	// FindOrderByNumber returns nil when no order has that number
	FindOrderByNumber(ctx context.Context, plantID, number string) (*OrderSummary, error)
}

// CompatibleOrderCandidate is a scored existing order for an unmatched record.
// It is computed fresh each time matching runs.
type CompatibleOrderCandidate struct {
	OrderID        string             `json:"order_id"`
	OrderNumber    string             `json:"order_number"`
	OrderStatus    string             `json:"order_status"`
	SiteName       string             `json:"site_name"`
	DeliveryDate   time.Time          `json:"delivery_date"`
	Items          []OrderItemSummary `json:"items"`
	Total          decimal.Decimal    `json:"total"`
	Score          float64            `json:"compatibility_score"`
	Reasons        []string           `json:"reasons"`
	LatestDelivery time.Time          `json:"latest_delivery"`
	Preselected    bool               `json:"preselected"`
}

// RecordQuery selects persisted delivery records that could receive materials
type RecordQuery struct {
	PlantID       string
	ClientID      string
	SiteID        string
	From          time.Time
	To            time.Time
	ExcludeNumber string
}

// RecordSummary is a persisted delivery record
type RecordSummary struct {
	ID           string          `json:"id"`
	Number       string          `json:"number"`
	OrderID      string          `json:"order_id,omitempty"`
	Driver       string          `json:"driver,omitempty"`
	Plate        string          `json:"plate,omitempty"`
	RecipeID     string          `json:"recipe_id,omitempty"`
	RecipeCode   string          `json:"recipe_code,omitempty"`
	Status       RemisionStatus  `json:"status"`
	DeliveredAt  time.Time       `json:"delivered_at"`
	Volume       decimal.Decimal `json:"volume"`
	HasMaterials bool            `json:"has_materials"`
}

// RecordFinder queries persisted delivery records
type RecordFinder interface {
	FindRecords(ctx context.Context, q RecordQuery) ([]RecordSummary, error)
}

// ReassignmentTarget is a scored record that could receive transferred materials
type ReassignmentTarget struct {
	RecordID     string    `json:"record_id,omitempty"`
	Number       string    `json:"number"`
	OrderID      string    `json:"order_id,omitempty"`
	DeliveredAt  time.Time `json:"delivered_at"`
	HasMaterials bool      `json:"has_materials"`
	InBatch      bool      `json:"in_batch"`
	Score        float64   `json:"compatibility_score"`
	Reasons      []string  `json:"reasons"`
}

// MatchOptions tune a matching run
type MatchOptions struct {
	AdjacentDays        bool
	AllowAssigned       bool
	AutoAcceptThreshold float64
}

// Matcher scores existing orders and reassignment targets for staging records
type Matcher struct {
	orders        OrderFinder
	records       RecordFinder
	orderWeights  Weights
	targetWeights Weights
	logger        logrus.FieldLogger
}

// NewMatcher creates a new Matcher with the default weights
func NewMatcher(orders OrderFinder, records RecordFinder, logger logrus.FieldLogger) *Matcher {
	return &Matcher{
		orders:        orders,
		records:       records,
		orderWeights:  DefaultOrderWeights(),
		targetWeights: DefaultTargetWeights(),
		logger:        logger,
	}
}

// WithWeights replaces the scoring weights
func (m *Matcher) WithWeights(orderWeights, targetWeights Weights) *Matcher {
	m.orderWeights = orderWeights
	m.targetWeights = targetWeights
	return m
}

// ResolveOrderRef looks up the order a row names explicitly.
// Lookup failures are logged and read as "not found".
func (m *Matcher) ResolveOrderRef(ctx context.Context, rec StagingRecord) *OrderSummary {
	if rec.OrderRef == "" {
		return nil
	}
	order, err := m.orders.FindOrderByNumber(ctx, rec.PlantID, rec.OrderRef)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"module":   "matching",
			"funcName": "ResolveOrderRef",
			"number":   rec.Number,
			"orderRef": rec.OrderRef,
		}).WithError(err).Warn("order reference lookup failed")
		return nil
	}
	return order
}

// FindCompatibleOrders searches orders for the record's client and site around its
// delivery date and returns them best first. Records without client or site get none,
// and a failed search is logged and returns none, so the record falls through to a new order.
func (m *Matcher) FindCompatibleOrders(ctx context.Context, rec StagingRecord, opts MatchOptions) []CompatibleOrderCandidate {
	if rec.ClientID == "" || rec.SiteID == "" || rec.DeliveredAt.IsZero() {
		return nil
	}

	day := civilDate(rec.DeliveredAt)
	q := OrderQuery{
		PlantID:  rec.PlantID,
		ClientID: rec.ClientID,
		SiteID:   rec.SiteID,
		From:     day,
		To:       day.Add(24*time.Hour - time.Nanosecond),
	}
	if opts.AdjacentDays {
		q.From = day.AddDate(0, 0, -1)
		q.To = day.AddDate(0, 0, 2).Add(-time.Nanosecond)
	}

	orders, err := m.orders.FindOrders(ctx, q)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"module":   "matching",
			"funcName": "FindCompatibleOrders",
			"number":   rec.Number,
		}).WithError(err).Warn("order search failed, record will create a new order")
		return nil
	}

	candidates := make([]CompatibleOrderCandidate, 0, len(orders))
	for _, order := range orders {
		score, reasons := ScoreOrder(rec, order, m.orderWeights)
		candidates = append(candidates, CompatibleOrderCandidate{
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			OrderStatus:    order.Status,
			SiteName:       order.SiteName,
			DeliveryDate:   order.DeliveryDate,
			Items:          order.Items,
			Total:          order.Total,
			Score:          score,
			Reasons:        reasons,
			LatestDelivery: latestDelivery(order),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.LatestDelivery.Equal(b.LatestDelivery) {
			return a.LatestDelivery.After(b.LatestDelivery)
		}
		return compareNumbers(a.OrderNumber, b.OrderNumber) < 0
	})

	if len(candidates) == 1 && opts.AutoAcceptThreshold > 0 && candidates[0].Score >= opts.AutoAcceptThreshold {
		candidates[0].Preselected = true
	}
	return candidates
}

// ScoreOrder sums the weights of every factor the order shares with the record
func ScoreOrder(rec StagingRecord, order OrderSummary, w Weights) (float64, []string) {
	f := factors{}
	for _, d := range order.Deliveries {
		if sameText(rec.Driver, d.Driver) {
			f.driver = true
		}
		if samePlate(rec.Plate, d.Plate) {
			f.vehicle = true
		}
		if d.MaterialCount == 0 {
			f.cleanSlot = true
		}
		if rec.RecipeID != "" && d.RecipeID == rec.RecipeID {
			f.recipe = true
		}
	}
	for _, item := range order.Items {
		if rec.RecipeID != "" && item.RecipeID == rec.RecipeID {
			f.recipe = true
		}
		if rec.RecipeCode != "" && strings.EqualFold(item.RecipeCode, rec.RecipeCode) {
			f.recipe = true
		}
	}
	f.days = -1
	if !order.DeliveryDate.IsZero() && !rec.DeliveredAt.IsZero() {
		f.days = dayDistance(order.DeliveryDate, rec.DeliveredAt)
	}
	return f.score(w)
}

// ScoreTarget sums the weights of every factor the target shares with the record
func ScoreTarget(rec StagingRecord, target RecordSummary, w Weights) (float64, []string) {
	f := factors{
		driver:    sameText(rec.Driver, target.Driver),
		vehicle:   samePlate(rec.Plate, target.Plate),
		cleanSlot: !target.HasMaterials,
		recipe:    rec.RecipeID != "" && target.RecipeID == rec.RecipeID,
		days:      -1,
	}
	if !target.DeliveredAt.IsZero() && !rec.DeliveredAt.IsZero() {
		f.days = dayDistance(target.DeliveredAt, rec.DeliveredAt)
	}
	return f.score(w)
}

type factors struct {
	driver    bool
	vehicle   bool
	cleanSlot bool
	recipe    bool
	days      int // -1 when unknown
}

func (f factors) score(w Weights) (float64, []string) {
	score := 0.0
	reasons := []string{}
	if f.driver {
		score += w.Driver
		reasons = append(reasons, ReasonSameDriver)
	}
	if f.vehicle {
		score += w.Vehicle
		reasons = append(reasons, ReasonSamePlate)
	}
	switch f.days {
	case 0:
		score += w.SameDay
		reasons = append(reasons, ReasonSameDay)
	case 1:
		score += w.AdjacentDay
		reasons = append(reasons, ReasonAdjacentDay)
	}
	if f.cleanSlot {
		score += w.CleanSlot
		reasons = append(reasons, ReasonCleanSlot)
	}
	if f.recipe {
		score += w.Recipe
		reasons = append(reasons, ReasonRecipe)
	}
	return score, reasons
}

// targetWindowDays bounds how far apart a source and its reassignment target may be
const targetWindowDays = 2

// FindReassignmentTargets lists records that could receive the record's materials.
// Candidates come from the persisted records of the plant plus the finished records
// of the same batch; they must be finished, share client and site, and share the
// recipe when both have one.
func (m *Matcher) FindReassignmentTargets(ctx context.Context, rec StagingRecord, batch []StagingRecord, opts MatchOptions) []ReassignmentTarget {
	if rec.ClientID == "" || rec.SiteID == "" || rec.DeliveredAt.IsZero() {
		return nil
	}

	day := civilDate(rec.DeliveredAt)
	seen := make(map[string]bool)
	var targets []ReassignmentTarget

	consider := func(summary RecordSummary, inBatch bool) {
		if summary.Number == "" || summary.Number == rec.Number || seen[summary.Number] {
			return
		}
		if summary.Status != StatusTerminado {
			return
		}
		if summary.OrderID != "" && !opts.AllowAssigned && !inBatch {
			return
		}
		if rec.RecipeID != "" && summary.RecipeID != "" && rec.RecipeID != summary.RecipeID {
			return
		}
		if dayDistance(summary.DeliveredAt, rec.DeliveredAt) > targetWindowDays {
			return
		}
		seen[summary.Number] = true
		score, reasons := ScoreTarget(rec, summary, m.targetWeights)
		targets = append(targets, ReassignmentTarget{
			RecordID:     summary.ID,
			Number:       summary.Number,
			OrderID:      summary.OrderID,
			DeliveredAt:  summary.DeliveredAt,
			HasMaterials: summary.HasMaterials,
			InBatch:      inBatch,
			Score:        score,
			Reasons:      reasons,
		})
	}

	// 1. Records in the same batch
	for _, other := range batch {
		if other.Blocked() || other.ClientID != rec.ClientID || other.SiteID != rec.SiteID {
			continue
		}
		consider(RecordSummary{
			Number:       other.Number,
			Driver:       other.Driver,
			Plate:        other.Plate,
			RecipeID:     other.RecipeID,
			RecipeCode:   other.RecipeCode,
			Status:       other.Status,
			DeliveredAt:  other.DeliveredAt,
			Volume:       other.Volume,
			HasMaterials: other.HasMaterials(),
		}, true)
	}

	// 2. Persisted records
	if m.records != nil {
		persisted, err := m.records.FindRecords(ctx, RecordQuery{
			PlantID:       rec.PlantID,
			ClientID:      rec.ClientID,
			SiteID:        rec.SiteID,
			From:          day.AddDate(0, 0, -targetWindowDays),
			To:            day.AddDate(0, 0, targetWindowDays+1).Add(-time.Nanosecond),
			ExcludeNumber: rec.Number,
		})
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"module":   "matching",
				"funcName": "FindReassignmentTargets",
				"number":   rec.Number,
			}).WithError(err).Warn("target search failed, only batch records offered")
		}
		for _, summary := range persisted {
			consider(summary, false)
		}
	}

	sort.SliceStable(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.DeliveredAt.Equal(b.DeliveredAt) {
			return a.DeliveredAt.After(b.DeliveredAt)
		}
		return compareNumbers(a.Number, b.Number) < 0
	})
	return targets
}

func latestDelivery(order OrderSummary) time.Time {
	latest := order.DeliveryDate
	for _, d := range order.Deliveries {
		if d.DeliveredAt.After(latest) {
			latest = d.DeliveredAt
		}
	}
	return latest
}

func sameText(a, b string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	return na != "" && na == nb
}

func samePlate(a, b string) bool {
	clean := func(s string) string {
		return strings.ToUpper(nonAlnum.ReplaceAllString(s, ""))
	}
	ca, cb := clean(a), clean(b)
	return ca != "" && ca == cb
}
