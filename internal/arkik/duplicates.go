package arkik

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RiskLevel classifies how dangerous it is to overwrite an existing record
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DuplicateStrategy is how a colliding row is applied to the existing record
type DuplicateStrategy string

const (
	StrategySkip                DuplicateStrategy = "skip"
	StrategyUpdateMaterialsOnly DuplicateStrategy = "update_materials_only"
	StrategyUpdateAll           DuplicateStrategy = "update_all"
	StrategyMerge               DuplicateStrategy = "merge"
	StrategySkipNewOnly         DuplicateStrategy = "skip_new_only"
)

// IsValid reports whether the strategy is one of the known values
func (s DuplicateStrategy) IsValid() bool {
	switch s {
	case StrategySkip, StrategyUpdateMaterialsOnly, StrategyUpdateAll, StrategyMerge, StrategySkipNewOnly:
		return true
	}
	return false
}

// Writes reports whether applying the strategy touches the existing record
func (s DuplicateStrategy) Writes() bool {
	return s == StrategyUpdateMaterialsOnly || s == StrategyUpdateAll || s == StrategyMerge
}

// volumeTolerance is the volume difference below which two slips count as equal
var volumeTolerance = decimal.NewFromFloat(0.01)

// ExistingSnapshot is what the system already holds for a record number
type ExistingSnapshot struct {
	RecordID           string             `json:"record_id"`
	Number             string             `json:"number"`
	OrderID            string             `json:"order_id,omitempty"`
	OrderNumber        string             `json:"order_number,omitempty"`
	ClientID           string             `json:"client_id,omitempty"`
	SiteID             string             `json:"site_id,omitempty"`
	RecipeID           string             `json:"recipe_id,omitempty"`
	Volume             decimal.Decimal    `json:"volume"`
	DeliveredAt        time.Time          `json:"delivered_at"`
	Driver             string             `json:"driver,omitempty"`
	Plate              string             `json:"plate,omitempty"`
	Status             string             `json:"status,omitempty"`
	Materials          map[string]Measure `json:"materials,omitempty"`
	HasMaterials       bool               `json:"has_materials"`
	HasStatusDecisions bool               `json:"has_status_decisions"`
	HasReassignments   bool               `json:"has_reassignments"`
	HasWaste           bool               `json:"has_waste"`
}

// NewSnapshot is the incoming side of a collision
type NewSnapshot struct {
	Volume      decimal.Decimal            `json:"volume"`
	DeliveredAt time.Time                  `json:"delivered_at"`
	Theoretical map[string]decimal.Decimal `json:"theoretical"`
	Real        map[string]decimal.Decimal `json:"real"`
}

// Differences flags what changed between the existing and incoming slip
type Differences struct {
	VolumeChanged    bool `json:"volume_changed"`
	DateChanged      bool `json:"date_changed"`
	MaterialsChanged bool `json:"materials_changed"`
	MaterialsMissing bool `json:"materials_missing"`
}

// DuplicateInfo describes one collision with a persisted record
type DuplicateInfo struct {
	Number      string            `json:"number"`
	Existing    ExistingSnapshot  `json:"existing"`
	New         NewSnapshot       `json:"new"`
	Differences Differences       `json:"differences"`
	Risk        RiskLevel         `json:"risk_level"`
	RiskScore   int               `json:"risk_score"`
	Notes       []string          `json:"notes"`
	Suggested   DuplicateStrategy `json:"suggested_strategy"`
}

// ExistingFinder loads persisted records by number within a plant
type ExistingFinder interface {
	FindExisting(ctx context.Context, plantID string, numbers []string) (map[string]ExistingSnapshot, error)
}

// DuplicateDetector finds rows that already exist and classifies the overwrite risk
type DuplicateDetector struct {
	finder ExistingFinder
	logger logrus.FieldLogger
}

// NewDuplicateDetector creates a new DuplicateDetector
func NewDuplicateDetector(finder ExistingFinder, logger logrus.FieldLogger) *DuplicateDetector {
	return &DuplicateDetector{finder: finder, logger: logger}
}

// Detect returns one DuplicateInfo per record number that already exists.
// A failed lookup is logged and treated as "no duplicates" so rows are re-imported rather than lost.
func (d *DuplicateDetector) Detect(ctx context.Context, plantID string, records []StagingRecord) map[string]DuplicateInfo {
	numbers := make([]string, 0, len(records))
	byNumber := make(map[string]StagingRecord, len(records))
	for _, rec := range records {
		if rec.Number == "" || rec.RepeatOf > 0 {
			continue
		}
		if _, seen := byNumber[rec.Number]; !seen {
			numbers = append(numbers, rec.Number)
		}
		byNumber[rec.Number] = rec
	}

	result := make(map[string]DuplicateInfo)
	if len(numbers) == 0 {
		return result
	}
	sort.Strings(numbers)

	existing, err := d.finder.FindExisting(ctx, plantID, numbers)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"module":   "duplicates",
			"funcName": "Detect",
			"plant":    plantID,
			"numbers":  len(numbers),
		}).WithError(err).Warn("duplicate lookup failed, treating batch as new records")
		return result
	}

	for number, snap := range existing {
		rec, ok := byNumber[number]
		if !ok {
			continue
		}
		result[number] = ClassifyDuplicate(snap, rec)
	}
	return result
}

// ClassifyDuplicate compares an existing record with the incoming one.
// Risk is high when the existing record has status decisions or reassignments,
// medium when it has waste or the volume changed, low otherwise. A record without
// materials gets update_materials_only suggested whatever its risk.
func ClassifyDuplicate(existing ExistingSnapshot, rec StagingRecord) DuplicateInfo {
	info := DuplicateInfo{
		Number:   rec.Number,
		Existing: existing,
		New: NewSnapshot{
			Volume:      rec.Volume,
			DeliveredAt: rec.DeliveredAt,
			Theoretical: rec.TheoreticalMap(),
			Real:        rec.RealMap(),
		},
	}

	newHasMaterials := rec.HasMaterials()
	info.Differences = Differences{
		VolumeChanged:    existing.Volume.Sub(rec.Volume).Abs().GreaterThan(volumeTolerance),
		DateChanged:      !existing.DeliveredAt.IsZero() && !rec.DeliveredAt.IsZero() && dayDistance(existing.DeliveredAt, rec.DeliveredAt) != 0,
		MaterialsMissing: !existing.HasMaterials && newHasMaterials,
		MaterialsChanged: existing.HasMaterials && newHasMaterials && materialsDiffer(existing.Materials, rec.Materials),
	}

	// 1. Score every risk factor for the audit trail
	var notes []string
	score := 0
	if existing.HasStatusDecisions {
		score += 3
		notes = append(notes, "El registro existente tiene decisiones de estatus")
	}
	if existing.HasReassignments {
		score += 3
		notes = append(notes, "El registro existente tiene reasignaciones de materiales")
	}
	if existing.HasWaste {
		score += 2
		notes = append(notes, "El registro existente tiene materiales marcados como desperdicio")
	}
	if info.Differences.VolumeChanged {
		score += 2
		notes = append(notes, fmt.Sprintf("Volumen cambió: %s → %s", existing.Volume.String(), rec.Volume.String()))
	}
	if info.Differences.DateChanged {
		score += 1
		notes = append(notes, "Fecha cambió")
	}
	if info.Differences.MaterialsMissing {
		score += 1
		notes = append(notes, "El registro existente no tiene materiales")
	}
	if info.Differences.MaterialsChanged {
		notes = append(notes, "Las cantidades de materiales difieren")
	}

	// 2. Risk level
	switch {
	case existing.HasStatusDecisions || existing.HasReassignments:
		info.Risk = RiskHigh
	case existing.HasWaste || info.Differences.VolumeChanged:
		info.Risk = RiskMedium
	default:
		info.Risk = RiskLow
	}

	// 3. Suggestion
	info.Suggested = StrategySkip
	if info.Differences.MaterialsMissing {
		info.Suggested = StrategyUpdateMaterialsOnly
		notes = append(notes, "Sugerencia: actualizar solo materiales")
	} else if len(notes) == 0 {
		notes = append(notes, "Sin diferencias relevantes")
	}

	info.RiskScore = score
	info.Notes = notes
	return info
}

func materialsDiffer(existing, incoming map[string]Measure) bool {
	if len(existing) != len(incoming) {
		return true
	}
	for code, m := range incoming {
		e, ok := existing[code]
		if !ok {
			return true
		}
		if !e.Theoretical.Equal(m.Theoretical) || !e.FinalReal().Equal(m.FinalReal()) {
			return true
		}
	}
	return false
}
