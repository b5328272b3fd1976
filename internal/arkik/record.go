package arkik

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Measure is one material's consumption on a delivery slip.
// Arkik reports four columns per material; the billable real quantity is Real+Rework+Manual.
type Measure struct {
	Theoretical decimal.Decimal `json:"theoretical"`
	Real        decimal.Decimal `json:"real"`
	Rework      decimal.Decimal `json:"rework"`
	Manual      decimal.Decimal `json:"manual"`
}

// FinalReal returns the real quantity including rework and manual adjustments
func (m Measure) FinalReal() decimal.Decimal {
	return m.Real.Add(m.Rework).Add(m.Manual)
}

// IsZero reports whether the material carries no quantity at all
func (m Measure) IsZero() bool {
	return m.Theoretical.IsZero() && m.Real.IsZero() && m.Rework.IsZero() && m.Manual.IsZero()
}

// Variance returns real-minus-theoretical and the same as a percentage of theoretical
func (m Measure) Variance() (decimal.Decimal, decimal.Decimal) {
	abs := m.FinalReal().Sub(m.Theoretical)
	if m.Theoretical.IsZero() {
		return abs, decimal.Zero
	}
	return abs, abs.Div(m.Theoretical).Mul(decimal.NewFromInt(100)).Round(2)
}

// RawRow is one row of an Arkik export as read from the file, before validation
type RawRow struct {
	RowNumber          int
	Number             string
	PlantID            string
	OrderRef           string
	ClientCode         string
	ClientName         string
	RFC                string
	SiteName           string
	DeliveryPoint      string
	Date               time.Time // zero when the cell was empty or unreadable
	LoadTime           time.Time // only the clock part is used
	RecipeCode         string    // technical product code
	CommercialCode     string
	ProductDescription string // Arkik long code
	Volume             string
	Driver             string
	Plate              string
	Truck              string
	Status             string
	Pumpable           string
	Elements           string
	InternalComments   string
	ExternalComments   string
	Materials          map[string]Measure
}

// StagingRecord is one delivery slip under import.
// It is owned by the import session and discarded after commit or abandonment.
type StagingRecord struct {
	RowNumber int    `json:"row_number"`
	Number    string `json:"number"`
	PlantID   string `json:"plant_id"`
	OrderRef  string `json:"order_ref,omitempty"`

	ClientCode string `json:"client_code,omitempty"`
	ClientName string `json:"client_name"`
	ClientID   string `json:"client_id,omitempty"`
	SiteName   string `json:"site_name"`
	SiteID     string `json:"site_id,omitempty"`

	DeliveredAt time.Time `json:"delivered_at"`

	RecipeCode         string           `json:"recipe_code,omitempty"`
	ProductDescription string           `json:"product_description,omitempty"`
	RecipeID           string           `json:"recipe_id,omitempty"`
	UnitPrice          *decimal.Decimal `json:"unit_price,omitempty"`
	PriceSource        PriceSource      `json:"price_source,omitempty"`
	QuoteDetailID      string           `json:"quote_detail_id,omitempty"`

	Volume    decimal.Decimal `json:"volume"`
	Driver    string          `json:"driver,omitempty"`
	Plate     string          `json:"plate,omitempty"`
	Truck     string          `json:"truck,omitempty"`
	RawStatus string          `json:"raw_status"`
	Status    RemisionStatus  `json:"status"`

	Materials   map[string]Measure `json:"materials,omitempty"`
	MaterialIDs map[string]string  `json:"material_ids,omitempty"`

	Issues []ValidationIssue `json:"issues,omitempty"`

	// RepeatOf is the row number of an earlier row in the same file with the same number
	RepeatOf int    `json:"repeat_of,omitempty"`
	OrderID  string `json:"order_id,omitempty"`

	Pumpable         bool   `json:"pumpable,omitempty"`
	Elements         string `json:"elements,omitempty"`
	InternalComments string `json:"internal_comments,omitempty"`
	ExternalComments string `json:"external_comments,omitempty"`
}

// ValidationStatus derives the record's review status from its issues
func (r StagingRecord) ValidationStatus() ValidationStatus {
	if len(r.Issues) == 0 {
		return ValidationValid
	}
	for _, issue := range r.Issues {
		if !issue.Recoverable {
			return ValidationError
		}
	}
	return ValidationWarning
}

// Blocked reports whether the record cannot be committed until reference data is fixed
func (r StagingRecord) Blocked() bool {
	if r.RepeatOf > 0 {
		return true
	}
	for _, issue := range r.Issues {
		if issue.Kind.Blocking() {
			return true
		}
	}
	return false
}

// HasIssue reports whether an issue of the given kind is attached
func (r StagingRecord) HasIssue(kind IssueKind) bool {
	for _, issue := range r.Issues {
		if issue.Kind == kind {
			return true
		}
	}
	return false
}

// HasMaterials reports whether any material carries a quantity
func (r StagingRecord) HasMaterials() bool {
	for _, m := range r.Materials {
		if !m.IsZero() {
			return true
		}
	}
	return false
}

// TheoreticalMap returns theoretical quantity per material code
func (r StagingRecord) TheoreticalMap() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.Materials))
	for code, m := range r.Materials {
		out[code] = m.Theoretical
	}
	return out
}

// RealMap returns final real quantity per material code
func (r StagingRecord) RealMap() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.Materials))
	for code, m := range r.Materials {
		out[code] = m.FinalReal()
	}
	return out
}

// MaterialCodes returns the record's material codes in sorted order
func (r StagingRecord) MaterialCodes() []string {
	codes := make([]string, 0, len(r.Materials))
	for code := range r.Materials {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// IsAbnormal reports whether the record needs a status decision before commit
func (r StagingRecord) IsAbnormal() bool {
	return IsAbnormalStatus(r.RawStatus)
}

func (r StagingRecord) clone() StagingRecord {
	out := r
	if r.UnitPrice != nil {
		p := *r.UnitPrice
		out.UnitPrice = &p
	}
	if r.Materials != nil {
		out.Materials = make(map[string]Measure, len(r.Materials))
		for k, v := range r.Materials {
			out.Materials[k] = v
		}
	}
	if r.MaterialIDs != nil {
		out.MaterialIDs = make(map[string]string, len(r.MaterialIDs))
		for k, v := range r.MaterialIDs {
			out.MaterialIDs[k] = v
		}
	}
	if r.Issues != nil {
		out.Issues = append([]ValidationIssue(nil), r.Issues...)
	}
	return out
}
