package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Remision is a persisted concrete delivery slip, unique per plant and number
type Remision struct {
	ID             string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlantID        string          `gorm:"not null;uniqueIndex:idx_remision_plant_number" json:"plant_id"`
	RemisionNumber string          `gorm:"not null;uniqueIndex:idx_remision_plant_number" json:"remision_number"`
	OrderID        *string         `gorm:"index" json:"order_id,omitempty"`
	ClientID       string          `gorm:"index" json:"client_id,omitempty"`
	SiteID         string          `gorm:"index" json:"construction_site_id,omitempty"`
	RecipeID       string          `gorm:"index" json:"recipe_id,omitempty"`
	DeliveredAt    time.Time       `gorm:"index" json:"delivered_at"`
	Volume         decimal.Decimal `gorm:"type:numeric(12,3);not null;default:0" json:"volume"`
	Driver         string          `json:"driver,omitempty"`
	Plate          string          `json:"plate,omitempty"`
	Truck          string          `json:"truck,omitempty"`
	RawStatus      string          `json:"raw_status"`
	Status         string          `gorm:"index" json:"status"`

	// Status decision outcome for cancelled or incomplete slips
	Excluded     bool           `gorm:"default:false" json:"excluded"`
	Action       string         `json:"status_action,omitempty"`
	WasteReason  string         `json:"waste_reason,omitempty"`
	ReassignedTo string         `json:"reassigned_to,omitempty"`
	Notes        string         `gorm:"type:text" json:"notes,omitempty"`
	DecisionMeta datatypes.JSON `json:"decision_meta,omitempty"`

	ImportSessionID string `gorm:"index" json:"import_session_id,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Materials []RemisionMaterial `gorm:"foreignKey:RemisionID;constraint:OnDelete:CASCADE" json:"materials,omitempty"`
}

// TableName specifies the table name for Remision model
func (Remision) TableName() string {
	return "remisiones"
}

// RemisionMaterial is the consumption of one material on a delivery slip
type RemisionMaterial struct {
	ID              string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	RemisionID      string          `gorm:"not null;uniqueIndex:idx_remision_material" json:"remision_id"`
	MaterialCode    string          `gorm:"not null;uniqueIndex:idx_remision_material" json:"material_type"`
	MaterialID      *string         `gorm:"index" json:"material_id,omitempty"`
	Theoretical     decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"cantidad_teorica"`
	Real            decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"cantidad_real"`
	Rework          decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"ajuste_retrabajo"`
	Manual          decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"ajuste_manual"`
	FinalReal       decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"cantidad_real_final"`
	Variance        decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"variacion"`
	VariancePercent decimal.Decimal `gorm:"type:numeric(8,2);not null;default:0" json:"variacion_porcentaje"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName specifies the table name for RemisionMaterial model
func (RemisionMaterial) TableName() string {
	return "remision_materiales"
}

// BeforeSave derives the final real quantity and variance from the raw columns
func (m *RemisionMaterial) BeforeSave(tx *gorm.DB) error {
	m.FinalReal = m.Real.Add(m.Rework).Add(m.Manual)
	m.Variance = m.FinalReal.Sub(m.Theoretical)
	m.VariancePercent = decimal.Zero
	if !m.Theoretical.IsZero() {
		m.VariancePercent = m.Variance.Div(m.Theoretical).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return nil
}

// RemisionReassignment audits materials moved from one slip to another.
// The (plant, source, target) key makes re-applying a transfer a no-op.
type RemisionReassignment struct {
	ID               string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlantID          string         `gorm:"not null;uniqueIndex:idx_reassignment_key" json:"plant_id"`
	SourceNumber     string         `gorm:"not null;uniqueIndex:idx_reassignment_key" json:"source_remision_number"`
	TargetNumber     string         `gorm:"not null;uniqueIndex:idx_reassignment_key;index" json:"target_remision_number"`
	TargetRemisionID string         `gorm:"index" json:"target_remision_id"`
	Materials        datatypes.JSON `json:"materials_transferred"`
	Reason           string         `gorm:"type:text" json:"reason"`
	CreatedAt        time.Time      `json:"created_at"`
}

// TableName specifies the table name for RemisionReassignment model
func (RemisionReassignment) TableName() string {
	return "remision_reassignments"
}

// WasteMaterial is one scrapped material of a cancelled or rejected slip
type WasteMaterial struct {
	ID                string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	PlantID           string          `gorm:"not null;uniqueIndex:idx_waste_key" json:"plant_id"`
	RemisionNumber    string          `gorm:"not null;uniqueIndex:idx_waste_key" json:"remision_number"`
	MaterialCode      string          `gorm:"not null;uniqueIndex:idx_waste_key" json:"material_code"`
	MaterialID        *string         `json:"material_id,omitempty"`
	TheoreticalAmount decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"theoretical_amount"`
	ActualAmount      decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"actual_amount"`
	WasteAmount       decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"waste_amount"`
	WasteReason       string          `gorm:"not null" json:"waste_reason"`
	Notes             string          `gorm:"type:text" json:"notes,omitempty"`
	FechaEntrega      time.Time       `gorm:"type:date" json:"fecha"`
	ImportSessionID   string          `gorm:"index" json:"import_session_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName specifies the table name for WasteMaterial model
func (WasteMaterial) TableName() string {
	return "waste_materials"
}
