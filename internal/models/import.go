package models

import (
	"time"

	"gorm.io/datatypes"
)

// ImportSessionStatus defines the lifecycle of an import session
type ImportSessionStatus string

const (
	ImportSessionOpen      ImportSessionStatus = "open"
	ImportSessionCommitted ImportSessionStatus = "committed"
	ImportSessionPartial   ImportSessionStatus = "partial"
	ImportSessionAbandoned ImportSessionStatus = "abandoned"
)

// ImportSession records one uploaded Arkik export
type ImportSession struct {
	ID          string              `gorm:"primaryKey;type:uuid" json:"id"`
	PlantID     string              `gorm:"not null;index" json:"plant_id"`
	FileName    string              `json:"file_name"`
	Fingerprint string              `gorm:"index" json:"fingerprint"`
	TotalRows   int                 `json:"total_rows"`
	Status      ImportSessionStatus `gorm:"default:open;index" json:"status"`
	Summary     datatypes.JSON      `json:"summary,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CommittedAt *time.Time          `json:"committed_at,omitempty"`
}

// TableName specifies the table name for ImportSession model
func (ImportSession) TableName() string {
	return "import_sessions"
}

// ImportOutcome is the audit entry of one committed row. A resumed commit
// overwrites the entry of the same session and row.
type ImportOutcome struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	SessionID   string         `gorm:"not null;uniqueIndex:idx_outcome_row" json:"session_id"`
	RowNumber   int            `gorm:"not null;uniqueIndex:idx_outcome_row" json:"row_number"`
	Number      string         `gorm:"index" json:"remision_number"`
	Result      string         `gorm:"not null;index" json:"result"`
	RecordID    string         `json:"record_id,omitempty"`
	OrderID     string         `json:"order_id,omitempty"`
	OrderNumber string         `json:"order_number,omitempty"`
	Stage       string         `json:"stage,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	Detail      datatypes.JSON `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName specifies the table name for ImportOutcome model
func (ImportOutcome) TableName() string {
	return "import_outcomes"
}

// All lists every persisted model in migration order
func All() []any {
	return []any{
		&Client{},
		&ConstructionSite{},
		&Recipe{},
		&Material{},
		&ProductPrice{},
		&Order{},
		&OrderItem{},
		&OrderPrice{},
		&Remision{},
		&RemisionMaterial{},
		&RemisionReassignment{},
		&WasteMaterial{},
		&ImportSession{},
		&ImportOutcome{},
	}
}
