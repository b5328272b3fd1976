package arkik

// IssueKind enumerates the validation problems a row can carry
type IssueKind string

const (
	IssueRecipeNotFound   IssueKind = "RECIPE_NOT_FOUND"
	IssueRecipeNoPrice    IssueKind = "RECIPE_NO_PRICE"
	IssueClientNotFound   IssueKind = "CLIENT_NOT_FOUND"
	IssueSiteNotFound     IssueKind = "CONSTRUCTION_SITE_NOT_FOUND"
	IssueMaterialNotFound IssueKind = "MATERIAL_NOT_FOUND"
	IssueDuplicateRecord  IssueKind = "DUPLICATE_RECORD"
	IssueInvalidVolume    IssueKind = "INVALID_VOLUME"
	IssueMissingField     IssueKind = "MISSING_REQUIRED_FIELD"
)

// Blocking reports whether an issue of this kind keeps the record out of commit.
// These need reference data fixed outside the import; nothing inside a session resolves them.
func (k IssueKind) Blocking() bool {
	switch k {
	case IssueRecipeNotFound, IssueClientNotFound, IssueSiteNotFound, IssueMissingField, IssueInvalidVolume:
		return true
	}
	return false
}

// ValidationIssue is one problem found on a row
type ValidationIssue struct {
	Kind        IssueKind `json:"kind"`
	Field       string    `json:"field"`
	Value       string    `json:"value,omitempty"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// ValidationStatus is the review status of a staging record
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationWarning ValidationStatus = "warning"
	ValidationError   ValidationStatus = "error"
)
