package arkik

import (
	"github.com/shopspring/decimal"
)

// Summary is the operator-facing overview of an import session
type Summary struct {
	SessionID string `json:"session_id"`
	PlantID   string `json:"plant_id"`

	TotalRows int `json:"total_rows"`
	Valid     int `json:"valid"`
	Warnings  int `json:"warnings"`
	Errors    int `json:"errors"`
	Blocked   int `json:"blocked"`
	Repeats   int `json:"repeats"`

	Duplicates       int               `json:"duplicates"`
	DuplicatesByRisk map[RiskLevel]int `json:"duplicates_by_risk"`
	Abnormal         int               `json:"abnormal"`
	MatchedByRef     int               `json:"matched_by_ref"`
	WithCandidates   int               `json:"with_candidates"`

	TotalVolume decimal.Decimal          `json:"total_volume"`
	IssueCounts map[IssueKind]int        `json:"issue_counts"`
	Pending     int                      `json:"pending_decisions"`
	Outcomes    map[OutcomeResult]int    `json:"outcomes"`
	Committed   bool                     `json:"committed"`
	Variance    map[string]MaterialTally `json:"material_variance"`
}

// MaterialTally sums one material across the batch
type MaterialTally struct {
	Theoretical decimal.Decimal `json:"theoretical"`
	Real        decimal.Decimal `json:"real"`
	Difference  decimal.Decimal `json:"difference"`
	Percent     decimal.Decimal `json:"percent"`
}

// Summarize builds the session overview
func Summarize(s *Session) Summary {
	b := s.Batch()
	sum := Summary{
		SessionID:        s.ID,
		PlantID:          s.PlantID,
		TotalRows:        len(b.Records),
		DuplicatesByRisk: map[RiskLevel]int{},
		IssueCounts:      map[IssueKind]int{},
		Outcomes:         map[OutcomeResult]int{},
		Variance:         map[string]MaterialTally{},
		TotalVolume:      decimal.Zero,
	}

	totals := map[string]Measure{}
	for _, rec := range b.Records {
		switch rec.ValidationStatus() {
		case ValidationValid:
			sum.Valid++
		case ValidationWarning:
			sum.Warnings++
		default:
			sum.Errors++
		}
		if rec.RepeatOf > 0 {
			sum.Repeats++
		}
		if rec.Blocked() {
			sum.Blocked++
		}
		for _, issue := range rec.Issues {
			sum.IssueCounts[issue.Kind]++
		}
		if rec.RepeatOf > 0 || rec.Blocked() {
			continue
		}
		if rec.IsAbnormal() {
			sum.Abnormal++
		}
		if _, ok := b.OrderRefs[rec.Number]; ok {
			sum.MatchedByRef++
		}
		if len(b.Candidates[rec.Number]) > 0 {
			sum.WithCandidates++
		}
		sum.TotalVolume = sum.TotalVolume.Add(rec.Volume)
		for code, m := range rec.Materials {
			t := totals[code]
			t.Theoretical = t.Theoretical.Add(m.Theoretical)
			t.Real = t.Real.Add(m.FinalReal())
			totals[code] = t
		}
	}

	for _, info := range b.Duplicates {
		sum.Duplicates++
		sum.DuplicatesByRisk[info.Risk]++
	}
	for code, m := range totals {
		diff, pct := m.Variance()
		sum.Variance[code] = MaterialTally{Theoretical: m.Theoretical, Real: m.Real, Difference: diff, Percent: pct}
	}

	sum.Pending = len(s.Blockers())
	for _, o := range s.Outcomes() {
		sum.Outcomes[o.Result]++
	}
	sum.Committed = s.Complete()
	return sum
}
