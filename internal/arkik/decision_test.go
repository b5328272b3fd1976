package arkik

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cancelledRecord() StagingRecord {
	rec := stagingRecord("7000")
	rec.RawStatus = "Cancelado"
	rec.Status = StatusCancelado
	return rec
}

func TestStatusProcessorBegin(t *testing.T) {
	p := NewStatusProcessor()

	_, ok := p.Begin(stagingRecord("1"))
	assert.False(t, ok)

	state, ok := p.Begin(cancelledRecord())
	require.True(t, ok)
	assert.True(t, state.Pending())
	assert.Equal(t, "Cancelado", state.OriginalStatus)
}

func TestDecideWasteRequiresReason(t *testing.T) {
	p := NewStatusProcessor()
	rec := cancelledRecord()
	state, _ := p.Begin(rec)

	next, err := p.Decide(state, rec, MarkAsWaste{Reason: "  "}, nil, "")
	assert.ErrorIs(t, err, ErrWasteReasonRequired)
	assert.True(t, next.Pending())

	next, err = p.Decide(state, rec, MarkAsWaste{Reason: " cancelled "}, nil, "cliente canceló")
	require.NoError(t, err)
	assert.Equal(t, MarkAsWaste{Reason: "cancelled"}, next.Decision)
	assert.Equal(t, "cliente canceló", next.Notes)
	assert.True(t, ExcludesRecord(next.Decision))
}

func TestDecideReassignment(t *testing.T) {
	p := NewStatusProcessor()
	rec := cancelledRecord()
	state, _ := p.Begin(rec)
	targets := []ReassignmentTarget{{RecordID: "rem-8000", Number: "8000"}}

	_, err := p.Decide(state, rec, ReassignToExisting{TargetNumber: "8000"}, nil, "")
	assert.ErrorIs(t, err, ErrTargetRequired)

	_, err = p.Decide(state, rec, ReassignToExisting{}, targets, "")
	assert.ErrorIs(t, err, ErrTargetRequired)

	_, err = p.Decide(state, rec, ReassignToExisting{TargetNumber: rec.Number}, targets, "")
	assert.ErrorIs(t, err, ErrSelfTarget)

	_, err = p.Decide(state, rec, ReassignToExisting{TargetNumber: "9999"}, targets, "")
	assert.ErrorIs(t, err, ErrUnknownTarget)

	_, err = p.Decide(state, rec, ReassignToExisting{TargetNumber: "8000", Materials: map[string]decimal.Decimal{"CEMENT": dec("-1")}}, targets, "")
	assert.ErrorIs(t, err, ErrNegativeQuantity)

	_, err = p.Decide(state, rec, ReassignToExisting{TargetNumber: "8000", Materials: map[string]decimal.Decimal{"CEMENT": dec("0")}}, targets, "")
	assert.ErrorIs(t, err, ErrNothingToTransfer)

	next, err := p.Decide(state, rec, ReassignToExisting{TargetNumber: "8000"}, targets, "")
	require.NoError(t, err)
	d, ok := next.Decision.(ReassignToExisting)
	require.True(t, ok)
	assert.Equal(t, "rem-8000", d.TargetRecordID)
	assert.True(t, d.Materials["CEMENT"].Equal(dec("102")))
	assert.Equal(t, []string{"CEMENT"}, d.SortedCodes())
}

func TestDecideRejectsNormalRecord(t *testing.T) {
	p := NewStatusProcessor()
	_, err := p.Decide(DecisionState{}, stagingRecord("1"), ProceedNormal{}, nil, "")
	assert.ErrorIs(t, err, ErrNotAbnormal)
}

func TestDecisionStateJSON(t *testing.T) {
	p := NewStatusProcessor()
	rec := cancelledRecord()
	state, _ := p.Begin(rec)

	raw, err := json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"pending"`)

	state, err = p.Decide(state, rec, MarkAsWaste{Reason: "cancelled"}, nil, "")
	require.NoError(t, err)
	raw, err = json.Marshal(state)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action":"mark_as_waste"`)
	assert.Contains(t, string(raw), `"reason":"cancelled"`)
}

func TestWasteCategory(t *testing.T) {
	assert.Equal(t, WasteCancelled, WasteCategory("Cancelled"))
	assert.Equal(t, WasteQualityIssue, WasteCategory("quality_issue"))
	assert.Equal(t, WasteOther, WasteCategory("se derramó"))
}
