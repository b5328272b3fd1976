package report

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/arkikgo/internal/arkik"
)

func sampleInput(rows int) Input {
	outcomes := make([]arkik.CommitOutcome, rows)
	for i := range outcomes {
		outcomes[i] = arkik.CommitOutcome{
			RowNumber:   i + 2,
			Number:      fmt.Sprint(1000 + i),
			Result:      arkik.OutcomeCreated,
			OrderNumber: "P1-20261014-001",
		}
	}
	outcomes[0].Result = arkik.OutcomeFailed
	outcomes[0].Stage = arkik.StageRecord
	outcomes[0].Error = "conexión rechazada"

	return Input{
		Summary: arkik.Summary{
			SessionID:        "7f1c",
			PlantID:          "plant-1",
			TotalRows:        rows,
			Valid:            rows,
			DuplicatesByRisk: map[arkik.RiskLevel]int{arkik.RiskHigh: 1},
			TotalVolume:      decimal.RequireFromString("61.5"),
			Variance: map[string]arkik.MaterialTally{
				"CEMENTO": {
					Theoretical: decimal.NewFromInt(1000),
					Real:        decimal.NewFromInt(1030),
					Difference:  decimal.NewFromInt(30),
					Percent:     decimal.NewFromInt(3),
				},
			},
		},
		Outcomes:    outcomes,
		FileName:    "remisiones_octubre.xlsx",
		GeneratedAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestSessionPDF(t *testing.T) {
	out, err := SessionPDF(sampleInput(5))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestLongSessionsSpanPages(t *testing.T) {
	pdf, err := build(sampleInput(120))
	require.NoError(t, err)
	assert.Greater(t, pdf.PageNo(), 1)
}

func TestSummaryOnlyReport(t *testing.T) {
	in := sampleInput(1)
	in.Outcomes = nil
	pdf, err := build(in)
	require.NoError(t, err)
	assert.Equal(t, 1, pdf.PageNo())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "corto", truncate("corto", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
