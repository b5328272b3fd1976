package arkik

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNumber(t *testing.T) {
	cases := map[string]string{
		"P002-007789": "7789",
		"  1001 ":     "1001",
		"R-1001":      "1001",
		"000123":      "123",
		"ABC":         "ABC",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeNumber(in), "input %q", in)
	}
}

func TestParseQuantity(t *testing.T) {
	cases := map[string]string{
		"7.5":     "7.5",
		"7,5":     "7.5",
		"1,234.5": "1234.5",
		" 12 ":    "12",
		"-3":      "-3",
	}
	for in, want := range cases {
		got, err := ParseQuantity(in)
		require.NoError(t, err, "input %q", in)
		assert.True(t, got.Equal(dec(want)), "input %q: got %s", in, got)
	}

	_, err := ParseQuantity("")
	assert.Error(t, err)
	_, err = ParseQuantity("siete")
	assert.Error(t, err)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusTerminado, NormalizeStatus("Terminado"))
	assert.Equal(t, StatusTerminadoIncompleto, NormalizeStatus("Terminado Incompleto"))
	assert.Equal(t, StatusCancelado, NormalizeStatus("CANCELADO"))
	assert.Equal(t, StatusCancelado, NormalizeStatus("Cancelada"))
	assert.Equal(t, StatusPendiente, NormalizeStatus("En tránsito"))

	assert.True(t, IsAbnormalStatus("Terminado incompleto"))
	assert.True(t, IsAbnormalStatus("cancelado"))
	assert.False(t, IsAbnormalStatus("Terminado"))
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("Constructora  ABC", "constructora abc"))
	assert.Equal(t, 1.0, NameSimilarity("Construcción Río", "CONSTRUCCION RIO"))
	assert.InDelta(t, 0.5, NameSimilarity("Torre Norte", "Torre Sur Norte Este"), 0.001)
	assert.Equal(t, 0.0, NameSimilarity("", "algo"))
}

func TestCompareNumbers(t *testing.T) {
	assert.Equal(t, -1, compareNumbers("9", "10"))
	assert.Equal(t, 1, compareNumbers("100", "20"))
	assert.Equal(t, 0, compareNumbers("7", "7"))
	assert.Equal(t, -1, compareNumbers("A-1", "B-1"))
}

func TestMeasureVariance(t *testing.T) {
	m := Measure{Theoretical: dec("100"), Real: dec("98"), Rework: dec("3"), Manual: dec("1")}
	assert.True(t, m.FinalReal().Equal(dec("102")))

	abs, pct := m.Variance()
	assert.True(t, abs.Equal(dec("2")))
	assert.True(t, pct.Equal(dec("2")))

	abs, pct = Measure{Real: dec("5")}.Variance()
	assert.True(t, abs.Equal(dec("5")))
	assert.True(t, pct.IsZero())
}
