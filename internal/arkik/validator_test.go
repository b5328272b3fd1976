package arkik

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidRow(t *testing.T) {
	v := NewValidator(testReference(), "plant-1", 1)
	rec := v.Validate(rawRow(2, "P002-001001"))

	assert.Equal(t, "1001", rec.Number)
	assert.Equal(t, "plant-1", rec.PlantID)
	assert.Equal(t, "cli-1", rec.ClientID)
	assert.Equal(t, "site-1", rec.SiteID)
	assert.Equal(t, "rcp-1", rec.RecipeID)
	assert.Equal(t, "R-250", rec.RecipeCode)
	require.NotNil(t, rec.UnitPrice)
	assert.True(t, rec.UnitPrice.Equal(dec("1850")))
	assert.Equal(t, PricePlant, rec.PriceSource)
	assert.True(t, rec.Volume.Equal(dec("7.5")))
	assert.Equal(t, "mat-cement", rec.MaterialIDs["CEMENT"])
	assert.Equal(t, ValidationValid, rec.ValidationStatus())
	assert.False(t, rec.Blocked())
}

func TestValidateReferenceIssues(t *testing.T) {
	v := NewValidator(testReference(), "plant-1", 1)

	t.Run("unknown recipe", func(t *testing.T) {
		row := rawRow(2, "1")
		row.ProductDescription = "NO-EXISTE"
		rec := v.Validate(row)
		assert.True(t, rec.HasIssue(IssueRecipeNotFound))
		assert.True(t, rec.Blocked())
	})

	t.Run("missing product", func(t *testing.T) {
		row := rawRow(2, "1")
		row.ProductDescription = ""
		rec := v.Validate(row)
		assert.True(t, rec.HasIssue(IssueRecipeNotFound))
	})

	t.Run("recipe by technical code", func(t *testing.T) {
		row := rawRow(2, "1")
		row.ProductDescription = "UNKNOWN"
		row.RecipeCode = "r-250"
		rec := v.Validate(row)
		assert.False(t, rec.HasIssue(IssueRecipeNotFound))
		assert.Equal(t, "rcp-1", rec.RecipeID)
	})

	t.Run("unknown client", func(t *testing.T) {
		row := rawRow(2, "1")
		row.ClientName = "Otra Empresa"
		rec := v.Validate(row)
		assert.True(t, rec.HasIssue(IssueClientNotFound))
		assert.False(t, rec.HasIssue(IssueSiteNotFound))
		assert.Equal(t, ValidationError, rec.ValidationStatus())
	})

	t.Run("client by code wins over name", func(t *testing.T) {
		row := rawRow(2, "1")
		row.ClientCode = "c001"
		row.ClientName = "Nombre distinto"
		rec := v.Validate(row)
		assert.Equal(t, "cli-1", rec.ClientID)
	})

	t.Run("unknown site", func(t *testing.T) {
		row := rawRow(2, "1")
		row.SiteName = "Plaza Central"
		rec := v.Validate(row)
		assert.True(t, rec.HasIssue(IssueSiteNotFound))
		assert.True(t, rec.Blocked())
	})

	t.Run("unknown material is recoverable", func(t *testing.T) {
		row := rawRow(2, "1")
		row.Materials["SAND"] = Measure{Theoretical: dec("10")}
		rec := v.Validate(row)
		assert.True(t, rec.HasIssue(IssueMaterialNotFound))
		assert.False(t, rec.Blocked())
		assert.Equal(t, ValidationWarning, rec.ValidationStatus())
	})

	t.Run("zero materials are dropped", func(t *testing.T) {
		row := rawRow(2, "1")
		row.Materials["WATER"] = Measure{}
		rec := v.Validate(row)
		assert.NotContains(t, rec.Materials, "WATER")
	})
}

func TestValidateRequiredFields(t *testing.T) {
	v := NewValidator(testReference(), "plant-1", 1)

	row := rawRow(2, "")
	row.SiteName = ""
	row.Date = day("0001-01-01")
	rec := v.Validate(row)

	fields := map[string]bool{}
	for _, issue := range rec.Issues {
		if issue.Kind == IssueMissingField {
			fields[issue.Field] = true
		}
	}
	assert.Equal(t, map[string]bool{"remision": true, "obra": true, "fecha": true}, fields)
	assert.True(t, rec.Blocked())
}

func TestValidateVolume(t *testing.T) {
	v := NewValidator(testReference(), "plant-1", 1)
	for _, raw := range []string{"", "abc", "0", "-2"} {
		row := rawRow(2, "1")
		row.Volume = raw
		rec := v.Validate(row)
		assert.True(t, rec.HasIssue(IssueInvalidVolume), "volume %q", raw)
		assert.True(t, rec.Blocked(), "volume %q", raw)
	}

	row := rawRow(2, "1")
	row.Volume = "7,25"
	rec := v.Validate(row)
	assert.True(t, rec.Volume.Equal(dec("7.25")))
}

func TestValidateNoPriceIsRecoverable(t *testing.T) {
	ref := NewReferenceSet(
		[]Recipe{{ID: "rcp-1", Code: "R-250"}},
		[]Client{{ID: "cli-1", Name: "Constructora ABC"}},
		[]Site{{ID: "site-1", ClientID: "cli-1", Name: "Torre Norte"}},
		nil, nil,
	)
	row := rawRow(2, "1")
	row.ProductDescription = "R-250"
	rec := NewValidator(ref, "plant-1", 1).Validate(row)

	assert.True(t, rec.HasIssue(IssueRecipeNoPrice))
	assert.Equal(t, PriceNone, rec.PriceSource)
	assert.Nil(t, rec.UnitPrice)
	assert.False(t, rec.Blocked())
}

func TestPricePrecedence(t *testing.T) {
	ref := NewReferenceSet(nil, nil, nil, nil, []Price{
		{RecipeID: "r", Amount: dec("100")},
		{RecipeID: "r", ClientID: "c", Amount: dec("90")},
		{RecipeID: "r", ClientID: "c", SiteID: "s", Amount: dec("80")},
	})

	p, ok := ref.PriceFor("r", "c", "s")
	require.True(t, ok)
	assert.Equal(t, PriceClientSite, p.Source())
	assert.True(t, p.Amount.Equal(dec("80")))

	p, _ = ref.PriceFor("r", "c", "other")
	assert.Equal(t, PriceClient, p.Source())

	p, _ = ref.PriceFor("r", "x", "")
	assert.Equal(t, PricePlant, p.Source())

	_, ok = ref.PriceFor("unknown", "c", "s")
	assert.False(t, ok)
}

func TestValidateBatchMarksRepeats(t *testing.T) {
	v := NewValidator(testReference(), "plant-1", 4)
	rows := []RawRow{rawRow(2, "1001"), rawRow(3, "1002"), rawRow(4, "P-1001")}

	records, err := v.ValidateBatch(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []int{2, 3, 4}, []int{records[0].RowNumber, records[1].RowNumber, records[2].RowNumber})
	assert.Zero(t, records[0].RepeatOf)
	assert.Equal(t, 2, records[2].RepeatOf)
	assert.True(t, records[2].HasIssue(IssueDuplicateRecord))
	assert.True(t, records[2].Blocked())
}

func TestValidateBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewValidator(testReference(), "plant-1", 1).ValidateBatch(ctx, []RawRow{rawRow(2, "1")})
	assert.ErrorIs(t, err, context.Canceled)
}
