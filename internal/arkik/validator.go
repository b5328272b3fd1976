package arkik

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Validator turns raw rows into staging records.
// It never fails a row: every problem becomes a ValidationIssue on the record.
type Validator struct {
	ref         ReferenceData
	plantID     string
	parallelism int
}

// NewValidator creates a new Validator for one plant
func NewValidator(ref ReferenceData, plantID string, parallelism int) *Validator {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Validator{ref: ref, plantID: plantID, parallelism: parallelism}
}

// ValidateBatch validates rows in parallel and returns records in row order.
// Repeated record numbers inside the batch are marked on the later rows.
// The only error is context cancellation.
func (v *Validator) ValidateBatch(ctx context.Context, rows []RawRow) ([]StagingRecord, error) {
	records := make([]StagingRecord, len(rows))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(v.parallelism)
	for i := range rows {
		i := i
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			records[i] = v.Validate(rows[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validate batch: %w", err)
	}

	firstRow := make(map[string]int, len(records))
	for i := range records {
		num := records[i].Number
		if num == "" {
			continue
		}
		if first, ok := firstRow[num]; ok {
			records[i].RepeatOf = first
			records[i].Issues = append(records[i].Issues, ValidationIssue{
				Kind:    IssueDuplicateRecord,
				Field:   "remision",
				Value:   num,
				Message: fmt.Sprintf("Remisión %s repetida en el archivo (fila %d)", num, first),
			})
			continue
		}
		firstRow[num] = records[i].RowNumber
	}
	return records, nil
}

// Validate converts one raw row into a StagingRecord with its issues
func (v *Validator) Validate(row RawRow) StagingRecord {
	rec := StagingRecord{
		RowNumber:          row.RowNumber,
		Number:             NormalizeNumber(row.Number),
		PlantID:            firstNonEmpty(row.PlantID, v.plantID),
		OrderRef:           strings.TrimSpace(row.OrderRef),
		ClientCode:         strings.TrimSpace(row.ClientCode),
		ClientName:         strings.TrimSpace(row.ClientName),
		SiteName:           strings.TrimSpace(row.SiteName),
		RecipeCode:         strings.TrimSpace(row.RecipeCode),
		ProductDescription: strings.TrimSpace(row.ProductDescription),
		Driver:             strings.TrimSpace(row.Driver),
		Plate:              strings.TrimSpace(row.Plate),
		Truck:              strings.TrimSpace(row.Truck),
		RawStatus:          strings.TrimSpace(row.Status),
		Status:             NormalizeStatus(row.Status),
		Pumpable:           parsePumpable(row.Pumpable),
		Elements:           strings.TrimSpace(row.Elements),
		InternalComments:   strings.TrimSpace(row.InternalComments),
		ExternalComments:   strings.TrimSpace(row.ExternalComments),
	}

	// 1. Required fields
	if rec.Number == "" {
		rec.addIssue(IssueMissingField, "remision", row.Number, "Campo requerido 'remision' está vacío", false)
	}
	if rec.ClientName == "" && rec.ClientCode == "" {
		rec.addIssue(IssueMissingField, "cliente", "", "Campo requerido 'cliente' está vacío", false)
	}
	if rec.SiteName == "" {
		rec.addIssue(IssueMissingField, "obra", "", "Campo requerido 'obra' está vacío", false)
	}
	if row.Date.IsZero() {
		rec.addIssue(IssueMissingField, "fecha", "", "Campo requerido 'fecha' está vacío", false)
	} else {
		rec.DeliveredAt = combineDateTime(row.Date, row.LoadTime)
	}

	// 2. Volume
	volume, err := ParseQuantity(row.Volume)
	switch {
	case err != nil:
		rec.addIssue(IssueInvalidVolume, "volumen", row.Volume, "El volumen no es numérico", false)
	case !volume.IsPositive():
		rec.addIssue(IssueInvalidVolume, "volumen", row.Volume, "El volumen debe ser mayor a 0", false)
	default:
		rec.Volume = volume
	}

	// 3. Client and site
	v.resolveClient(&rec)

	// 4. Recipe and price
	v.resolveRecipe(&rec)

	// 5. Materials
	rec.Materials = make(map[string]Measure, len(row.Materials))
	rec.MaterialIDs = make(map[string]string, len(row.Materials))
	for rawCode, m := range row.Materials {
		code := codeKey(rawCode)
		if m.IsZero() {
			continue
		}
		rec.Materials[code] = m
		if mat, ok := v.ref.MaterialByCode(code); ok {
			rec.MaterialIDs[code] = mat.ID
		} else {
			rec.addIssue(IssueMaterialNotFound, "material", code,
				fmt.Sprintf("Material '%s' no está configurado en la planta", code), true)
		}
	}

	return rec
}

func (v *Validator) resolveClient(rec *StagingRecord) {
	if rec.ClientName == "" && rec.ClientCode == "" {
		return
	}

	client, ok := Client{}, false
	if rec.ClientCode != "" {
		client, ok = v.ref.ClientByCode(rec.ClientCode)
	}
	if !ok && rec.ClientName != "" {
		client, ok = v.ref.ClientByName(rec.ClientName)
	}
	if !ok {
		rec.addIssue(IssueClientNotFound, "cliente", firstNonEmpty(rec.ClientName, rec.ClientCode),
			fmt.Sprintf("Cliente '%s' no encontrado", firstNonEmpty(rec.ClientName, rec.ClientCode)), false)
		return
	}
	rec.ClientID = client.ID

	if rec.SiteName == "" {
		return
	}
	site, ok := v.ref.SiteByName(client.ID, rec.SiteName)
	if !ok {
		rec.addIssue(IssueSiteNotFound, "obra", rec.SiteName,
			fmt.Sprintf("Obra '%s' no encontrada para el cliente", rec.SiteName), false)
		return
	}
	rec.SiteID = site.ID
}

func (v *Validator) resolveRecipe(rec *StagingRecord) {
	lookup := firstNonEmpty(rec.ProductDescription, rec.RecipeCode)
	if lookup == "" {
		rec.addIssue(IssueRecipeNotFound, "producto", "", "Descripción de producto (Arkik) faltante", false)
		return
	}

	recipe, ok := v.ref.RecipeByCode(rec.ProductDescription)
	if !ok && rec.RecipeCode != "" {
		recipe, ok = v.ref.RecipeByCode(rec.RecipeCode)
	}
	if !ok {
		rec.addIssue(IssueRecipeNotFound, "producto", lookup,
			fmt.Sprintf("Receta '%s' no encontrada", lookup), false)
		return
	}
	rec.RecipeID = recipe.ID
	rec.RecipeCode = recipe.Code

	price, ok := v.ref.PriceFor(recipe.ID, rec.ClientID, rec.SiteID)
	if !ok {
		rec.PriceSource = PriceNone
		rec.addIssue(IssueRecipeNoPrice, "producto", recipe.Code,
			fmt.Sprintf("Receta '%s' sin precio vigente", recipe.Code), true)
		return
	}
	amount := price.Amount
	rec.UnitPrice = &amount
	rec.PriceSource = price.Source()
	rec.QuoteDetailID = price.QuoteDetailID
}

func (r *StagingRecord) addIssue(kind IssueKind, field, value, message string, recoverable bool) {
	r.Issues = append(r.Issues, ValidationIssue{
		Kind:        kind,
		Field:       field,
		Value:       value,
		Message:     message,
		Recoverable: recoverable,
	})
}

func combineDateTime(date, clock time.Time) time.Time {
	y, m, d := date.Date()
	if clock.IsZero() {
		return time.Date(y, m, d, date.Hour(), date.Minute(), date.Second(), 0, time.UTC)
	}
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
}

func parsePumpable(raw string) bool {
	s := foldText(raw)
	return s == "b" || s == "si" || s == "bombeable" || s == "true" || s == "1"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
