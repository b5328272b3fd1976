// Package report renders the printable summary of an import session.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/xelth-com/arkikgo/internal/arkik"
)

// QRPrefix is prepended to the session id in the QR code
const QRPrefix = "ARKIK/"

// Input is everything printed in a session report
type Input struct {
	Summary     arkik.Summary
	Outcomes    []arkik.CommitOutcome
	FileName    string
	GeneratedAt time.Time
}

var resultOrder = []arkik.OutcomeResult{
	arkik.OutcomeCreated,
	arkik.OutcomeUpdated,
	arkik.OutcomeSkipped,
	arkik.OutcomeFailed,
	arkik.OutcomeNotProcessed,
}

// outcome table columns (mm)
var outcomeCols = []struct {
	title string
	width float64
}{
	{"Fila", 12},
	{"Remisión", 28},
	{"Resultado", 26},
	{"Orden", 34},
	{"Detalle", 90},
}

// SessionPDF creates an A4 report of a session and its commit outcomes
func SessionPDF(in Input) ([]byte, error) {
	pdf, err := build(in)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func build(in Input) (*gofpdf.Fpdf, error) {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now().UTC()
	}
	sum := in.Summary

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, tr(fmt.Sprintf("Sesión %s · página %d", sum.SessionID, pdf.PageNo())), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// QR with the session id, top right
	qrPng, err := qrcode.Encode(QRPrefix+sum.SessionID, qrcode.Medium, 256)
	if err != nil {
		return nil, err
	}
	imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader("session_qr", imgOptions, bytes.NewReader(qrPng))
	pdf.ImageOptions("session_qr", 165, 12, 30, 30, false, imgOptions, 0, "")

	// Header
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(145, 9, tr("Importación de remisiones Arkik"), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	for _, line := range []string{
		"Sesión: " + sum.SessionID,
		"Planta: " + sum.PlantID,
		"Archivo: " + in.FileName,
		"Generado: " + in.GeneratedAt.Format("2006-01-02 15:04 MST"),
	} {
		pdf.CellFormat(145, 5, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	// Validation summary
	section(pdf, tr("Resumen de validación"))
	pair(pdf, tr, "Filas", fmt.Sprint(sum.TotalRows))
	pair(pdf, tr, "Válidas", fmt.Sprint(sum.Valid))
	pair(pdf, tr, "Con advertencias", fmt.Sprint(sum.Warnings))
	pair(pdf, tr, "Con errores", fmt.Sprint(sum.Errors))
	pair(pdf, tr, "Bloqueadas", fmt.Sprint(sum.Blocked))
	pair(pdf, tr, "Repetidas en el archivo", fmt.Sprint(sum.Repeats))
	pair(pdf, tr, "Duplicadas", fmt.Sprintf("%d (alto %d, medio %d, bajo %d)",
		sum.Duplicates, sum.DuplicatesByRisk[arkik.RiskHigh], sum.DuplicatesByRisk[arkik.RiskMedium], sum.DuplicatesByRisk[arkik.RiskLow]))
	pair(pdf, tr, "Estatus anormal", fmt.Sprint(sum.Abnormal))
	pair(pdf, tr, "Volumen total (m³)", sum.TotalVolume.StringFixed(2))
	pdf.Ln(4)

	// Commit counts
	if len(in.Outcomes) > 0 {
		counts := map[arkik.OutcomeResult]int{}
		for _, o := range in.Outcomes {
			counts[o.Result]++
		}
		section(pdf, tr("Resultado de la carga"))
		for _, r := range resultOrder {
			pair(pdf, tr, string(r), fmt.Sprint(counts[r]))
		}
		pdf.Ln(4)
	}

	// Material variance
	if len(sum.Variance) > 0 {
		section(pdf, tr("Variación de materiales"))
		codes := make([]string, 0, len(sum.Variance))
		for code := range sum.Variance {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		pdf.SetFont("Arial", "B", 8)
		for _, h := range []string{"Material", "Teórico", "Real", "Diferencia", "%"} {
			pdf.CellFormat(36, 6, tr(h), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
		for _, code := range codes {
			t := sum.Variance[code]
			pdf.CellFormat(36, 5, tr(code), "1", 0, "L", false, 0, "")
			pdf.CellFormat(36, 5, t.Theoretical.StringFixed(2), "1", 0, "R", false, 0, "")
			pdf.CellFormat(36, 5, t.Real.StringFixed(2), "1", 0, "R", false, 0, "")
			pdf.CellFormat(36, 5, t.Difference.StringFixed(2), "1", 0, "R", false, 0, "")
			pdf.CellFormat(36, 5, t.Percent.StringFixed(2), "1", 1, "R", false, 0, "")
		}
		pdf.Ln(4)
	}

	// Outcome rows
	if len(in.Outcomes) > 0 {
		section(pdf, tr("Detalle por remisión"))
		header := func() {
			pdf.SetFont("Arial", "B", 8)
			pdf.SetFillColor(230, 230, 230)
			for _, c := range outcomeCols {
				pdf.CellFormat(c.width, 6, tr(c.title), "1", 0, "C", true, 0, "")
			}
			pdf.Ln(-1)
			pdf.SetFont("Arial", "", 7)
		}
		header()
		for _, o := range in.Outcomes {
			if pdf.GetY() > 275 {
				pdf.AddPage()
				header()
			}
			detail := o.Reason
			if o.Error != "" {
				detail = o.Stage + ": " + o.Error
			}
			cells := []string{fmt.Sprint(o.RowNumber), o.Number, string(o.Result), o.OrderNumber, truncate(detail, 70)}
			for i, c := range outcomeCols {
				pdf.CellFormat(c.width, 5, tr(cells[i]), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	if pdf.Err() {
		return nil, pdf.Error()
	}
	return pdf, nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, title, "B", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func pair(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(60, 5, tr(label), "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(0, 5, tr(value), "", 1, "L", false, 0, "")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
