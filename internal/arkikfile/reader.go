// Package arkikfile reads Arkik delivery exports (.xlsx or .csv) into raw rows.
package arkikfile

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/blake2b"
)

// ErrNoHeader is returned when no row of the first sheet looks like an Arkik header
var ErrNoHeader = errors.New("arkik header row not found")

// ErrUnsupportedFormat is returned for files that are neither xlsx nor csv
var ErrUnsupportedFormat = errors.New("unsupported file format, expected .xlsx or .csv")

// headerScanRows is how many leading rows may hold the header
const headerScanRows = 10

// MaxFileSize caps uploaded exports
const MaxFileSize = 32 << 20

// Metadata describes a parsed export
type Metadata struct {
	FileName    string    `json:"file_name"`
	Fingerprint string    `json:"fingerprint"`
	Plant       string    `json:"plant,omitempty"`
	HeaderRow   int       `json:"header_row"`
	TotalRows   int       `json:"total_rows"`
	Materials   []string  `json:"materials"`
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
}

// File is an export split into raw rows
type File struct {
	Rows     []arkik.RawRow
	Metadata Metadata
}

type column struct {
	name  string
	match func(string) bool
}

func re(pattern string) func(string) bool {
	r := regexp.MustCompile(`(?i)` + pattern)
	return r.MatchString
}

// Arkik has both "#Cliente" (account code) and "Cliente" (name)
var clientCode = regexp.MustCompile(`(?i)^\s*#\s*cliente\b`)
var clientName = regexp.MustCompile(`(?i)^\s*cliente\b`)

var columns = []column{
	{"orden", re(`\borden\b`)},
	{"remision", re(`remisi(o|ó)n`)},
	{"estatus", re(`estatus`)},
	{"volumen", re(`volumen`)},
	{"cliente_codigo", clientCode.MatchString},
	{"cliente_nombre", func(s string) bool { return clientName.MatchString(s) && !clientCode.MatchString(s) }},
	{"rfc", re(`\brfc\b`)},
	{"obra", re(`\bobra\b`)},
	{"punto_entrega", re(`punto.*entrega`)},
	{"prod_comercial", re(`prod.*comercial`)},
	{"prod_tecnico", re(`prod.*t(e|é)cnico`)},
	{"descripcion", re(`descrip`)},
	{"comentarios_internos", re(`comentarios.*internos`)},
	{"comentarios_externos", re(`comentarios.*externos`)},
	{"elementos", re(`elementos`)},
	{"camion", re(`cami(o|ó)n`)},
	{"placas", re(`placas`)},
	{"chofer", re(`chofer`)},
	{"bombeable", re(`(b/nb|bombeable)`)},
	{"fecha", re(`\bfecha\b`)},
	{"hora_carga", re(`hora.*carga`)},
}

var (
	measureTheoretical = re(`te(o|ó)rica|teo`)
	measureReal        = re(`real`)
	measureRework      = re(`retrabajo|ret`)
	measureManual      = re(`manual|man`)
	materialCode       = regexp.MustCompile(`(?i)^[A-Z0-9][A-Z0-9\s-]*$`)
)

type materialBlock struct {
	code        string
	theoretical int
	real        int
	rework      int
	manual      int
}

// Read parses an export, choosing the format by file extension
func Read(name string, r io.Reader) (*File, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, MaxFileSize)
	}

	var grid [][]string
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		grid, err = xlsxGrid(data)
	case ".csv":
		grid, err = csvGrid(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, err
	}

	file, err := Parse(grid)
	if err != nil {
		return nil, err
	}
	file.Metadata.FileName = filepath.Base(name)
	file.Metadata.Fingerprint = Fingerprint(data)
	return file, nil
}

// Fingerprint identifies file contents so a re-uploaded export can be recognized
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func xlsxGrid(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	// Raw values keep dates as serial numbers instead of locale-formatted text
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func csvGrid(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if first, _, _ := bytes.Cut(data, []byte("\n")); bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		r.Comma = ';'
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to read csv: %w", err)
	}
	return rows, nil
}

// Parse turns a cell grid into raw rows. The header is the best-scoring of the
// first rows; material codes sit on the row above it, each followed by its
// measure columns.
func Parse(grid [][]string) (*File, error) {
	headerIdx, score := findHeader(grid)
	if score < 3 {
		return nil, ErrNoHeader
	}
	header := trimAll(grid[headerIdx])
	var preHeader []string
	if headerIdx > 0 {
		preHeader = trimAll(grid[headerIdx-1])
	}

	index := make(map[string]int, len(columns))
	for _, c := range columns {
		index[c.name] = -1
		for i, h := range header {
			if c.match(h) {
				index[c.name] = i
				break
			}
		}
	}
	if index["remision"] < 0 {
		return nil, fmt.Errorf("%w: no remision column", ErrNoHeader)
	}

	blocks := detectMaterialBlocks(header, preHeader)
	file := &File{Metadata: Metadata{
		HeaderRow: headerIdx + 1,
		TotalRows: len(grid) - headerIdx - 1,
		Plant:     plantName(grid, headerIdx),
	}}
	for _, b := range blocks {
		file.Metadata.Materials = append(file.Metadata.Materials, b.code)
	}

	for i := headerIdx + 1; i < len(grid); i++ {
		cells := grid[i]
		get := func(name string) string {
			idx := index[name]
			if idx < 0 || idx >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[idx])
		}
		if get("remision") == "" {
			continue
		}

		row := arkik.RawRow{
			RowNumber:          i + 1,
			Number:             get("remision"),
			OrderRef:           get("orden"),
			ClientCode:         get("cliente_codigo"),
			ClientName:         get("cliente_nombre"),
			RFC:                get("rfc"),
			SiteName:           get("obra"),
			DeliveryPoint:      get("punto_entrega"),
			CommercialCode:     get("prod_comercial"),
			RecipeCode:         get("prod_tecnico"),
			ProductDescription: get("descripcion"),
			Volume:             get("volumen"),
			Driver:             get("chofer"),
			Plate:              get("placas"),
			Truck:              get("camion"),
			Status:             get("estatus"),
			Pumpable:           get("bombeable"),
			Elements:           get("elementos"),
			InternalComments:   get("comentarios_internos"),
			ExternalComments:   get("comentarios_externos"),
			Date:               ParseDate(get("fecha")),
			LoadTime:           ParseDate(get("hora_carga")),
			Materials:          make(map[string]arkik.Measure, len(blocks)),
		}
		for _, b := range blocks {
			m := arkik.Measure{
				Theoretical: cellQuantity(cells, b.theoretical),
				Real:        cellQuantity(cells, b.real),
				Rework:      cellQuantity(cells, b.rework),
				Manual:      cellQuantity(cells, b.manual),
			}
			if !m.IsZero() {
				row.Materials[b.code] = m
			}
		}

		if !row.Date.IsZero() {
			if file.Metadata.From.IsZero() || row.Date.Before(file.Metadata.From) {
				file.Metadata.From = row.Date
			}
			if row.Date.After(file.Metadata.To) {
				file.Metadata.To = row.Date
			}
		}
		file.Rows = append(file.Rows, row)
	}
	return file, nil
}

func findHeader(grid [][]string) (int, int) {
	best, bestScore := 0, -1
	for i := 0; i < len(grid) && i < headerScanRows; i++ {
		score := 0
		for _, c := range columns {
			for _, cell := range grid[i] {
				if c.match(strings.TrimSpace(cell)) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}

func detectMaterialBlocks(header, preHeader []string) []materialBlock {
	type candidate struct {
		code string
		idx  int
	}
	var candidates []candidate
	for i, cell := range preHeader {
		if cell == "" || len(cell) > 10 || strings.Trim(cell, "- ") == "" || !materialCode.MatchString(cell) {
			continue
		}
		candidates = append(candidates, candidate{code: strings.ToUpper(cell), idx: i})
	}

	var blocks []materialBlock
	for i, c := range candidates {
		end := len(header)
		if i+1 < len(candidates) && candidates[i+1].idx < end {
			end = candidates[i+1].idx
		}
		b := materialBlock{code: c.code, theoretical: -1, real: -1, rework: -1, manual: -1}
		for col := c.idx; col < end; col++ {
			h := header[col]
			switch {
			case h == "":
			case measureTheoretical(h):
				b.theoretical = col
			case measureReal(h):
				b.real = col
			case measureRework(h):
				b.rework = col
			case measureManual(h):
				b.manual = col
			}
		}
		if b.theoretical >= 0 && b.real >= 0 {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// cellQuantity reads a measure cell; blank or unreadable cells count as zero
func cellQuantity(cells []string, idx int) decimal.Decimal {
	q, err := arkik.ParseQuantity(cell(cells, idx))
	if err != nil {
		return decimal.Zero
	}
	return q
}

// plantName reads the plant caption Arkik prints above the header
func plantName(grid [][]string, headerIdx int) string {
	if headerIdx <= 3 {
		return ""
	}
	row := grid[3]
	code, name := cell(row, 6), cell(row, 9)
	if code == "" && name == "" {
		return ""
	}
	return strings.TrimSpace(code + " - " + name)
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"15:04:05",
	"15:04",
}

// ParseDate reads an Excel serial number or a textual date as wall-clock UTC.
// It returns the zero time when the value is empty or unreadable.
func ParseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if serial <= 0 {
			return time.Time{}
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}
		}
		return t.Round(time.Second)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
