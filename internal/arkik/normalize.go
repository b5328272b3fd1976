package arkik

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// RemisionStatus is the normalized status of a delivery slip
type RemisionStatus string

const (
	StatusTerminado           RemisionStatus = "terminado"
	StatusTerminadoIncompleto RemisionStatus = "terminado_incompleto"
	StatusCancelado           RemisionStatus = "cancelado"
	StatusPendiente           RemisionStatus = "pendiente"
)

// NormalizeStatus maps Arkik's free-text status to a RemisionStatus
func NormalizeStatus(raw string) RemisionStatus {
	s := foldText(raw)
	switch {
	case strings.Contains(s, "terminado") && strings.Contains(s, "incomplet"):
		return StatusTerminadoIncompleto
	case strings.Contains(s, "cancelad"):
		return StatusCancelado
	case strings.Contains(s, "terminado"):
		return StatusTerminado
	}
	return StatusPendiente
}

// IsAbnormalStatus reports whether a raw status text needs an operator decision
func IsAbnormalStatus(raw string) bool {
	s := foldText(raw)
	return strings.Contains(s, "cancelad") || strings.Contains(s, "incomplet")
}

var accentFold = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

// foldText lowercases and strips Spanish accents
func foldText(s string) string {
	return strings.ToLower(accentFold.Replace(strings.TrimSpace(s)))
}

// NormalizeName folds a client or site name for comparison:
// accents removed, punctuation dropped, whitespace collapsed.
func NormalizeName(s string) string {
	s = foldText(s)
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// NameSimilarity scores two names from 0 to 1 by shared words
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	wa, wb := strings.Fields(na), strings.Fields(nb)
	set := make(map[string]bool, len(wa))
	for _, w := range wa {
		set[w] = true
	}
	shared := 0
	union := len(set)
	seen := make(map[string]bool, len(wb))
	for _, w := range wb {
		if seen[w] {
			continue
		}
		seen[w] = true
		if set[w] {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

var trailingDigits = regexp.MustCompile(`(\d{3,})\s*$`)
var nonDigits = regexp.MustCompile(`\D+`)
var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// NormalizeNumber reduces an Arkik record number to its numeric part.
// "P002-007789" becomes "7789".
func NormalizeNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	digits := ""
	if m := trailingDigits.FindStringSubmatch(raw); m != nil {
		digits = m[1]
	} else {
		digits = nonDigits.ReplaceAllString(raw, "")
	}
	if digits == "" {
		return raw
	}
	if n, err := strconv.ParseUint(digits, 10, 64); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return digits
}

// ParseQuantity parses a number written with either decimal convention.
// "1,234.5" and "1234,5" both read as 1234.5.
func ParseQuantity(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty quantity")
	}
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quantity %q: %w", raw, err)
	}
	return d, nil
}

// civilDate returns t's calendar date as midnight UTC
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dayDistance is the absolute number of calendar days between a and b
func dayDistance(a, b time.Time) int {
	diff := civilDate(a).Sub(civilDate(b))
	days := int(diff.Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// compareNumbers orders record numbers numerically when both are numeric
func compareNumbers(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}
