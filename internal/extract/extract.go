// Package extract turns engine alerts into ExtractedFeature rows.
package extract

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/model"
)

// Defaults applied when an alert omits a field.
const (
	DefaultMethod    = "GET"
	DefaultAlertType = "Unknown"
	DefaultSeverity  = "Low"
)

const referenceSeparator = ", "

var (
	// ErrNotNumeric marks a score that does not parse as a number.
	ErrNotNumeric = errors.New("not a number")
	// ErrOutOfRange marks a score outside 0..10.
	ErrOutOfRange = errors.New("outside 0..10")
)

// ValidationError describes one alert that could not be turned into a row.
type ValidationError struct {
	Index int
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("alert %d: invalid %s %q: %v", e.Index, e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Extract converts alerts into feature rows. A malformed alert yields a
// ValidationError and no row; the remaining alerts are still extracted.
// The input slice is not modified.
func Extract(alerts []engine.RawAlert) ([]model.ExtractedFeature, []*ValidationError) {
	features := make([]model.ExtractedFeature, 0, len(alerts))
	var rejected []*ValidationError

	for i := range alerts {
		f, verr := extractOne(i, &alerts[i])
		if verr != nil {
			rejected = append(rejected, verr)
			continue
		}
		features = append(features, f)
	}
	return features, rejected
}

func extractOne(index int, a *engine.RawAlert) (model.ExtractedFeature, *ValidationError) {
	if a.Malformed != nil {
		return model.ExtractedFeature{}, &ValidationError{Index: index, Field: "alert", Value: clip(string(a.Native)), Err: a.Malformed}
	}
	score, err := parseScore(a.CVSSScore)
	if err != nil {
		return model.ExtractedFeature{}, &ValidationError{Index: index, Field: "cvssScore", Value: a.CVSSScore, Err: err}
	}
	severity := orDefault(a.Risk, DefaultSeverity)

	return model.ExtractedFeature{
		RequestMethod:   orDefault(a.Method, DefaultMethod),
		URLPattern:      URLPattern(a.URL),
		AlertType:       orDefault(a.Name, DefaultAlertType),
		ResponseHeaders: a.ResponseHeaders,
		ResponseBody:    a.ResponseBody,
		CVSSScore:       &score,
		Severity:        &severity,
		ReferenceURLs:   strings.Join(a.References, referenceSeparator),
	}, nil
}

// URLPattern strips everything from the first '?' onward.
func URLPattern(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// parseScore returns 0 for an absent score and rejects anything that is not a
// number within 0..10.
func parseScore(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(score) {
		return 0, ErrNotNumeric
	}
	if score < 0 || score > 10 {
		return 0, ErrOutOfRange
	}
	return score, nil
}

const maxValueLen = 80

func clip(s string) string {
	if len(s) > maxValueLen {
		return s[:maxValueLen] + "..."
	}
	return s
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
