package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRecord marks one element of an alerts or feed array that did not
// decode. Its siblings are unaffected.
var ErrMalformedRecord = errors.New("malformed record")

// RawAlert is one engine-native finding, decoded leniently at the boundary.
// Empty strings mean the engine omitted the field. CVSSScore is kept verbatim
// so that the extractor decides what is numeric. Malformed is set when the
// element itself did not decode; only Native is populated then.
type RawAlert struct {
	Method          string
	URL             string
	Name            string
	Risk            string
	CVSSScore       string
	References      []string
	ResponseHeaders string
	ResponseBody    string
	Malformed       error

	// Native is the alert object exactly as the engine sent it.
	Native json.RawMessage
}

func decodeAlert(index int, raw json.RawMessage) RawAlert {
	var a RawAlert
	if err := json.Unmarshal(raw, &a); err != nil {
		return RawAlert{
			Malformed: fmt.Errorf("%w: alert %d: %v", ErrMalformedRecord, index, err),
			Native:    append(json.RawMessage(nil), raw...),
		}
	}
	return a
}

type alertWire struct {
	Method          string          `json:"method"`
	URL             string          `json:"url"`
	Name            string          `json:"name"`
	Alert           string          `json:"alert"`
	Risk            string          `json:"risk"`
	CVSSScore       json.RawMessage `json:"cvssScore"`
	Reference       json.RawMessage `json:"reference"`
	ResponseHeaders string          `json:"responseHeaders"`
	ResponseBody    string          `json:"responseBody"`
}

// UnmarshalJSON accepts reference as a list or as ZAP's newline separated string,
// and cvssScore as a number or a string.
func (a *RawAlert) UnmarshalJSON(data []byte) error {
	var w alertWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	name := w.Name
	if name == "" {
		name = w.Alert
	}

	*a = RawAlert{
		Method:          w.Method,
		URL:             w.URL,
		Name:            name,
		Risk:            w.Risk,
		CVSSScore:       scalarText(w.CVSSScore),
		References:      referenceList(w.Reference),
		ResponseHeaders: w.ResponseHeaders,
		ResponseBody:    w.ResponseBody,
		Native:          append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON writes the native object back out unchanged.
func (a RawAlert) MarshalJSON() ([]byte, error) {
	if len(a.Native) > 0 {
		return a.Native, nil
	}
	return json.Marshal(alertWire{
		Method:          a.Method,
		URL:             a.URL,
		Name:            a.Name,
		Risk:            a.Risk,
		ResponseHeaders: a.ResponseHeaders,
		ResponseBody:    a.ResponseBody,
	})
}

// scalarText returns a JSON string's contents, or any other non-null value's raw text.
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func referenceList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return compact(list)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return compact(strings.Split(s, "\n"))
	}
	return nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RawFeedRecord is one vulnerability from the feed. ID may be empty; the
// ingestor rejects such records, and those carrying Malformed.
type RawFeedRecord struct {
	ID          string
	Description string
	Score       *float64
	Severity    *string
	References  []string
	Malformed   error
}
