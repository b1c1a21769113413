// Package ingest loads feed records into the vulnerabilities table. Ingestion
// is idempotent: a record whose id is already stored is skipped.
package ingest

import (
	"context"
	"strings"

	"github.com/stywzn/vuln-sentinel/internal/engine"
	"github.com/stywzn/vuln-sentinel/internal/model"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

// ReferenceSeparator joins reference URLs into one column.
const ReferenceSeparator = ", "

// Rejection explains why one feed record was not ingested.
type Rejection struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// Report is the observable result of one Ingest call. Seen equals
// Inserted + Skipped + len(Rejected) unless the write failed.
type Report struct {
	Seen     int         `json:"seen"`
	Inserted int         `json:"inserted"`
	Skipped  int         `json:"skipped"`
	Rejected []Rejection `json:"rejected"`
}

// Store is the write side the ingestor needs.
type Store interface {
	InsertVulnerabilities(ctx context.Context, vulns []model.Vulnerability) (int, error)
}

// Ingestor turns feed records into rows.
type Ingestor struct {
	store Store
	log   logger.Logger
}

// NewIngestor returns an Ingestor writing to s.
func NewIngestor(s Store, log logger.Logger) *Ingestor {
	return &Ingestor{store: s, log: log}
}

// Ingest validates records, drops in-batch repeats of an id, and writes the
// rest in one transaction. On a store failure the report is still returned,
// with Inserted zero, alongside the *store.PersistenceError.
func (i *Ingestor) Ingest(ctx context.Context, records []engine.RawFeedRecord) (Report, error) {
	report := Report{Seen: len(records), Rejected: []Rejection{}}

	vulns, rejected := Normalize(records)
	report.Rejected = append(report.Rejected, rejected...)

	inserted, err := i.store.InsertVulnerabilities(ctx, vulns)
	if err != nil {
		i.log.Error("Ingest batch rolled back",
			logger.Int("records", len(records)),
			logger.Error(err),
		)
		return report, err
	}

	report.Inserted = inserted
	report.Skipped = report.Seen - inserted - len(report.Rejected)
	i.log.Info("Ingest batch committed",
		logger.Int("seen", report.Seen),
		logger.Int("inserted", report.Inserted),
		logger.Int("skipped", report.Skipped),
		logger.Int("rejected", len(report.Rejected)),
	)
	return report, nil
}

// Normalize maps records to rows in feed order. Records that did not decode
// or lack an id are rejected; later records repeating an earlier id are dropped so the first
// occurrence wins.
func Normalize(records []engine.RawFeedRecord) ([]model.Vulnerability, []Rejection) {
	vulns := make([]model.Vulnerability, 0, len(records))
	var rejected []Rejection
	seen := make(map[string]struct{}, len(records))

	for idx, r := range records {
		id := strings.TrimSpace(r.ID)
		if r.Malformed != nil {
			rejected = append(rejected, Rejection{Index: idx, ID: id, Reason: r.Malformed.Error()})
			continue
		}
		if id == "" {
			rejected = append(rejected, Rejection{Index: idx, Reason: "missing cve id"})
			continue
		}
		if r.Score != nil && (*r.Score < 0 || *r.Score > 10) {
			rejected = append(rejected, Rejection{Index: idx, ID: id, Reason: "cvss score outside 0-10"})
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		vulns = append(vulns, toVulnerability(id, r))
	}
	return vulns, rejected
}

func toVulnerability(id string, r engine.RawFeedRecord) model.Vulnerability {
	v := model.Vulnerability{
		CVEID:       id,
		Description: r.Description,
	}
	if r.Score != nil {
		score := *r.Score
		v.CVSSScore = &score
	}
	if r.Severity != nil {
		sev := *r.Severity
		v.Severity = &sev
	}
	if len(r.References) > 0 {
		refs := strings.Join(r.References, ReferenceSeparator)
		v.References = &refs
	}
	return v
}
