package model

import "time"

// Vulnerability maps to the vulnerabilities table. CVEID is the feed's stable
// identifier; the first ingested record for an id wins.
type Vulnerability struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	CVEID       string   `gorm:"column:cve_id;size:64;uniqueIndex;not null" json:"cve_id"`
	Description string   `gorm:"type:text" json:"description"`
	CVSSScore   *float64 `gorm:"column:cvss_score" json:"cvss_score"`
	Severity    *string  `gorm:"size:32" json:"severity"`
	References  *string  `gorm:"type:text" json:"references"`

	CreatedAt time.Time `json:"created_at"`
}

// ExtractedFeature maps to the extracted_features table. Rows are append-only;
// repeated scans of one target legitimately produce duplicates.
type ExtractedFeature struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	ScanJobID       string   `gorm:"size:64;index" json:"scan_job_id"`
	TargetURL       string   `gorm:"size:2048" json:"target_url"`
	RequestMethod   string   `gorm:"size:16" json:"request_method"`
	URLPattern      string   `gorm:"size:2048" json:"url_pattern"`
	AlertType       string   `gorm:"size:255" json:"alert_type"`
	ResponseHeaders string   `gorm:"type:text" json:"response_headers"`
	ResponseBody    string   `gorm:"type:text" json:"response_body"`
	CVSSScore       *float64 `gorm:"column:cvss_score" json:"cvss_score"`
	Severity        *string  `gorm:"size:32" json:"severity"`
	ReferenceURLs   string   `gorm:"type:text" json:"reference_urls"`

	CreatedAt time.Time `json:"created_at"`
}
