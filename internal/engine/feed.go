package engine

import (
	"encoding/json"
	"fmt"
)

// NVD CVE API 2.0 page. Elements stay raw so one bad entry does not fail the page.
type nvdPage struct {
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`

	// Result carries the legacy 1.x JSON feed shape.
	Result *struct {
		Items []json.RawMessage `json:"CVE_Items"`
	} `json:"result"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		V31 []cvssMetric   `json:"cvssMetricV31"`
		V30 []cvssMetric   `json:"cvssMetricV30"`
		V2  []cvssMetricV2 `json:"cvssMetricV2"`
	} `json:"metrics"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
}

type cvssMetric struct {
	CVSSData struct {
		BaseScore    *float64 `json:"baseScore"`
		BaseSeverity *string  `json:"baseSeverity"`
	} `json:"cvssData"`
}

type cvssMetricV2 struct {
	CVSSData struct {
		BaseScore *float64 `json:"baseScore"`
	} `json:"cvssData"`
	BaseSeverity *string `json:"baseSeverity"`
}

type legacyItem struct {
	CVE struct {
		Meta struct {
			ID string `json:"ID"`
		} `json:"CVE_data_meta"`
		Description struct {
			Data []struct {
				Value string `json:"value"`
			} `json:"description_data"`
		} `json:"description"`
		References struct {
			Data []struct {
				URL string `json:"url"`
			} `json:"reference_data"`
		} `json:"references"`
	} `json:"cve"`
	Impact struct {
		V3 struct {
			CVSS struct {
				BaseScore    *float64 `json:"baseScore"`
				BaseSeverity *string  `json:"baseSeverity"`
			} `json:"cvssV3"`
		} `json:"baseMetricV3"`
	} `json:"impact"`
}

func (p *nvdPage) records() []RawFeedRecord {
	out := make([]RawFeedRecord, 0, len(p.Vulnerabilities))
	for i, raw := range p.Vulnerabilities {
		var v struct {
			CVE nvdCVE `json:"cve"`
		}
		// Type mismatches still fill the fields that did decode, so the id survives.
		err := json.Unmarshal(raw, &v)
		out = append(out, withMalformed(v.CVE.record(), i, err))
	}
	if p.Result != nil {
		for i, raw := range p.Result.Items {
			var item legacyItem
			err := json.Unmarshal(raw, &item)
			out = append(out, withMalformed(item.record(), i, err))
		}
	}
	return out
}

func withMalformed(rec RawFeedRecord, index int, err error) RawFeedRecord {
	if err != nil {
		rec.Malformed = fmt.Errorf("%w: feed entry %d: %v", ErrMalformedRecord, index, err)
	}
	return rec
}

func (c nvdCVE) record() RawFeedRecord {
	rec := RawFeedRecord{ID: c.ID}

	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			rec.Description = d.Value
			break
		}
	}
	if rec.Description == "" && len(c.Descriptions) > 0 {
		rec.Description = c.Descriptions[0].Value
	}

	switch {
	case len(c.Metrics.V31) > 0:
		rec.Score, rec.Severity = c.Metrics.V31[0].CVSSData.BaseScore, c.Metrics.V31[0].CVSSData.BaseSeverity
	case len(c.Metrics.V30) > 0:
		rec.Score, rec.Severity = c.Metrics.V30[0].CVSSData.BaseScore, c.Metrics.V30[0].CVSSData.BaseSeverity
	case len(c.Metrics.V2) > 0:
		rec.Score, rec.Severity = c.Metrics.V2[0].CVSSData.BaseScore, c.Metrics.V2[0].BaseSeverity
	}

	for _, r := range c.References {
		if r.URL != "" {
			rec.References = append(rec.References, r.URL)
		}
	}
	return rec
}

func (it legacyItem) record() RawFeedRecord {
	rec := RawFeedRecord{
		ID:       it.CVE.Meta.ID,
		Score:    it.Impact.V3.CVSS.BaseScore,
		Severity: it.Impact.V3.CVSS.BaseSeverity,
	}
	if len(it.CVE.Description.Data) > 0 {
		rec.Description = it.CVE.Description.Data[0].Value
	}
	for _, r := range it.CVE.References.Data {
		if r.URL != "" {
			rec.References = append(rec.References, r.URL)
		}
	}
	return rec
}
