package pipeline

import (
	"encoding/json"
	"fmt"
)

// CrawlPayload drives the crawl stage for one place.
type CrawlPayload struct {
	PlaceID    string `json:"place_id"`
	CrawlRunID string `json:"crawl_run_id"`
	WebsiteURL string `json:"website_url"`
}

// OCRPayload points the OCR stage at one stored image/PDF artifact.
type OCRPayload struct {
	PlaceID    string `json:"place_id"`
	CrawlRunID string `json:"crawl_run_id"`
	ArtifactID string `json:"artifact_id"`
}

// ParsePayload carries both extraction sources into the merge: the derived
// OCR-result artifact (optional) and any structured-markup items found
// during the crawl.
type ParsePayload struct {
	PlaceID         string           `json:"place_id"`
	CrawlRunID      string           `json:"crawl_run_id"`
	SourceArtifact  string           `json:"source_artifact,omitempty"`
	OCRArtifactID   string           `json:"ocr_artifact_id,omitempty"`
	StructuredItems []StructuredItem `json:"structured_items,omitempty"`
}

// LabelPayload identifies one item awaiting dietary classification.
type LabelPayload struct {
	PlaceID    string `json:"place_id"`
	MenuItemID string `json:"menu_item_id"`
}

// EmbedPayload batches items awaiting vector generation.
type EmbedPayload struct {
	PlaceID     string   `json:"place_id"`
	MenuItemIDs []string `json:"menu_item_ids"`
}

// EncodePayload marshals a stage payload, verifying it matches the job type.
func EncodePayload(jobType JobType, payload any) (json.RawMessage, error) {
	ok := false
	switch jobType {
	case JobTypeCrawl:
		_, ok = payload.(CrawlPayload)
	case JobTypeOCR:
		_, ok = payload.(OCRPayload)
	case JobTypeParse:
		_, ok = payload.(ParsePayload)
	case JobTypeLabel:
		_, ok = payload.(LabelPayload)
	case JobTypeEmbed:
		_, ok = payload.(EmbedPayload)
	}
	if !ok {
		return nil, fmt.Errorf("payload %T does not match job type %q", payload, jobType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	return data, nil
}

// DecodePayload decodes a claimed job's payload into its typed shape. The
// switch is exhaustive over job types; an unknown type is a permanent error
// since retrying cannot fix a malformed job.
func DecodePayload(job Job) (any, error) {
	switch job.Type {
	case JobTypeCrawl:
		var p CrawlPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, Permanentf("decode crawl payload: %w", err)
		}
		return p, nil
	case JobTypeOCR:
		var p OCRPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, Permanentf("decode ocr payload: %w", err)
		}
		return p, nil
	case JobTypeParse:
		var p ParsePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, Permanentf("decode parse payload: %w", err)
		}
		return p, nil
	case JobTypeLabel:
		var p LabelPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, Permanentf("decode label payload: %w", err)
		}
		return p, nil
	case JobTypeEmbed:
		var p EmbedPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, Permanentf("decode embed payload: %w", err)
		}
		return p, nil
	default:
		return nil, Permanentf("unknown job type %q", job.Type)
	}
}
