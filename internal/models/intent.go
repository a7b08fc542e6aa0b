package models

// IntentResult is the discriminated output of the intent classifier.
type IntentResult struct {
	Intent         string            `json:"intent"`
	Confidence     float64           `json:"confidence"`
	ExtractedData  map[string]string `json:"extracted_data,omitempty"`
	ResponseText   string            `json:"response_text,omitempty"`
	NeedsInfo      []string          `json:"needs_info,omitempty"`
	ResolvedSlotID string            `json:"resolved_slot_id,omitempty"`
}
