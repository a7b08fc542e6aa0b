package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"slotline/internal/config"
	"slotline/internal/models"
)

// MaxReplyLength is the hard ceiling for generated SMS bodies.
const MaxReplyLength = 480

// FallbackText is returned when the classifier cannot produce a reply.
const FallbackText = "Sorry, having a brief issue. Please try again in a moment."

// Client calls the external intent-classification service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(cfg config.NLUConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

type classifyRequest struct {
	Message        string                 `json:"message"`
	State          string                 `json:"state"`
	History        []models.Turn          `json:"history,omitempty"`
	PresentedSlots []models.PresentedSlot `json:"presented_slots,omitempty"`
}

type classifyResponse struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Extracted    map[string]string `json:"extracted_data"`
	ResponseText string            `json:"response_text"`
	NeedsInfo    []string          `json:"needs_info"`
	SlotID       string            `json:"slot_id"`
}

func (c *Client) Classify(ctx context.Context, body string, history []models.Turn, presented []models.PresentedSlot, currentState string) (*models.IntentResult, error) {
	payload, err := json.Marshal(classifyRequest{
		Message:        body,
		State:          currentState,
		History:        history,
		PresentedSlots: presented,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classify request failed: status %d", resp.StatusCode)
	}

	var decoded classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode classify response: %w", err)
	}

	intent := strings.ToUpper(strings.TrimSpace(decoded.Intent))
	if !models.ValidIntent(intent) {
		intent = models.IntentUnclear
	}

	// Slot ids from the service are suggestions; only a presented id counts.
	resolvedSlot := ""
	if decoded.SlotID != "" {
		for _, p := range presented {
			if p.SlotID == decoded.SlotID {
				resolvedSlot = decoded.SlotID
				break
			}
		}
	}

	return &models.IntentResult{
		Intent:         intent,
		Confidence:     decoded.Confidence,
		ExtractedData:  decoded.Extracted,
		ResponseText:   Truncate(decoded.ResponseText),
		NeedsInfo:      decoded.NeedsInfo,
		ResolvedSlotID: resolvedSlot,
	}, nil
}

// Truncate clips a reply to the SMS ceiling, marking the cut.
func Truncate(text string) string {
	if len(text) <= MaxReplyLength {
		return text
	}
	return text[:MaxReplyLength-3] + "..."
}
