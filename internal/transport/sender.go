package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slotline/internal/config"

	"github.com/rs/zerolog"
)

// Sender delivers SMS through the provider's REST API. The request shape
// follows the common form-encoded messaging API: To, From, Body in, a
// JSON envelope with the message sid out.
type Sender struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	fromNumber string
	logger     *zerolog.Logger
}

func NewSender(baseURL string, cfg config.TransportConfig, logger *zerolog.Logger) *Sender {
	return &Sender{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		logger:     logger,
	}
}

type sendResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (s *Sender) Send(ctx context.Context, toPhone, body string) (string, error) {
	form := url.Values{}
	form.Set("To", toPhone)
	form.Set("From", s.fromNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/Messages.json",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", s.authToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode send response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider rejected message: status %d code %s: %s",
			resp.StatusCode, decoded.ErrorCode, decoded.ErrorMessage)
	}

	s.logger.Debug().Str("sid", decoded.SID).Str("to", toPhone).Msg("Message accepted by provider")
	return decoded.SID, nil
}
