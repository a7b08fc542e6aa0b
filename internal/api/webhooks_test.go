package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"slotline/internal/config"
	"slotline/internal/conversation"
	"slotline/internal/database"
	"slotline/internal/events"
	"slotline/internal/models"
	"slotline/internal/nlu"
	"slotline/internal/repository"
	"slotline/internal/service"
	"slotline/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopQueue struct {
	mu    sync.Mutex
	count int
}

func (q *noopQueue) Enqueue(ctx context.Context, messageID, contactID, phone, body string, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.count++
	return nil
}

func setupServer(t *testing.T, mutate func(*config.Config)) (*HTTPServer, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Server.Port = 0
	cfg.Transport = config.TransportConfig{AuthToken: "hook-secret"}
	cfg.Conversation = config.ConversationConfig{
		TTLHours:          2,
		MaxRetries:        3,
		PresentLimit:      5,
		SearchWindowDays:  7,
		RateLimitMessages: 50,
		RateLimitWindow:   60,
	}
	cfg.NLU = config.NLUConfig{BusinessName: "Acme Cuts", SupportNumber: "+15559990000"}
	if mutate != nil {
		mutate(cfg)
	}

	bus := events.NewEventBus()
	svc := service.NewBookingService(db, bus, config.BookingConfig{MaxWindowDays: 90}, &logger)
	guard := repository.NewMemoryGuard(time.Hour)
	orch := conversation.NewOrchestrator(
		svc, db, db, db,
		nlu.NewRulesClassifier(), guard, &noopQueue{}, bus,
		cfg.Conversation, cfg.NLU, &logger,
	)

	return NewHTTPServer(cfg, db, svc, orch, guard, &logger), db
}

func postWebhook(t *testing.T, srv *HTTPServer, path string, form url.Values, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://example.com"+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		sig := transport.ComputeSignature("hook-secret", "http://example.com"+path, form)
		req.Header.Set(signatureHeader, sig)
	}
	rr := httptest.NewRecorder()
	if path == "/webhooks/sms/status" {
		srv.handleStatusWebhook(rr, req)
	} else {
		srv.handleInboundWebhook(rr, req)
	}
	return rr
}

func inboundForm(sid, body string) url.Values {
	form := url.Values{}
	form.Set("From", "+15559870001")
	form.Set("Body", body)
	form.Set("MessageSid", sid)
	return form
}

func waitForInbound(t *testing.T, db *database.DB, phone string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		contact, err := db.GetOrCreateContactByPhone(context.Background(), phone)
		if err != nil {
			return false
		}
		messages, err := db.RecentMessages(context.Background(), contact.ID, 50)
		if err != nil {
			return false
		}
		inbound := 0
		for _, m := range messages {
			if m.Direction == models.DirectionInbound {
				inbound++
			}
		}
		return inbound == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInboundWebhook_AcceptsAndProcesses(t *testing.T) {
	srv, db := setupServer(t, nil)

	rr := postWebhook(t, srv, "/webhooks/sms/inbound", inboundForm("SM900", "hello?"), false)
	assert.Equal(t, http.StatusOK, rr.Code)

	waitForInbound(t, db, "+15559870001", 1)
}

func TestInboundWebhook_DuplicateDelivery(t *testing.T) {
	srv, db := setupServer(t, nil)

	rr := postWebhook(t, srv, "/webhooks/sms/inbound", inboundForm("SM901", "hello?"), false)
	require.Equal(t, http.StatusOK, rr.Code)
	waitForInbound(t, db, "+15559870001", 1)

	// Same MessageSid again: acknowledged but not reprocessed.
	rr = postWebhook(t, srv, "/webhooks/sms/inbound", inboundForm("SM901", "hello?"), false)
	assert.Equal(t, http.StatusOK, rr.Code)

	time.Sleep(100 * time.Millisecond)
	waitForInbound(t, db, "+15559870001", 1)
}

func TestInboundWebhook_MissingFields(t *testing.T) {
	srv, _ := setupServer(t, nil)

	form := url.Values{}
	form.Set("Body", "hello")
	rr := postWebhook(t, srv, "/webhooks/sms/inbound", form, false)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInboundWebhook_MethodNotAllowed(t *testing.T) {
	srv, _ := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/webhooks/sms/inbound", nil)
	rr := httptest.NewRecorder()
	srv.handleInboundWebhook(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestInboundWebhook_SignatureValidation(t *testing.T) {
	srv, db := setupServer(t, func(cfg *config.Config) {
		cfg.Transport.ValidateWebhook = true
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		rr := postWebhook(t, srv, "/webhooks/sms/inbound", inboundForm("SM902", "hi"), false)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("valid signature accepted", func(t *testing.T) {
		rr := postWebhook(t, srv, "/webhooks/sms/inbound", inboundForm("SM903", "hi"), true)
		assert.Equal(t, http.StatusOK, rr.Code)
		waitForInbound(t, db, "+15559870001", 1)
	})
}

func TestStatusWebhook_UpdatesMessage(t *testing.T) {
	srv, db := setupServer(t, nil)
	ctx := context.Background()

	contact, err := db.GetOrCreateContactByPhone(ctx, "+15559870002")
	require.NoError(t, err)
	msg := &models.Message{
		ContactID:   contact.ID,
		Direction:   models.DirectionOutbound,
		Body:        "confirmation",
		ProviderSID: "SM910",
		Status:      "sent",
	}
	require.NoError(t, db.RecordMessage(ctx, msg))

	form := url.Values{}
	form.Set("MessageSid", "SM910")
	form.Set("MessageStatus", "delivered")
	rr := postWebhook(t, srv, "/webhooks/sms/status", form, false)
	assert.Equal(t, http.StatusOK, rr.Code)

	messages, err := db.RecentMessages(ctx, contact.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "delivered", messages[0].Status)
}

func TestStatusWebhook_MissingFields(t *testing.T) {
	srv, _ := setupServer(t, nil)

	form := url.Values{}
	form.Set("MessageSid", "SM911")
	rr := postWebhook(t, srv, "/webhooks/sms/status", form, false)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/healthz", nil)
	rr := httptest.NewRecorder()
	srv.handleHealth(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}
