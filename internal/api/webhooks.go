package api

import (
	"context"
	"net/http"
	"time"

	"slotline/internal/metrics"
	"slotline/internal/transport"
)

const signatureHeader = "X-Provider-Signature"

// handleInboundWebhook is the SMS intake. The provider retries on non-2xx
// and on slow responses, so the handler acknowledges immediately after
// the dedup claim and processes the turn in the background.
func (s *HTTPServer) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	if s.cfg.Transport.ValidateWebhook {
		received := r.Header.Get(signatureHeader)
		if !transport.ValidSignature(s.cfg.Transport.AuthToken, requestURL(r), r.PostForm, received) {
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Webhook signature rejected")
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	messageSID := r.PostForm.Get("MessageSid")
	if from == "" || messageSID == "" {
		writeError(w, http.StatusBadRequest, "From and MessageSid are required")
		return
	}

	fresh, err := s.guard.CheckAndMark(r.Context(), messageSID)
	if err != nil {
		// The guard's failover already absorbed a Redis outage; an error
		// here means both layers failed. Accept the message: a rare
		// duplicate beats a dropped booking.
		s.logger.Error().Err(err).Str("message_sid", messageSID).Msg("Idempotency check failed")
		fresh = true
	}
	if !fresh {
		metrics.IncInbound("duplicate")
		s.logger.Info().Str("message_sid", messageSID).Msg("Duplicate webhook delivery ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.orch.HandleInbound(ctx, from, body, messageSID); err != nil {
			s.logger.Error().Err(err).Str("message_sid", messageSID).Msg("Inbound processing failed")
		}
	}()

	w.WriteHeader(http.StatusOK)
}

// handleStatusWebhook applies delivery-status callbacks to the message log.
func (s *HTTPServer) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	if s.cfg.Transport.ValidateWebhook {
		received := r.Header.Get(signatureHeader)
		if !transport.ValidSignature(s.cfg.Transport.AuthToken, requestURL(r), r.PostForm, received) {
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	sid := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	errorCode := r.PostForm.Get("ErrorCode")
	if sid == "" || status == "" {
		writeError(w, http.StatusBadRequest, "MessageSid and MessageStatus are required")
		return
	}

	if err := s.db.UpdateMessageStatusBySID(r.Context(), sid, status, errorCode); err != nil {
		s.logger.Error().Err(err).Str("message_sid", sid).Msg("Failed to apply status callback")
		writeError(w, http.StatusInternalServerError, "failed to update message status")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// requestURL reconstructs the absolute URL the provider signed.
func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
