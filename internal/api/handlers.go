package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"vendorsync/internal/engine"
	"vendorsync/internal/metrics"
	"vendorsync/internal/model"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// DraftValidateHandler handles POST /v1/webhooks/draft-validate/{productID}.
// The signature check runs over the raw body before anything is parsed; an
// unverified payload is never processed.
func (s *Server) DraftValidateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	productID := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/draft-validate/")
	if productID == "" || strings.Contains(productID, "/") {
		writeProblem(w, http.StatusNotFound, "unknown product", "", r.URL.Path)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "unreadable body", err.Error(), r.URL.Path)
		return
	}

	if !s.Auth.Verify(productID, body, r.Header.Get("X-Signature")) {
		metrics.WebhookVerifications.WithLabelValues("rejected").Inc()
		s.Log.Warn("webhook signature rejected", zap.String("product_id", productID))
		writeProblem(w, http.StatusUnauthorized, "invalid signature", "", r.URL.Path)
		return
	}
	metrics.WebhookVerifications.WithLabelValues("accepted").Inc()

	var draft model.Order
	if err := json.Unmarshal(body, &draft); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed draft order", err.Error(), r.URL.Path)
		return
	}
	if draft.ProductID == "" {
		draft.ProductID = productID
	}
	if draft.Type == "" {
		draft.Type = model.OrderTypePurchase
	}

	validated, err := s.Engine.ValidateDraft(r.Context(), draft)
	if err != nil {
		var vErr *engine.ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusOK, map[string]any{
				"valid": false,
				"error": map[string]string{"reason": vErr.Reason, "message": vErr.Message},
				"order": validated,
			})
			return
		}
		s.Log.Error("draft validation failed",
			zap.String("order_id", draft.ID), zap.Error(err))
		writeProblem(w, http.StatusBadGateway, "validation unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "order": validated})
}

// EventStreamHandler streams engine order events over SSE.
func (s *Server) EventStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": stream open\n\n")
	flusher.Flush()

	ch := s.Broker.Subscribe()
	defer s.Broker.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}
