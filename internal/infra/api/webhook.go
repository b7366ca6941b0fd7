package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/adapters/payment"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/logging"
	"github.com/orryxvpn/remnawave-tg-shop/internal/infra/metrics"
	"github.com/orryxvpn/remnawave-tg-shop/internal/usecase"
)

const maxWebhookBody = 1 << 20

// handleWebhook maps the finalizer outcome to a status code: 200 tells the
// provider to stop, 503 asks it to redeliver, 400 is for bodies that will
// never parse.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := "invalid"
	status := http.StatusOK
	defer func() {
		metrics.IncWebhook(event, strconv.Itoa(status))
		metrics.ObserveWebhook(event, time.Since(start).Seconds())
	}()

	var n payment.Notification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&n); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, response{Status: "error", Reason: "invalid_json"})
		return
	}
	if err := s.validate.Struct(n); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, response{Status: "error", Reason: "invalid_payload"})
		return
	}
	event = n.Event

	obj, err := n.Object.ToModel()
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, response{Status: "error", Reason: "invalid_object"})
		return
	}
	ctx := logging.WithProviderPaymentID(r.Context(), obj.ID)
	log := logging.With(ctx, s.log)

	ev := model.NewWebhookEvent(n.Event, obj)
	if _, ok := ev.(model.UnsupportedEvent); ok {
		log.Info().Str("event", n.Event).Msg("unsupported webhook event")
		writeJSON(w, status, response{Status: "ok", Outcome: string(usecase.OutcomeIgnored), Reason: "unsupported_event"})
		return
	}
	if !model.HasReferences(ev) {
		log.Warn().Str("event", n.Event).Msg("webhook without user_id/payment_db_id metadata")
		writeJSON(w, status, response{Status: "ok", Outcome: string(usecase.OutcomeRejected), Reason: "missing_metadata"})
		return
	}

	res, err := s.finalizer.Handle(ctx, ev)
	if err != nil || res.Retryable() {
		status = http.StatusServiceUnavailable
		if err != nil {
			log.Error().Err(err).Str("event", n.Event).Msg("webhook finalization failed")
		}
		writeJSON(w, status, response{Status: "retry", Outcome: string(usecase.OutcomeRetry), Reason: res.Reason})
		return
	}
	writeJSON(w, status, response{Status: "ok", Outcome: string(res.Outcome), Reason: res.Reason})
}
