// Package http exposes the message submission API.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kart-io/msgbus/pkg/bus"
	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
)

// SubmitRequest is the POST /messages body. Overrides are ad-hoc recipient
// addresses per channel, merged with the subscription-resolved audience.
type SubmitRequest struct {
	Message struct {
		UUID     string `json:"uuid,omitempty"`
		Sender   string `json:"sender"`
		Category string `json:"category"`
		Title    string `json:"title"`
		Content  string `json:"content"`
	} `json:"message"`
	Overrides map[string][]string `json:"overrides,omitempty"`
}

// MessageHandler serves message submission and status lookup.
type MessageHandler struct {
	Dispatcher      *bus.Dispatcher
	Messages        message.Store
	DeliveryLogs    message.DeliveryLogStore
	DispatchTimeout time.Duration
	Logger          logger.Logger
}

// Submit accepts a message, dispatches it synchronously, and returns the
// per-channel outcomes.
func (h *MessageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrBadRequest, "invalid request body"))
		return
	}

	msg := message.New(req.Message.Sender, req.Message.Category, req.Message.Title, req.Message.Content).
		WithUUID(req.Message.UUID)
	if err := msg.Validate(); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if h.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.DispatchTimeout)
		defer cancel()
	}

	receipt, err := h.Dispatcher.Dispatch(ctx, msg, req.Overrides)
	if err != nil {
		if be := busErrorOf(err); be != nil {
			be.WithRequestID(RequestIDFrom(r.Context()))
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// Get returns a message's current state and its delivery log.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	msg, err := h.Messages.GetByUUID(r.Context(), uuid)
	if err != nil {
		writeError(w, errors.Wrap(err, errors.ErrStore, "load message"))
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
		return
	}

	resp := struct {
		Message    *message.Message       `json:"message"`
		Deliveries []*message.DeliveryLog `json:"deliveries,omitempty"`
	}{Message: msg}

	if h.DeliveryLogs != nil {
		if logs, err := h.DeliveryLogs.ByMessageUUID(r.Context(), uuid); err == nil {
			resp.Deliveries = logs
		} else if h.Logger != nil {
			h.Logger.Warn("Failed to load delivery log", "uuid", uuid, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Healthz is the liveness probe.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// busErrorOf walks the error chain for a BusError.
func busErrorOf(err error) *errors.BusError {
	var be *errors.BusError
	if stderrors.As(err, &be) {
		return be
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]interface{}{"error": err.Error()}

	if be := busErrorOf(err); be != nil {
		status = errors.HTTPStatus(be.Code)
		body["code"] = be.Code
		if be.RequestID != "" {
			body["request_id"] = be.RequestID
		}
	}
	writeJSON(w, status, body)
}
