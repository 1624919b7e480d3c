package intake

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"equity-auto-trader/internal/broker"
	"equity-auto-trader/internal/domain"
)

// webhookPayload is the charting collaborator's alert body. Unknown
// fields are ignored.
type webhookPayload struct {
	Action   string `json:"action"`
	Ticker   string `json:"ticker"`
	Market   string `json:"market"`
	Exchange string `json:"exchange"`
	Token    string `json:"token"`
}

type webhookResponse struct {
	Status     string `json:"status"`
	Instrument string `json:"instrument,omitempty"`
	Quantity   int64  `json:"quantity,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// WebhookHandler exposes the intake over HTTP for alert delivery.
type WebhookHandler struct {
	intake *Intake
	secret string
	logger *zap.Logger
	now    func() time.Time
}

func NewWebhookHandler(intake *Intake, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{intake: intake, secret: secret, logger: logger, now: time.Now}
}

// Register mounts the handler on the router at path.
func (h *WebhookHandler) Register(router *mux.Router, path string) {
	router.HandleFunc(path, h.handle).Methods(http.MethodPost)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "rejected", Reason: "invalid json"})
		return
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(payload.Token), []byte(h.secret)) != 1 {
		writeJSON(w, http.StatusForbidden, webhookResponse{Status: "rejected", Reason: "bad token"})
		return
	}

	sig := domain.Signal{
		Action:     payload.Action,
		Instrument: payload.Ticker,
		Market:     payload.Market,
		Exchange:   payload.Exchange,
		ReceivedAt: h.now(),
	}
	pos, err := h.intake.Accept(r.Context(), sig)
	if err != nil {
		h.writeError(w, sig, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		Status:     "entered",
		Instrument: pos.Instrument,
		Quantity:   pos.EntryQty,
	})
}

func (h *WebhookHandler) writeError(w http.ResponseWriter, sig domain.Signal, err error) {
	var rerr *RejectError
	if errors.As(err, &rerr) {
		status := http.StatusBadRequest
		if rerr.Reason == domain.RejectDuplicatePosition {
			status = http.StatusConflict
		}
		writeJSON(w, status, webhookResponse{Status: "rejected", Instrument: sig.Instrument, Reason: rerr.Reason})
		return
	}
	var oerr *broker.OrderError
	if errors.As(err, &oerr) {
		writeJSON(w, http.StatusUnprocessableEntity, webhookResponse{
			Status:     "order_failed",
			Instrument: sig.Instrument,
			Reason:     string(oerr.Code),
		})
		return
	}
	h.logger.Error("webhook entry failed", zap.String("instrument", sig.Instrument), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: "error", Instrument: sig.Instrument})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
