package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourorg/payment-gateway/internal/apperr"
	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/monitor"
	"github.com/yourorg/payment-gateway/internal/service"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler holds the dependencies of every endpoint.
type Handler struct {
	svc       *service.PaymentService
	contracts *monitor.ContractMonitor
	logger    *slog.Logger
}

func NewHandler(svc *service.PaymentService, contracts *monitor.ContractMonitor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, contracts: contracts, logger: logger}
}

// responseEnvelope is the success body of a payment operation. Data and
// ProviderResponse are re-emitted byte for byte from the stored response,
// so a replayed operation returns exactly what the first execution did.
type responseEnvelope struct {
	Data             json.RawMessage `json:"data"`
	ProviderResponse json.RawMessage `json:"providerResponse,omitempty"`
	Cached           bool            `json:"cached"`
}

type errorBody struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) CreatePayment(c *gin.Context) {
	key, ok := h.idempotencyKey(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		h.writeError(c, apperr.Wrap(apperr.KindValidationFailed, "reading request body", err))
		return
	}
	if err := h.contracts.Validate(monitor.ContractCreatePayment, body); err != nil {
		h.writeError(c, err)
		return
	}

	res, err := h.svc.CreatePayment(c.Request.Context(), key, body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	// A replayed create reports 200: the payment already exists.
	status := res.StatusCode
	if res.Cached && status == http.StatusCreated {
		status = http.StatusOK
	}
	h.writeResult(c, status, res)
}

func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := h.paymentID(c)
	if !ok {
		return
	}
	payment, err := h.svc.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (h *Handler) ConfirmPayment(c *gin.Context) {
	h.lifecycleCall(c, monitor.ContractConfirmPayment, h.svc.ConfirmPayment)
}

func (h *Handler) RefundPayment(c *gin.Context) {
	h.lifecycleCall(c, monitor.ContractRefundPayment, h.svc.RefundPayment)
}

func (h *Handler) Webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		h.writeError(c, apperr.Wrap(apperr.KindValidationFailed, "reading webhook payload", err))
		return
	}

	ack, err := h.svc.HandleWebhook(c.Request.Context(), c.Param("provider"), payload, c.Request.Header)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": ack})
}

func (h *Handler) lifecycleCall(
	c *gin.Context,
	contract string,
	call func(ctx context.Context, key string, id uuid.UUID, body []byte) (idempotency.Result, error),
) {
	key, ok := h.idempotencyKey(c)
	if !ok {
		return
	}
	id, ok := h.paymentID(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		h.writeError(c, apperr.Wrap(apperr.KindValidationFailed, "reading request body", err))
		return
	}
	if err := h.contracts.Validate(contract, body); err != nil {
		h.writeError(c, err)
		return
	}

	res, err := call(c.Request.Context(), key, id, body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeResult(c, res.StatusCode, res)
}

func (h *Handler) idempotencyKey(c *gin.Context) (string, bool) {
	key := c.GetHeader(idempotencyKeyHeader)
	if key == "" {
		h.writeError(c, apperr.New(apperr.KindIdempotencyKeyRequired,
			"the "+idempotencyKeyHeader+" header is required for this operation"))
		return "", false
	}
	return key, true
}

func (h *Handler) paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.writeError(c, apperr.Wrap(apperr.KindValidationFailed, "invalid payment id", err))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeResult(c *gin.Context, status int, res idempotency.Result) {
	if res.Cached {
		monitor.IdempotencyOutcomesTotal.WithLabelValues(monitor.IdempotencyReplayed).Inc()
	} else {
		monitor.IdempotencyOutcomesTotal.WithLabelValues(monitor.IdempotencyExecuted).Inc()
	}

	var env responseEnvelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		h.writeError(c, apperr.Internal("decoding stored response", err))
		return
	}
	env.Cached = res.Cached
	c.JSON(status, env)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	appErr := apperr.FromError(err)

	switch appErr.Kind {
	case apperr.KindIdempotencyKeyConflict:
		monitor.IdempotencyOutcomesTotal.WithLabelValues(monitor.IdempotencyConflict).Inc()
	case apperr.KindIdempotencyKeyLocked:
		monitor.IdempotencyOutcomesTotal.WithLabelValues(monitor.IdempotencyLocked).Inc()
	}

	if appErr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "Request failed",
			"error", err, "path", c.FullPath(), "kind", string(appErr.Kind))
	}

	c.JSON(appErr.Status, gin.H{"error": errorBody{
		Message: appErr.Message,
		Code:    string(appErr.Kind),
		Details: appErr.Details,
	}})
}
