package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/deskflow/helpdesk-engine/internal/api/dto"
	"github.com/deskflow/helpdesk-engine/internal/mail"
	"github.com/deskflow/helpdesk-engine/internal/service"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

// Ingester consumes one provider payload.
type Ingester interface {
	IngestPayload(ctx context.Context, payload mail.Payload) (*service.IngestResult, error)
}

// InboundHandler receives provider webhook deliveries.
type InboundHandler struct {
	ingester Ingester
}

// NewInboundHandler constructs handler.
func NewInboundHandler(ingester Ingester) *InboundHandler {
	return &InboundHandler{ingester: ingester}
}

// ReceiveEmail POST /inbound/email. Processed and duplicate deliveries
// answer 200; a message still being processed elsewhere answers 409 so the
// provider redelivers it later.
func (h *InboundHandler) ReceiveEmail(c *fiber.Ctx) error {
	var payload mail.Payload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.ingester.IngestPayload(c.UserContext(), payload)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewInboundResponse(result)})
}
