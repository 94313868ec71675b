package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/deskflow/helpdesk-engine/internal/api/dto"
	"github.com/deskflow/helpdesk-engine/internal/auth"
	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/repository"
	"github.com/deskflow/helpdesk-engine/internal/service"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

// TicketsHandler serves the agent ticket endpoints.
type TicketsHandler struct {
	tickets     *service.TicketService
	assignments *service.AssignmentService
	composer    *service.Composer
	now         func() time.Time
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, assignments *service.AssignmentService, composer *service.Composer) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, assignments: assignments, composer: composer, now: time.Now}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	agent, err := agentFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	requester := domain.Author{
		ID:    req.Requester.ID,
		Name:  req.Requester.Name,
		Email: req.Requester.Email,
		Type:  domain.AuthorTypeCustomer,
	}
	input := service.TicketCreateInput{
		Subject:      req.Subject,
		Description:  req.Description,
		CompanyID:    req.CompanyID,
		ContactID:    req.ContactID,
		OrderID:      req.OrderID,
		Priority:     req.Priority,
		Type:         req.Type,
		Channel:      req.Channel,
		Team:         req.Team,
		Tags:         req.Tags,
		CustomFields: req.CustomFields,
		Requester:    requester,
		Actor:        agent.Actor(),
	}
	if strings.TrimSpace(req.Description) != "" {
		input.FirstMessage = &service.MessageInput{
			Kind:   domain.MessageKindPublicReply,
			Body:   strings.TrimSpace(req.Description),
			Author: requester,
		}
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	input := service.TicketListInput{
		Team:      optionalQuery(c, "team"),
		OwnerID:   optionalQuery(c, "owner_id"),
		CompanyID: optionalQuery(c, "company_id"),
		Search:    optionalQuery(c, "search"),
		Page:      parseInt(c.Query("page"), 1),
		PageSize:  parseInt(c.Query("page_size"), 0),
	}
	for _, part := range splitList(c.Query("status")) {
		input.Statuses = append(input.Statuses, domain.TicketStatus(part))
	}
	for _, part := range splitList(c.Query("priority")) {
		input.Priorities = append(input.Priorities, domain.TicketPriority(part))
	}
	if sort := strings.TrimSpace(c.Query("sort")); sort != "" {
		input.SortDesc = strings.HasPrefix(sort, "-")
		input.SortField = repository.TicketSortField(strings.TrimPrefix(sort, "-"))
	}

	page, err := h.tickets.ListTickets(c.UserContext(), input)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(page.Tickets))
	for i := range page.Tickets {
		items = append(items, h.ticketResponse(&page.Tickets[i]))
	}
	return c.JSON(dto.TicketListResponse{Data: items, Total: page.Total, Page: page.Page, PageSize: page.PageSize})
}

// SearchTickets GET /tickets/search.
func (h *TicketsHandler) SearchTickets(c *fiber.Ctx) error {
	tickets, err := h.tickets.SearchTickets(c.UserContext(), c.Query("q"), parseInt(c.Query("limit"), 0))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, h.ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// Timeline GET /tickets/:id/timeline. Internal notes are hidden with
// ?view=customer.
func (h *TicketsHandler) Timeline(c *fiber.Ctx) error {
	includeInternal := c.Query("view") != "customer"
	entries, err := h.tickets.Timeline(c.UserContext(), c.Params("id"), includeInternal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTimelineResponse(entries)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	agent, err := agentFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.MessageKindPublicReply
	}
	msg, err := h.composer.Reply(c.UserContext(), c.Params("id"), service.ReplyInput{
		Kind:        kind,
		Body:        req.Body,
		Author:      agent.Author(),
		Attachments: req.Attachments,
	})
	if msg == nil {
		return err
	}
	resp := fiber.Map{"data": dto.NewMessageResponse(msg)}
	if err != nil {
		// The reply is stored; only delivery failed.
		resp["delivery"] = fiber.Map{"sent": false, "error": apperrors.ToDomainError(err).Message}
	}
	return c.Status(http.StatusCreated).JSON(resp)
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	agent, err := agentFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if !req.Status.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": req.Status})
	}
	ticket, err := h.tickets.UpdateStatus(c.UserContext(), c.Params("id"), req.Status, agent.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// UpdatePriority PATCH /tickets/:id/priority.
func (h *TicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	agent, err := agentFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.UpdatePriority(c.UserContext(), c.Params("id"), req.Priority, agent.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// Assign PATCH /tickets/:id/assignment.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	agent, err := agentFrom(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.assignments.Assign(c.UserContext(), c.Params("id"), service.AssignInput{
		OwnerID: req.OwnerID,
		Team:    req.Team,
	}, agent.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(ticket)})
}

// Merge POST /tickets/:id/merge.
func (h *TicketsHandler) Merge(c *fiber.Ctx) error {
	agent, err := agentFrom(c)
	if err != nil {
		return err
	}
	var req dto.MergeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.TargetID) == "" {
		return apperrors.NewValidationError("target_id required", map[string]any{"field": "target_id"})
	}
	target, err := h.tickets.MergeTickets(c.UserContext(), c.Params("id"), req.TargetID, agent.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.ticketResponse(target)})
}

// Split POST /tickets/:id/split.
func (h *TicketsHandler) Split(c *fiber.Ctx) error {
	agent, err := agentFrom(c)
	if err != nil {
		return err
	}
	var req dto.SplitRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.MessageID) == "" {
		return apperrors.NewValidationError("message_id required", map[string]any{"field": "message_id"})
	}
	created, err := h.tickets.SplitTicket(c.UserContext(), c.Params("id"), req.MessageID, agent.Actor())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": h.ticketResponse(created)})
}

func (h *TicketsHandler) ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.NewTicketResponse(ticket, service.AllowedTransitions(ticket.Status), h.now())
}

func agentFrom(c *fiber.Ctx) (*domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal == nil {
		return nil, apperrors.NewUnauthorized("agent required")
	}
	return principal, nil
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil
	}
	return &val
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
