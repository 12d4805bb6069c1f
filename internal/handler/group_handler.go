package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/service"
	"github.com/noah-isme/gema-autograder-api/internal/utils"
)

// GroupHandler manages how users form groups.
type GroupHandler struct {
	service service.GroupService
	logger  zerolog.Logger
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(service service.GroupService, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{
		service: service,
		logger:  logger.With().Str("component", "group_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *GroupHandler) Register(router fiber.Router) {
	router.Post("/projects/:id/group-invitations", h.invite)
	router.Post("/projects/:id/groups/solo", h.createSolo)
	router.Post("/group-invitations/:id/accept", h.accept)
	router.Delete("/group-invitations/:id", h.reject)
}

func (h *GroupHandler) invite(c *fiber.Ctx) error {
	projectID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GroupInvitationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	invitation, err := h.service.Invite(withRequestContext(c), userIDFromContext(c), projectID, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group invitation sent", invitation)
}

func (h *GroupHandler) createSolo(c *fiber.Ctx) error {
	projectID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	group, err := h.service.CreateSoloGroup(withRequestContext(c), userIDFromContext(c), projectID)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group created", group)
}

func (h *GroupHandler) accept(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.Accept(withRequestContext(c), userIDFromContext(c), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	if result.Group != nil {
		return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group created", result)
	}
	return utils.SendSuccess(c, "group invitation accepted", result)
}

func (h *GroupHandler) reject(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Reject(withRequestContext(c), userIDFromContext(c), id); err != nil {
		return writeError(c, h.logger, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
