package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/service"
	"github.com/noah-isme/gema-autograder-api/internal/utils"
)

const submittedFilesField = "submitted_files"

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service      service.SubmissionService
	logger       zerolog.Logger
	createGuards []fiber.Handler
}

// NewSubmissionHandler builds a submission handler instance. createGuards run
// in front of submission uploads, typically a rate limiter.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger, createGuards ...fiber.Handler) *SubmissionHandler {
	return &SubmissionHandler{
		service:      service,
		logger:       logger.With().Str("component", "submission_handler").Logger(),
		createGuards: createGuards,
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Get("/groups/:id/submissions", h.list)
	router.Post("/groups/:id/submissions", append(h.createGuards, h.create)...)
	router.Post("/submissions/:id/remove-from-queue", h.removeFromQueue)
	router.Patch("/submissions/:id", h.updateLimits)
}

// RegisterInternal attaches the grader callback routes. The router must only
// admit system callers.
func (h *SubmissionHandler) RegisterInternal(router fiber.Router) {
	router.Patch("/submissions/:id/status", h.updateStatus)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	groupID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submissions, err := h.service.List(withRequestContext(c), userIDFromContext(c), groupID)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	groupID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form with submitted_files is required")
	}

	submission, err := h.service.Create(withRequestContext(c), userIDFromContext(c), groupID, form.File[submittedFilesField])
	if err != nil {
		if service.IsIntakeViolation(err) {
			requestLogger(h.logger, c).Info().Err(err).Uint("group_id", groupID).Msg("submission rejected")
		}
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission received", submission)
}

func (h *SubmissionHandler) removeFromQueue(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.RemoveFromQueue(withRequestContext(c), userIDFromContext(c), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission removed from queue", submission)
}

func (h *SubmissionHandler) updateLimits(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmissionLimitsUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.UpdateLimits(withRequestContext(c), userIDFromContext(c), id, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission updated", submission)
}

func (h *SubmissionHandler) updateStatus(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.SubmissionStatusUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.UpdateStatus(withRequestContext(c), id, payload)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission status updated", submission)
}
