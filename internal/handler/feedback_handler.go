package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/service"
	"github.com/noah-isme/gema-autograder-api/internal/utils"
)

// FeedbackHandler serves submission results and ultimate submissions.
type FeedbackHandler struct {
	service   service.FeedbackService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewFeedbackHandler constructs a FeedbackHandler.
func NewFeedbackHandler(service service.FeedbackService, validator *validator.Validate, logger zerolog.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "feedback_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *FeedbackHandler) Register(router fiber.Router) {
	router.Get("/submissions/:id/results", h.results)
	router.Get("/groups/:id/ultimate-submission", h.groupUltimate)
	router.Get("/projects/:id/ultimate-submissions", h.ultimateSubmissions)
}

func (h *FeedbackHandler) results(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	query := dto.FeedbackQuery{UseCache: true}
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.service.SubmissionFeedback(withRequestContext(c), userIDFromContext(c), id, query)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission results retrieved", result)
}

func (h *FeedbackHandler) groupUltimate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.GroupUltimateSubmission(withRequestContext(c), userIDFromContext(c), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "ultimate submission retrieved", submission)
}

func (h *FeedbackHandler) ultimateSubmissions(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var query dto.UltimateSubmissionsQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	if err := h.validator.Struct(query); err != nil {
		return writeError(c, h.logger, err)
	}

	result, err := h.service.UltimateSubmissions(withRequestContext(c), userIDFromContext(c), id, query)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return utils.OK(c, result.Items, "ultimate submissions retrieved", result.Pagination)
}
