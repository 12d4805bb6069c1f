package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autograder-api/internal/feedback"
	"github.com/noah-isme/gema-autograder-api/internal/middleware"
	"github.com/noah-isme/gema-autograder-api/internal/observability"
	"github.com/noah-isme/gema-autograder-api/internal/service"
	"github.com/noah-isme/gema-autograder-api/internal/utils"
)

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	value := strings.TrimSpace(c.Params(key))
	if value == "" {
		return 0, fmt.Errorf("%s required", key)
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(parsed), nil
}

func userIDFromContext(c *fiber.Ctx) uint {
	return middleware.UserID(c)
}

func withRequestContext(c *fiber.Ctx) context.Context {
	return observability.WithCorrelationID(c.UserContext(), middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		logger = observability.Logger(withRequestContext(c), base)
	}
	return &logger
}

func isNotFound(err error) bool {
	for _, target := range []error{
		service.ErrSubmissionNotFound,
		service.ErrGroupNotFound,
		service.ErrProjectNotFound,
		service.ErrInvitationNotFound,
		feedback.ErrNoEligibleSubmission,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isRuleViolation(err error) bool {
	if service.IsIntakeViolation(err) {
		return true
	}
	for _, target := range []error{
		service.ErrGroupSize,
		service.ErrAlreadyInGroup,
		service.ErrPendingInvitation,
		service.ErrUserNotFound,
		service.ErrInvalidStatusTransition,
		feedback.ErrInvalidCategory,
		feedback.ErrSubmissionNotInGroup,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeError maps service errors onto the response envelope. Anything
// unrecognised is logged and reported as a 500.
func writeError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(validationErrors))
	case isRuleViolation(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, feedback.ErrPermissionDenied), errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "you do not have permission to perform this action")
	case isNotFound(err):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details
}
