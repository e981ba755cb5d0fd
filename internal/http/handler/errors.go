package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/ClickURL/internal/app/media"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository"
	"github.com/sifan077/ClickURL/internal/app/service"
	"go.uber.org/zap"
)

// respondError maps domain errors onto HTTP responses. Unknown errors are
// logged and reported as 500 without detail.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var (
		verr   *service.ValidationError
		denied *model.AccessDeniedError
	)

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.As(err, &denied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":      denied.Reason.Message(),
			"reason":     denied.Reason,
			"short_code": denied.ShortCode,
		})
	case errors.Is(err, repository.ErrLinkNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "short link not found",
		})
	case errors.Is(err, service.ErrQRCodeUnavailable):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "QR code not generated",
		})
	case errors.Is(err, media.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "file not found",
		})
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request timed out", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	default:
		logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func fieldError(c *fiber.Ctx, field, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation failed",
		"fields": map[string]string{field: msg},
	})
}

func userContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
