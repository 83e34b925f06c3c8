package serverutils

import (
	"errors"

	"section-collab-be/pkg/collaberr"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by handlers into the JSON error body.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Code, "HTTP_ERROR", fiberErr.Message, nil))
		}

		status := collaberr.StatusCode(err)
		var details interface{}
		var denied *collaberr.LockDeniedError
		if errors.As(err, &denied) {
			details = fiber.Map{"section_id": denied.SectionId, "holder": denied.Holder}
		}

		message := err.Error()
		if status == fiber.StatusInternalServerError {
			message = "internal server error"
		}
		return ctx.Status(status).JSON(ErrorResponse(status, collaberr.Code(err), message, details))
	}
}
