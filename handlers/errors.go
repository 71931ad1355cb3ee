package handlers

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"nextbb-automation/services"
)

// respondError maps service errors onto status codes.
func respondError(c *fiber.Ctx, msg string, err error) error {
	status := fiber.StatusInternalServerError
	var se *services.SchedulerError
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidAmount):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInsufficientBalance):
		status = fiber.StatusConflict
	case errors.As(err, &se):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrBusClosed):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = fiber.StatusGatewayTimeout
	}

	body := fiber.Map{"error": msg, "cause": err.Error()}
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		body["problems"] = ve.Problems
	}
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ %s %s: %s: %v", c.Method(), c.Path(), msg, err)
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string, err error) error {
	body := fiber.Map{"error": msg}
	if err != nil {
		body["cause"] = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}
