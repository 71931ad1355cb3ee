package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"nextbb-automation/services"
)

// SetupEventRoutes exposes event emission to collaborators. Emission is fire-and-forget:
// the response only says whether the event was accepted.
func SetupEventRoutes(app *fiber.App, bus *services.EventBus) {
	app.Post("/events", func(c *fiber.Ctx) error {
		var evt services.Event
		if err := c.BodyParser(&evt); err != nil {
			return badRequest(c, "invalid event payload", err)
		}
		if evt.ID == "" {
			evt.ID = uuid.NewString()
		}
		if err := bus.Emit(c.UserContext(), evt); err != nil {
			return respondError(c, "event rejected", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
			"id":     evt.ID,
		})
	})
}
