package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"nextbb-automation/middleware"
	"nextbb-automation/models"
	"nextbb-automation/services"
)

type ruleResponse struct {
	*models.AutomationRule
	NextRun *time.Time `json:"next_run,omitempty"`
}

// SetupAutomationRoutes registers the admin rule surface under /s/admin/automation.
func SetupAutomationRoutes(app *fiber.App, rules *services.RuleStore, cron *services.CronScheduler) {
	admin := app.Group("/s/admin/automation", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	view := func(rule *models.AutomationRule) ruleResponse {
		res := ruleResponse{AutomationRule: rule}
		if cron != nil && rule.TriggerType == models.TriggerCron {
			if next, ok := cron.NextRun(rule.ID); ok && !next.IsZero() {
				res.NextRun = &next
			}
		}
		return res
	}

	admin.Post("/rules", func(c *fiber.Ctx) error {
		var in services.RuleInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid rule payload", err)
		}
		rule, err := rules.Create(c.UserContext(), in)
		if err != nil {
			if rule != nil {
				// persisted but not schedulable
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
					"error": "rule saved but could not be scheduled",
					"cause": err.Error(),
					"rule":  rule,
				})
			}
			return respondError(c, "failed to create rule", err)
		}
		return c.Status(fiber.StatusCreated).JSON(view(rule))
	})

	admin.Get("/rules", func(c *fiber.Ctx) error {
		f := services.RuleFilter{
			TriggerType: models.TriggerType(c.Query("trigger_type")),
			Query:       c.Query("q"),
			Page:        c.QueryInt("page", 1),
			Size:        c.QueryInt("size", 20),
		}
		if raw := c.Query("enabled"); raw != "" {
			enabled, err := strconv.ParseBool(raw)
			if err != nil {
				return badRequest(c, "enabled must be true or false", err)
			}
			f.Enabled = &enabled
		}
		list, total, err := rules.List(c.UserContext(), f)
		if err != nil {
			return respondError(c, "failed to list rules", err)
		}
		out := make([]ruleResponse, len(list))
		for i := range list {
			out[i] = view(&list[i])
		}
		return c.JSON(fiber.Map{"rules": out, "total": total, "page": f.Page})
	})

	admin.Get("/rules/:id", func(c *fiber.Ctx) error {
		rule, err := rules.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to load rule", err)
		}
		return c.JSON(view(rule))
	})

	admin.Put("/rules/:id", func(c *fiber.Ctx) error {
		var up services.RuleUpdate
		if err := c.BodyParser(&up); err != nil {
			return badRequest(c, "invalid rule payload", err)
		}
		rule, err := rules.Update(c.UserContext(), c.Params("id"), up)
		if err != nil {
			return respondError(c, "failed to update rule", err)
		}
		return c.JSON(view(rule))
	})

	admin.Patch("/rules/:id/enabled", func(c *fiber.Ctx) error {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := c.BodyParser(&body); err != nil || body.Enabled == nil {
			return badRequest(c, "body must be {\"enabled\": bool}", err)
		}
		rule, err := rules.SetEnabled(c.UserContext(), c.Params("id"), *body.Enabled)
		if err != nil {
			return respondError(c, "failed to toggle rule", err)
		}
		return c.JSON(view(rule))
	})

	admin.Delete("/rules/:id", func(c *fiber.Ctx) error {
		if err := rules.Delete(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, "failed to delete rule", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/rules/:id/run", func(c *fiber.Ctx) error {
		if cron == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "scheduler not running"})
		}
		summary, err := cron.FireRule(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to run rule", err)
		}
		return c.JSON(summary)
	})

	admin.Get("/rules/:id/logs", func(c *fiber.Ctx) error {
		rule, err := rules.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, "failed to load rule", err)
		}
		page := c.QueryInt("page", 1)
		logs, total, err := rules.Logs(c.UserContext(), rule.ID, page, c.QueryInt("size", 20))
		if err != nil {
			return respondError(c, "failed to load run logs", err)
		}
		return c.JSON(fiber.Map{"logs": logs, "total": total, "page": page})
	})
}
