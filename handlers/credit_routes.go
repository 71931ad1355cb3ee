package handlers

import (
	"github.com/gofiber/fiber/v2"

	"nextbb-automation/middleware"
	"nextbb-automation/models"
	"nextbb-automation/services"
)

func SetupCreditRoutes(app *fiber.App, ledger *services.Ledger, badges *services.BadgeService, subjects *services.SubjectService) {
	// 🔐 Secured routes: require user context
	user := app.Group("/user", middleware.UserContextMiddleware())

	user.Get("/credits", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		balance, err := ledger.Balance(c.UserContext(), userID)
		if err != nil {
			return respondError(c, "failed to load balance", err)
		}
		return c.JSON(fiber.Map{"user_id": userID, "credits": balance})
	})

	user.Get("/credits/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		page := c.QueryInt("page", 1)
		entries, total, err := ledger.History(c.UserContext(), userID, page, c.QueryInt("size", 20))
		if err != nil {
			return respondError(c, "failed to load credit history", err)
		}
		return c.JSON(fiber.Map{"entries": entries, "total": total, "page": page})
	})

	user.Get("/badges", func(c *fiber.Ctx) error {
		list, err := badges.ListForUser(c.UserContext(), c.Locals("user_id").(string))
		if err != nil {
			return respondError(c, "failed to load badges", err)
		}
		return c.JSON(list)
	})

	// 🔐 Admin routes
	adminOnly := []fiber.Handler{middleware.UserContextMiddleware(), middleware.RequireRole("admin")}
	credits := app.Group("/s/admin/credits", adminOnly...)

	credits.Post("/change", func(c *fiber.Ctx) error {
		var req services.ChangeRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid change payload", err)
		}
		if req.Type == "" {
			req.Type = models.LedgerTypeAdminAdjust
		}
		balance, err := ledger.Change(c.UserContext(), req.UserID, req.Amount, req.Type, req.Description, req.Reference)
		if err != nil {
			return respondError(c, "credit change failed", err)
		}
		return c.JSON(fiber.Map{"user_id": req.UserID, "balance": balance})
	})

	credits.Post("/batch", func(c *fiber.Ctx) error {
		var body struct {
			Changes []services.ChangeRequest `json:"changes"`
		}
		if err := c.BodyParser(&body); err != nil || len(body.Changes) == 0 {
			return badRequest(c, "body must be {\"changes\": [...]}", err)
		}
		for i := range body.Changes {
			if body.Changes[i].Type == "" {
				body.Changes[i].Type = models.LedgerTypeAdminAdjust
			}
		}
		results, err := ledger.BatchChange(c.UserContext(), body.Changes)
		if err != nil {
			return respondError(c, "batch change failed", err)
		}
		return c.JSON(fiber.Map{"results": results})
	})

	app.Group("/s/admin/users", adminOnly...).Get("/search", func(c *fiber.Ctx) error {
		res, err := subjects.Search(c.UserContext(), c.Query("q"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, "search failed", err)
		}
		return c.JSON(res)
	})

	app.Group("/s/admin/badges", adminOnly...).Post("/", func(c *fiber.Ctx) error {
		var badge models.Badge
		if err := c.BodyParser(&badge); err != nil {
			return badRequest(c, "invalid badge payload", err)
		}
		if err := badges.Create(c.UserContext(), &badge); err != nil {
			return respondError(c, "failed to create badge", err)
		}
		return c.Status(fiber.StatusCreated).JSON(badge)
	})
}
