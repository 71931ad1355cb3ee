package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("s3cret"))
	app.Get("/open", func(c *fiber.Ctx) error { return c.SendString("ok") })

	admin := app.Group("/admin", UserContextMiddleware(), RequireRole("admin"))
	admin.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app
}

func TestMiddlewareChain(t *testing.T) {
	app := newApp()

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"no token", "/open", nil, fiber.StatusUnauthorized},
		{"wrong token", "/open", map[string]string{"Authorization": "Bearer nope"}, fiber.StatusUnauthorized},
		{"bearer token", "/open", map[string]string{"Authorization": "Bearer s3cret"}, fiber.StatusOK},
		{"raw token", "/open", map[string]string{"Authorization": "s3cret"}, fiber.StatusOK},
		{"no user", "/admin/whoami", map[string]string{"Authorization": "s3cret"}, fiber.StatusUnauthorized},
		{"not admin", "/admin/whoami", map[string]string{"Authorization": "s3cret", "X-User-ID": "u1", "X-User-Roles": "user"}, fiber.StatusForbidden},
		{"admin", "/admin/whoami", map[string]string{"Authorization": "s3cret", "X-User-ID": "u1", "X-User-Roles": "user, admin"}, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
