package middleware

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Rainnny7/LicenseServer/internal/database"
	"github.com/Rainnny7/LicenseServer/internal/model"
)

type staticTokens map[string]uint

func (s staticTokens) ValidateToken(token string) (uint, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid")
}

func TestAuthAndAdminOnly(t *testing.T) {
	db := database.InitTestDB()
	defer database.CleanTestDB(db)

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	admin := &model.User{Username: "admin", Password: string(hash), Role: model.RoleAdmin, Status: "active"}
	user := &model.User{Username: "bob", Password: string(hash), Role: "user", Status: "active"}
	require.NoError(t, db.Create(admin).Error)
	require.NoError(t, db.Create(user).Error)

	tokens := staticTokens{"admin-token": admin.ID, "user-token": user.ID, "ghost-token": 999}

	app := fiber.New()
	app.Get("/admin", Auth(tokens), AdminOnly(db), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing", header: "", wantStatus: fiber.StatusUnauthorized},
		{name: "bad_scheme", header: "Token admin-token", wantStatus: fiber.StatusUnauthorized},
		{name: "invalid_token", header: "Bearer nope", wantStatus: fiber.StatusUnauthorized},
		{name: "not_admin", header: "Bearer user-token", wantStatus: fiber.StatusForbidden},
		{name: "unknown_user", header: "Bearer ghost-token", wantStatus: fiber.StatusForbidden},
		{name: "admin", header: "Bearer admin-token", wantStatus: fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		headers map[string]string
		want    string
	}{
		{name: "untrusted_ignores_headers", trust: false, headers: map[string]string{"CF-Connecting-IP": "1.1.1.1"}, want: "0.0.0.0"},
		{name: "cloudflare_first", trust: true, headers: map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, want: "1.1.1.1"},
		{name: "forwarded_first_entry", trust: true, headers: map[string]string{"X-Forwarded-For": "2.2.2.2, 3.3.3.3"}, want: "2.2.2.2"},
		{name: "fallback", trust: true, want: "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(RealIP(tt.trust))
			app.Get("/", func(c *fiber.Ctx) error {
				return c.SendString(ClientIP(c))
			})

			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			body := make([]byte, 64)
			n, _ := resp.Body.Read(body)
			assert.Equal(t, tt.want, string(body[:n]))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.allow("a"))

	now = now.Add(limiterIdleTTL + time.Second)
	rl.allow("c")
	assert.Len(t, rl.visitors, 1)
}

func TestRateLimiterHandler(t *testing.T) {
	app := fiber.New()
	app.Use(NewRateLimiter(0.001, 1, nil).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimiterKeepsDistinctProxyIPs(t *testing.T) {
	rl := NewRateLimiter(100, 100, nil)
	app := fiber.New()
	app.Use(RealIP(true), rl.Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	ips := []string{"198.51.100.1", "203.0.113.99", "192.0.2.55"}
	for _, ip := range ips {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("CF-Connecting-IP", ip)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	keys := make([]string, 0, len(rl.visitors))
	for k := range rl.visitors {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, ips, keys)
}
