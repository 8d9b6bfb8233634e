package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/cinema-seat-lock/internal/config"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

func newAuth() *AuthHandler {
	cfg := config.Config{JWTSecret: "test-secret", AccessTTLMin: 5, BcryptCost: bcrypt.MinCost}
	return NewAuthHandler(cfg, repository.NewMemoryUserStore())
}

func TestRegisterAndLogin(t *testing.T) {
	en := newEnv(t)
	h := newAuth()

	rec := en.do(t, h.Register, call{method: http.MethodPost, target: "/v1/auth/register",
		body: `{"email":"Ana@Example.com","password":"secret1","role":"owner"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	user := out["user"].(map[string]any)
	assert.Equal(t, "ana@example.com", user["email"])
	assert.Equal(t, "OWNER", user["role"])
	assert.NotEmpty(t, out["access"].(map[string]any)["token"])

	rec = en.do(t, h.Register, call{method: http.MethodPost, target: "/v1/auth/register",
		body: `{"email":"ana@example.com","password":"secret1"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = en.do(t, h.Login, call{method: http.MethodPost, target: "/v1/auth/login",
		body: `{"email":"ana@example.com","password":"secret1"}`})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["user"].(map[string]any)["id"])

	rec = en.do(t, h.Login, call{method: http.MethodPost, target: "/v1/auth/login",
		body: `{"email":"ana@example.com","password":"wrong-one"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = en.do(t, h.Login, call{method: http.MethodPost, target: "/v1/auth/login",
		body: `{"email":"nobody@example.com","password":"secret1"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterDefaultsToCustomer(t *testing.T) {
	en := newEnv(t)
	h := newAuth()
	rec := en.do(t, h.Register, call{method: http.MethodPost, target: "/v1/auth/register",
		body: `{"email":"bo@example.com","password":"secret1","role":"ADMIN"}`})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "CUSTOMER", decode(t, rec)["user"].(map[string]any)["role"])
}

func TestRegisterValidation(t *testing.T) {
	en := newEnv(t)
	h := newAuth()
	for name, body := range map[string]string{
		"bad email":      `{"email":"nope","password":"secret1"}`,
		"short password": `{"email":"a@example.com","password":"123"}`,
		"malformed":      `{"email":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := en.do(t, h.Register, call{method: http.MethodPost, target: "/v1/auth/register", body: body})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMe(t *testing.T) {
	en := newEnv(t)
	h := newAuth()
	en.do(t, h.Register, call{method: http.MethodPost, target: "/v1/auth/register",
		body: `{"email":"cy@example.com","password":"secret1"}`})

	rec := en.do(t, h.Me, call{method: http.MethodGet, target: "/v1/me", user: "1", role: "CUSTOMER"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "1", out["user_id"])
	assert.Equal(t, "CUSTOMER", out["role"])
	assert.Equal(t, "cy@example.com", out["email"])
}
