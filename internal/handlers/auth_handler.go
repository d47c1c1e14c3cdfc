package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign-api/internal/services"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// DependencyCheck checks one dependency of the service
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	deps    []DependencyCheck
	timeout time.Duration
}

func NewHealthHandler(deps ...DependencyCheck) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 2 * time.Second}
}

// @Summary Health Check
// @Description Reports the service status and the result of each dependency check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Index(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(gin.H, len(h.deps))
	for _, p := range h.deps {
		if err := p.Check(ctx); err != nil {
			logger.Warn("[Health] Dependency check failed", "dependency", p.Name, "error", err)
			checks[p.Name] = "down"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[p.Name] = "up"
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": "fintera-sign-api",
		"checks":  checks,
	})
}

// Authenticator issues session tokens
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
}

type AuthHandler struct {
	authService Authenticator
}

func NewAuthHandler(authService Authenticator) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// @Summary Login
// @Description Authenticates a user and returns a token scoped to the user's customer
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login Credentials"
// @Success 200 {object} services.LoginResult
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email y contraseña son requeridos")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
