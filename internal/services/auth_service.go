package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sjperalta/fintera-sign-api/internal/config"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles authentication operations
type AuthService struct {
	userRepo repository.UserRepository
	cfg      *config.Config
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(userRepo repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		cfg:      cfg,
		now:      time.Now,
	}
}

// LoginResult represents the result of a login attempt
type LoginResult struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expires_at"`
	User      models.UserResponse `json:"user"`
}

// Login authenticates a user and returns a session token scoped to the
// user's customer.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, ErrInvalidPassword
	}

	if !user.IsActive() {
		return nil, ErrInactiveAccount
	}

	if !VerifyPassword(password, user.EncryptedPassword) {
		return nil, ErrInvalidPassword
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.cfg.JWTExpirationHours) * time.Hour)
	token, err := s.generateJWT(user, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("error al generar token: %w", err)
	}

	if err := s.userRepo.TouchLastLogin(ctx, user.ID, now); err != nil {
		logger.Warn("[Auth] Failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.ToResponse(),
	}, nil
}

// MinPasswordLength is enforced when operators are provisioned
const MinPasswordLength = 10

// NewUserInput provisions an operator of a customer account
type NewUserInput struct {
	CustomerID string
	Email      string
	FullName   string
	Role       string
	Password   string
}

// CreateUser provisions an operator. Users are managed out of band, so this
// is only reachable from the admin CLI.
func (s *AuthService) CreateUser(ctx context.Context, in NewUserInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if in.CustomerID == "" || email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: customer y correo válidos son requeridos", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: rol %q desconocido", ErrInvalidInput, role)
	}
	if len(in.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: la contraseña debe tener al menos %d caracteres", ErrInvalidInput, MinPasswordLength)
	}
	if _, err := s.userRepo.FindByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: el correo ya está registrado", ErrConflict)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("error al cifrar contraseña: %w", err)
	}
	user := &models.User{
		CustomerID:        in.CustomerID,
		Email:             email,
		FullName:          strings.TrimSpace(in.FullName),
		Role:              role,
		EncryptedPassword: hash,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("[Auth] Provisioned %s user %s for customer %s", role, user.ID, user.CustomerID))
	return user, nil
}

// generateJWT creates a new JWT token for a user
func (s *AuthService) generateJWT(user *models.User, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id":     user.ID,
		"customer_id": user.CustomerID,
		"email":       user.Email,
		"role":        user.Role,
		"exp":         expiresAt.Unix(),
		"iat":         issuedAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyPassword compares a password with a hash
func VerifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
