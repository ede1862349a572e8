package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/bjo163/sokomarket/pkg/common"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type registerPayload struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

func registerAuthRoutes() {
	webserver.PubPOST("/auth/register", Register)
	webserver.PubPOST("/auth/login", Login)
	webserver.ApiGET("/me", Me)
}

func issueToken(c echo.Context, user *domain.User) (*tokenResponse, error) {
	cfg := GetAppContext(c).Config()
	ttl := time.Duration(cfg.Web.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	token, expires, err := webserver.IssueToken(cfg.Web.Secret, user, ttl)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{Token: token, ExpiresAt: expires, User: user}, nil
}

// Register creates a customer account and returns a token
// @Summary register a new account
// @Tags Auth
// @Param user body registerPayload true "Account"
// @Success 201 {object} Response
// @Router /api/v1/auth/register [post]
func Register(c echo.Context) error {
	var payload registerPayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	email := strings.ToLower(strings.TrimSpace(payload.Email))

	var count int64
	if err := GetDB(c).Model(&domain.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query users", err.Error())
	}
	if count > 0 {
		return fail(c, http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists", nil)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "HASH_ERROR", "Failed to process password", nil)
	}
	user := &domain.User{
		ID:       common.UUIDint64(),
		Name:     strings.TrimSpace(payload.Name),
		Email:    email,
		Phone:    strings.TrimSpace(payload.Phone),
		Password: string(hashed),
		Role:     domain.UserRoleUser,
	}
	if err := GetDB(c).Create(user).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create account", err.Error())
	}
	zap.L().Info("account registered", zap.Int64("user_id", user.ID))

	resp, err := issueToken(c, user)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TOKEN_ERROR", "Failed to issue token", nil)
	}
	return created(c, resp)
}

// Login exchanges credentials for a bearer token
// @Summary login
// @Tags Auth
// @Param credentials body loginPayload true "Credentials"
// @Success 200 {object} Response
// @Router /api/v1/auth/login [post]
func Login(c echo.Context) error {
	var payload loginPayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	var user domain.User
	err := GetDB(c).Where("email = ?", strings.ToLower(strings.TrimSpace(payload.Email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query user", err.Error())
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)) != nil {
		return fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	resp, err := issueToken(c, &user)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TOKEN_ERROR", "Failed to issue token", nil)
	}
	return ok(c, resp)
}

// Me returns the authenticated user
// @Summary current account
// @Tags Auth
// @Success 200 {object} Response
// @Router /api/v1/me [get]
func Me(c echo.Context) error {
	return ok(c, currentUser(c))
}
