package webserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/app"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/pkg/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/bjo163/sokomarket/docs"
)

const (
	ApiPrefix = "/api/v1"

	AppContextKey = "appCtx"
	UserKey       = "currentUser"
	tokenKey      = "user"
)

var server *AdminServer

type AdminServer struct {
	root   *echo.Echo
	api    *echo.Group
	appCtx app.AppContext
}

// CustomValidator adapts validator v10 to echo's Validator
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// Init builds the global server. Routes are registered afterwards through the Api*/Pub*/Admin* helpers.
func Init(appCtx app.AppContext) {
	server = NewAdminServer(appCtx)
}

func NewAdminServer(appCtx app.AppContext) *AdminServer {
	cfg := appCtx.Config()
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			zap.L().Error("panic recovered", zap.String("path", c.Path()), zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			metrics.Incr("http_requests", 1)
			if v.Status >= 500 {
				metrics.Incr("http_errors", 1)
			}
			if cfg.System.Debug || v.Status >= 500 {
				zap.L().Info("request",
					zap.String("method", v.Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
					zap.Error(v.Error))
			}
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(AppContextKey, appCtx)
			return next(c)
		}
	})

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group(ApiPrefix)
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(cfg.Web.Secret),
		SigningMethod: "HS256",
		ContextKey:    tokenKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		},
	}))
	api.Use(loadUser)

	return &AdminServer{root: e, api: api, appCtx: appCtx}
}

// loadUser resolves the token subject to a live user row.
func loadUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := TokenClaims(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		id, err := claims.UserIDInt()
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
		}
		appCtx := c.Get(AppContextKey).(app.AppContext)
		var user domain.User
		err = appCtx.DB().WithContext(c.Request().Context()).First(&user, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "user no longer exists")
		}
		if err != nil {
			return err
		}
		c.Set(UserKey, &user)
		return next(c)
	}
}

func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, _ := c.Get(UserKey).(*domain.User)
		if !user.IsAdmin() {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}

// errorHandler renders framework errors in the API error envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = fmt.Sprint(he.Message)
	} else {
		zap.L().Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
	}
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// Handler exposes the router, mostly for httptest.
func Handler() http.Handler {
	return server.root
}

func Listen() error {
	cfg := server.appCtx.Config()
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	zap.S().Infof("Web server listening on %s", addr)
	err := server.root.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func Shutdown(ctx context.Context) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return server.root.Shutdown(ctx)
}

// ApiGET etc. register routes that require a bearer token.
func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.POST(path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.PUT(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.DELETE(path, h, m...)
}

// PubGET and PubPOST register unauthenticated routes under the API prefix.
func PubGET(path string, h echo.HandlerFunc) {
	server.root.GET(ApiPrefix+path, h)
}

func PubPOST(path string, h echo.HandlerFunc) {
	server.root.POST(ApiPrefix+path, h)
}

func AdminGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h, requireAdmin)
}

func AdminPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h, requireAdmin)
}

func AdminPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h, requireAdmin)
}
