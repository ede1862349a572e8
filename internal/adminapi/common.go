package adminapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bjo163/sokomarket/internal/app"
	"github.com/bjo163/sokomarket/internal/domain"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Response wraps a single resource
type Response struct {
	Data interface{} `json:"data"`
}

// ListResponse wraps a page of resources
type ListResponse struct {
	Data interface{} `json:"data"`
	Meta Meta        `json:"meta"`
}

type Meta struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Data: data})
}

func created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, Response{Data: data})
}

func paged(c echo.Context, rows interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, ListResponse{
		Data: rows,
		Meta: Meta{Total: total, Page: page, PageSize: pageSize},
	})
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, ErrorResponse{Error: code, Message: message, Details: details})
}

// failErr maps a service error onto the error envelope.
func failErr(c echo.Context, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		zap.L().Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
	status := http.StatusInternalServerError
	switch de.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindUnauthorized:
		status = http.StatusUnauthorized
		if de.Code == domain.ErrForbidden.Code {
			status = http.StatusForbidden
		}
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindBusinessRule:
		status = http.StatusConflict
		switch de.Code {
		case "INVALID_TRANSITION", "INVALID_DOWNGRADE":
			status = http.StatusUnprocessableEntity
		}
	case domain.KindExternal:
		status = http.StatusBadGateway
		zap.L().Warn("external service failure", zap.String("path", c.Path()), zap.Error(err))
	}
	return fail(c, status, de.Code, de.Message, nil)
}

func GetAppContext(c echo.Context) app.AppContext {
	return c.Get(webserver.AppContextKey).(app.AppContext)
}

func GetDB(c echo.Context) *gorm.DB {
	return GetAppContext(c).DB()
}

func services(c echo.Context) *app.Services {
	return GetAppContext(c).Services()
}

func currentUser(c echo.Context) *domain.User {
	return webserver.CurrentUser(c)
}

// parsePagination reads page and pageSize (or perPage); pageSize is capped at 100
func parsePagination(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	sizeParam := c.QueryParam("pageSize")
	if sizeParam == "" {
		sizeParam = c.QueryParam("perPage")
	}
	pageSize, _ := strconv.Atoi(sizeParam)
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func queryInt64(c echo.Context, name string) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(c.QueryParam(name)), 10, 64)
	return v
}

// parseRange reads the from/to query filters. Any format dateparse understands is accepted.
func parseRange(c echo.Context) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if s := strings.TrimSpace(c.QueryParam("from")); s != "" {
		if from, err = dateparse.ParseLocal(s); err != nil {
			return from, to, err
		}
	}
	if s := strings.TrimSpace(c.QueryParam("to")); s != "" {
		if to, err = dateparse.ParseLocal(s); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

// bindPayload binds and validates the request body, writing the failure response itself.
func bindPayload(c echo.Context, payload interface{}) (bool, error) {
	if err := c.Bind(payload); err != nil {
		return false, fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request body", err.Error())
	}
	if err := c.Validate(payload); err != nil {
		return false, handleValidationError(c, err)
	}
	return true, nil
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", err.Error())
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if fe.Param() != "" {
			details[field] = fe.Tag() + "=" + fe.Param()
		} else {
			details[field] = fe.Tag()
		}
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", details)
}

// Init registers every route on the web server
func Init() {
	registerAuthRoutes()
	registerPlanRoutes()
	registerOrganizationRoutes()
	registerChannelRoutes()
	registerProductRoutes()
	registerInventoryRoutes()
	registerOrderRoutes()
	registerPublicOrderRoutes()
	registerSubscriptionRoutes()
	registerPaymentRoutes()
	registerNotificationRoutes()
	registerSchedulerRoutes()
	registerMetricsRoutes()
}
