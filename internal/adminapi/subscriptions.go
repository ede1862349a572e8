package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
)

type startSubscriptionPayload struct {
	PlanName string `json:"plan_name" validate:"required"`
}

type downgradePayload struct {
	PlanName string `json:"plan_name" validate:"required"`
	EffectAt string `json:"effective_at"` // optional, defaults to the end of the current period
}

func registerSubscriptionRoutes() {
	webserver.ApiGET("/subscription", GetSubscription)
	webserver.ApiPOST("/subscription", StartSubscription)
	webserver.ApiGET("/subscription/limits", GetLimits)
	webserver.ApiPOST("/subscription/downgrade", ScheduleDowngrade)
	webserver.ApiDELETE("/subscription/downgrade", CancelDowngrade)
	webserver.ApiPOST("/subscription/cancel", CancelSubscription)
}

// GetSubscription returns the caller's latest subscription, null when there is none
// @Summary current subscription
// @Tags Subscription
// @Success 200 {object} Response
// @Router /api/v1/subscription [get]
func GetSubscription(c echo.Context) error {
	sub, err := services(c).Subscriptions.Current(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, sub)
}

// StartSubscription starts a trial (paid plans) or an active free plan
// @Summary start a subscription
// @Tags Subscription
// @Param plan body startSubscriptionPayload true "Plan"
// @Success 201 {object} Response
// @Router /api/v1/subscription [post]
func StartSubscription(c echo.Context) error {
	var payload startSubscriptionPayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	sub, err := services(c).Subscriptions.Start(c.Request().Context(), currentUser(c).ID, strings.TrimSpace(payload.PlanName))
	if err != nil {
		return failErr(c, err)
	}
	return created(c, sub)
}

// GetLimits reports what the caller may still create
// @Summary usage limits
// @Tags Subscription
// @Param organization_id query int false "Include product and order limits of this organization"
// @Success 200 {object} Response
// @Router /api/v1/subscription/limits [get]
func GetLimits(c echo.Context) error {
	s := services(c)
	ctx := c.Request().Context()
	user := currentUser(c)
	orgID := queryInt64(c, "organization_id")
	if orgID != 0 {
		if err := s.Orders.Authorize(ctx, orgID, user, false); err != nil {
			return failErr(c, err)
		}
	}
	summary, err := s.Limits.Summary(ctx, user.ID, orgID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, summary)
}

// ScheduleDowngrade records a plan change for a later date
// @Summary schedule a downgrade
// @Tags Subscription
// @Param downgrade body downgradePayload true "Target plan"
// @Success 200 {object} Response
// @Router /api/v1/subscription/downgrade [post]
func ScheduleDowngrade(c echo.Context) error {
	var payload downgradePayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	var at *time.Time
	if s := strings.TrimSpace(payload.EffectAt); s != "" {
		t, err := dateparse.ParseLocal(s)
		if err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_DATE", "Unable to parse effective_at", err.Error())
		}
		at = &t
	}
	sub, err := services(c).Subscriptions.ScheduleDowngrade(c.Request().Context(), currentUser(c).ID, strings.TrimSpace(payload.PlanName), at)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, sub)
}

func CancelDowngrade(c echo.Context) error {
	sub, err := services(c).Subscriptions.CancelScheduledChange(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, sub)
}

func CancelSubscription(c echo.Context) error {
	sub, err := services(c).Subscriptions.Cancel(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, sub)
}
