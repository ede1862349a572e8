package adminapi

import (
	"net/http"

	"github.com/bjo163/sokomarket/internal/billing"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type setPlanPayload struct {
	PlanName string `json:"plan_name" validate:"required"`
}

func registerPlanRoutes() {
	webserver.PubGET("/plans", ListPlans)
	webserver.AdminPUT("/plans/:id", UpdatePlan)
	webserver.AdminPUT("/admin/subscriptions/:userId/plan", SetUserPlan)
}

// ListPlans returns the plan catalog
// @Summary list plans
// @Tags Plans
// @Success 200 {object} Response
// @Router /api/v1/plans [get]
func ListPlans(c echo.Context) error {
	plans, err := services(c).Plans.List(c.Request().Context())
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, plans)
}

// UpdatePlan changes prices or limits of a plan
// @Summary update a plan
// @Tags Plans
// @Param id path int true "Plan ID"
// @Param plan body billing.PlanUpdate true "Changes"
// @Success 200 {object} Response
// @Router /api/v1/plans/{id} [put]
func UpdatePlan(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid plan ID", nil)
	}
	var payload billing.PlanUpdate
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	plan, err := services(c).Plans.Update(c.Request().Context(), id, payload)
	if err != nil {
		return failErr(c, err)
	}
	zap.L().Info("plan updated", zap.Int64("plan_id", id), zap.Int64("admin_id", currentUser(c).ID))
	return ok(c, plan)
}

// SetUserPlan moves a user to a plan without payment
// @Summary set a user's plan
// @Tags Plans
// @Param userId path int true "User ID"
// @Param plan body setPlanPayload true "Plan"
// @Success 200 {object} Response
// @Router /api/v1/admin/subscriptions/{userId}/plan [put]
func SetUserPlan(c echo.Context) error {
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid user ID", nil)
	}
	var payload setPlanPayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	sub, err := services(c).Subscriptions.SetPlan(c.Request().Context(), userID, payload.PlanName)
	if err != nil {
		return failErr(c, err)
	}
	zap.L().Info("plan assigned by admin",
		zap.Int64("user_id", userID),
		zap.String("plan", payload.PlanName),
		zap.Int64("admin_id", currentUser(c).ID))
	return ok(c, sub)
}
