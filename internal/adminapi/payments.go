package adminapi

import (
	"net/http"
	"strings"

	"github.com/bjo163/sokomarket/internal/payment"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
)

func registerPaymentRoutes() {
	webserver.ApiGET("/payments", ListPayments)
	webserver.ApiPOST("/payments", InitiatePayment)
	webserver.ApiGET("/payments/:ref/status", PaymentStatus)
}

// ListPayments returns the caller's payments
// @Summary list payments
// @Tags Payments
// @Success 200 {object} ListResponse
// @Router /api/v1/payments [get]
func ListPayments(c echo.Context) error {
	page, pageSize := parsePagination(c)
	rows, total, err := services(c).Payments.List(c.Request().Context(), currentUser(c).ID, page, pageSize)
	if err != nil {
		return failErr(c, err)
	}
	return paged(c, rows, total, page, pageSize)
}

// InitiatePayment asks the gateway to charge the phone for a plan
// @Summary pay for a plan by mobile money
// @Tags Payments
// @Param payment body payment.InitiateInput true "Plan and phone"
// @Success 201 {object} Response
// @Router /api/v1/payments [post]
func InitiatePayment(c echo.Context) error {
	var payload payment.InitiateInput
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	p, err := services(c).Payments.Initiate(c.Request().Context(), currentUser(c), payload)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, p)
}

// PaymentStatus polls the gateway for a pending payment
// @Summary payment status
// @Tags Payments
// @Param ref path string true "Gateway reference"
// @Success 200 {object} Response
// @Router /api/v1/payments/{ref}/status [get]
func PaymentStatus(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		return fail(c, http.StatusBadRequest, "INVALID_REF", "Payment reference is required", nil)
	}
	p, err := services(c).Payments.CheckStatus(c.Request().Context(), currentUser(c), ref)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, p)
}
