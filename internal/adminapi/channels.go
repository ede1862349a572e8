package adminapi

import (
	"net/http"

	"github.com/bjo163/sokomarket/internal/organization"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
)

type channelStatusPayload struct {
	Enabled bool `json:"enabled"`
}

func registerChannelRoutes() {
	webserver.ApiGET("/organizations/:id/channels", ListChannels)
	webserver.ApiPOST("/organizations/:id/channels", CreateChannel)
	webserver.ApiPUT("/channels/:id", UpdateChannelStatus)
	webserver.ApiGET("/organizations/:id/deliveries", ListDeliveries)
}

// ListChannels returns the merchant's notification channels
// @Summary list notification channels
// @Tags Channels
// @Param id path int true "Organization ID"
// @Success 200 {object} Response
// @Router /api/v1/organizations/{id}/channels [get]
func ListChannels(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	rows, err := services(c).Organizations.Channels(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, rows)
}

// CreateChannel registers a WhatsApp number or e-mail address for order messages
// @Summary add a notification channel
// @Tags Channels
// @Param id path int true "Organization ID"
// @Param channel body organization.ChannelInput true "Channel"
// @Success 201 {object} Response
// @Router /api/v1/organizations/{id}/channels [post]
func CreateChannel(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var payload organization.ChannelInput
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	ch, err := services(c).Organizations.AddChannel(c.Request().Context(), id, currentUser(c), payload)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, ch)
}

func UpdateChannelStatus(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID", nil)
	}
	var payload channelStatusPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request body", err.Error())
	}
	if err := services(c).Organizations.SetChannelStatus(c.Request().Context(), id, currentUser(c), payload.Enabled); err != nil {
		return failErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDeliveries shows the outbound e-mail queue of an organization
func ListDeliveries(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	page, pageSize := parsePagination(c)
	s := services(c)
	ctx := c.Request().Context()
	if err := s.Organizations.RequireManager(ctx, id, currentUser(c)); err != nil {
		return failErr(c, err)
	}
	rows, total, err := s.Notify.Deliveries(ctx, id, page, pageSize)
	if err != nil {
		return failErr(c, err)
	}
	return paged(c, rows, total, page, pageSize)
}
