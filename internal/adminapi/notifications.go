package adminapi

import (
	"net/http"

	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
)

func registerNotificationRoutes() {
	webserver.ApiGET("/notifications", ListNotifications)
	webserver.ApiPOST("/notifications/:id/read", MarkNotificationRead)
	webserver.ApiPOST("/notifications/read-all", MarkAllNotificationsRead)
}

// ListNotifications returns the caller's notifications with the unread count in meta
// @Summary list notifications
// @Tags Notifications
// @Param unread query bool false "Only unread"
// @Success 200 {object} ListResponse
// @Router /api/v1/notifications [get]
func ListNotifications(c echo.Context) error {
	page, pageSize := parsePagination(c)
	rows, total, unread, err := services(c).Notify.List(c.Request().Context(), currentUser(c).ID, cast.ToBool(c.QueryParam("unread")), page, pageSize)
	if err != nil {
		return failErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data": rows,
		"meta": map[string]interface{}{
			"total":    total,
			"page":     page,
			"pageSize": pageSize,
			"unread":   unread,
		},
	})
}

func MarkNotificationRead(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid notification ID", nil)
	}
	if err := services(c).Notify.MarkRead(c.Request().Context(), currentUser(c).ID, id); err != nil {
		return failErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func MarkAllNotificationsRead(c echo.Context) error {
	n, err := services(c).Notify.MarkAllRead(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]int64{"updated": n})
}
