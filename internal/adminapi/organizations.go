package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/organization"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
)

const statsWindow = 30 * 24 * time.Hour

func registerOrganizationRoutes() {
	webserver.ApiGET("/organizations", ListOrganizations)
	webserver.ApiPOST("/organizations", CreateOrganization)
	webserver.ApiGET("/organizations/:id", GetOrganization)
	webserver.ApiPUT("/organizations/:id", UpdateOrganization)
	webserver.ApiGET("/organizations/:id/members", ListMembers)
	webserver.ApiPOST("/organizations/:id/members", AddMember)
	webserver.ApiPOST("/organizations/:id/follow", FollowOrganization)
	webserver.ApiDELETE("/organizations/:id/follow", UnfollowOrganization)
	webserver.ApiGET("/organizations/:id/stats", OrganizationStats)
}

func orgIDParam(c echo.Context) (int64, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return 0, fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid organization ID", nil)
	}
	return id, nil
}

// ListOrganizations lists stores, optionally only those the caller belongs to
// @Summary list organizations
// @Tags Organizations
// @Param q query string false "Name filter"
// @Param mine query bool false "Only organizations the caller is a member of"
// @Param page query int false "Page number"
// @Param pageSize query int false "Items per page"
// @Success 200 {object} ListResponse
// @Router /api/v1/organizations [get]
func ListOrganizations(c echo.Context) error {
	page, pageSize := parsePagination(c)
	f := organization.ListFilter{Query: strings.TrimSpace(c.QueryParam("q"))}
	if cast.ToBool(c.QueryParam("mine")) {
		f.MemberUserID = currentUser(c).ID
	}
	rows, total, err := services(c).Organizations.List(c.Request().Context(), f, page, pageSize)
	if err != nil {
		return failErr(c, err)
	}
	return paged(c, rows, total, page, pageSize)
}

// CreateOrganization creates a store owned by the caller
// @Summary create an organization
// @Tags Organizations
// @Param organization body organization.Input true "Organization"
// @Success 201 {object} Response
// @Router /api/v1/organizations [post]
func CreateOrganization(c echo.Context) error {
	var payload organization.Input
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	org, err := services(c).Organizations.Create(c.Request().Context(), currentUser(c), payload)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, org)
}

func GetOrganization(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	org, err := services(c).Organizations.Get(c.Request().Context(), id)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, org)
}

func UpdateOrganization(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var payload organization.Input
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	org, err := services(c).Organizations.Update(c.Request().Context(), id, currentUser(c), payload)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, org)
}

func ListMembers(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	s := services(c)
	ctx := c.Request().Context()
	if err := s.Orders.Authorize(ctx, id, currentUser(c), false); err != nil {
		return failErr(c, err)
	}
	members, err := s.Organizations.Members(ctx, id)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, members)
}

// AddMember grants an existing user a role in the organization
// @Summary add a member
// @Tags Organizations
// @Param id path int true "Organization ID"
// @Param member body organization.MemberInput true "Member"
// @Success 201 {object} Response
// @Router /api/v1/organizations/{id}/members [post]
func AddMember(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	var payload organization.MemberInput
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	member, err := services(c).Organizations.AddMember(c.Request().Context(), id, currentUser(c), payload)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, member)
}

func FollowOrganization(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	if err := services(c).Organizations.Follow(c.Request().Context(), id, currentUser(c)); err != nil {
		return failErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func UnfollowOrganization(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	if err := services(c).Organizations.Unfollow(c.Request().Context(), id, currentUser(c)); err != nil {
		return failErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// OrganizationStats summarises sales over a window, the last 30 days by default
// @Summary organization sales statistics
// @Tags Organizations
// @Param id path int true "Organization ID"
// @Param from query string false "Window start"
// @Param to query string false "Window end"
// @Success 200 {object} Response
// @Router /api/v1/organizations/{id}/stats [get]
func OrganizationStats(c echo.Context) error {
	id, err := orgIDParam(c)
	if err != nil {
		return err
	}
	from, to, err := parseRange(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_DATE", "Unable to parse from/to", err.Error())
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-statsWindow)
	}
	s := services(c)
	ctx := c.Request().Context()
	if err := s.Orders.Authorize(ctx, id, currentUser(c), true); err != nil {
		return failErr(c, err)
	}
	stats, err := s.Orders.Stats(ctx, id, from, to)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, stats)
}
