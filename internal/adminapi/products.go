package adminapi

import (
	"net/http"
	"strings"

	"github.com/bjo163/sokomarket/internal/inventory"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
)

type productPayload struct {
	OrganizationID int64 `json:"organization_id,string" validate:"required"`
	inventory.ProductInput
}

// registerProductRoutes registers product CRUD endpoints
func registerProductRoutes() {
	webserver.ApiGET("/products", listProducts)
	webserver.ApiGET("/products/:id", getProduct)
	webserver.ApiPOST("/products", createProduct)
	webserver.ApiPUT("/products/:id", updateProduct)
	webserver.ApiDELETE("/products/:id", deleteProduct)
}

// listProducts
// @Summary list products
// @Tags Products
// @Param organization_id query int false "Organization ID"
// @Param q query string false "Name filter"
// @Param category query string false "Category"
// @Param status query string false "Status"
// @Param archived query bool false "Include archived products (managers only)"
// @Param sort query string false "name, price, created_at or current_stock"
// @Param order query string false "asc or desc"
// @Success 200 {object} ListResponse
// @Router /api/v1/products [get]
func listProducts(c echo.Context) error {
	page, pageSize := parsePagination(c)
	f := inventory.ProductFilter{
		OrganizationID: queryInt64(c, "organization_id"),
		Category:       strings.TrimSpace(c.QueryParam("category")),
		Query:          strings.TrimSpace(c.QueryParam("q")),
		Status:         strings.TrimSpace(c.QueryParam("status")),
		Sort:           strings.TrimSpace(c.QueryParam("sort")),
		Order:          strings.TrimSpace(c.QueryParam("order")),
	}
	s := services(c)
	ctx := c.Request().Context()
	if cast.ToBool(c.QueryParam("archived")) {
		if f.OrganizationID == 0 {
			return fail(c, http.StatusBadRequest, "MISSING_ORGANIZATION", "organization_id is required to list archived products", nil)
		}
		if err := s.Catalog.Authorize(ctx, f.OrganizationID, currentUser(c), true); err != nil {
			return failErr(c, err)
		}
		f.IncludeArchived = true
	}
	rows, total, err := s.Catalog.List(ctx, f, page, pageSize)
	if err != nil {
		return failErr(c, err)
	}
	return paged(c, rows, total, page, pageSize)
}

func getProduct(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid product ID", nil)
	}
	p, err := services(c).Catalog.Get(c.Request().Context(), id)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, p)
}

// createProduct
// @Summary create a product
// @Tags Products
// @Param product body productPayload true "Product"
// @Success 201 {object} Response
// @Router /api/v1/products [post]
func createProduct(c echo.Context) error {
	var payload productPayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	p, err := services(c).Catalog.Create(c.Request().Context(), payload.OrganizationID, currentUser(c), payload.ProductInput)
	if err != nil {
		return failErr(c, err)
	}
	return created(c, p)
}

func updateProduct(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid product ID", nil)
	}
	var payload inventory.ProductUpdate
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	p, err := services(c).Catalog.Update(c.Request().Context(), id, currentUser(c), payload)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, p)
}

// deleteProduct archives the product; history and orders keep referring to it
func deleteProduct(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid product ID", nil)
	}
	if err := services(c).Catalog.Archive(c.Request().Context(), id, currentUser(c)); err != nil {
		return failErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
