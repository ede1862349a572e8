package adminapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bjo163/sokomarket/internal/inventory"
	"github.com/bjo163/sokomarket/internal/webserver"
	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
)

const idempotencyHeader = "Idempotency-Key"

type stockBatchPayload struct {
	OrganizationID int64    `json:"organization_id,string" validate:"required"`
	ProductIDs     []string `json:"product_ids" validate:"required,max=200"`
}

func registerInventoryRoutes() {
	webserver.ApiPOST("/products/:id/stock", AdjustStock)
	webserver.ApiPOST("/inventory/stock-batch", StockBatch)
	webserver.ApiGET("/inventory/history", InventoryHistory)
	webserver.ApiGET("/inventory/history/export", ExportInventoryHistory)
	webserver.ApiGET("/inventory/low-stock", LowStock)
}

// AdjustStock records a manual stock movement
// @Summary adjust product stock
// @Tags Inventory
// @Param id path int true "Product ID"
// @Param Idempotency-Key header string false "Replay protection key"
// @Param adjustment body inventory.AdjustInput true "Adjustment"
// @Success 200 {object} Response
// @Router /api/v1/products/{id}/stock [post]
func AdjustStock(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid product ID", nil)
	}
	var payload inventory.AdjustInput
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	res, err := services(c).Catalog.AdjustStock(c.Request().Context(), id, currentUser(c), payload, c.Request().Header.Get(idempotencyHeader))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, res)
}

// StockBatch returns the stock of several products of one organization
// @Summary stock lookup for a list of products
// @Tags Inventory
// @Param query body stockBatchPayload true "Products"
// @Success 200 {object} Response
// @Router /api/v1/inventory/stock-batch [post]
func StockBatch(c echo.Context) error {
	var payload stockBatchPayload
	if okBind, err := bindPayload(c, &payload); !okBind {
		return err
	}
	ids := make([]int64, 0, len(payload.ProductIDs))
	for _, raw := range payload.ProductIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid product ID", raw)
		}
		ids = append(ids, id)
	}
	rows, err := services(c).Ledger.StockBatch(c.Request().Context(), payload.OrganizationID, ids)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, rows)
}

// historyFilter reads the common history query and checks the caller may see it.
// On false the response has been written.
func historyFilter(c echo.Context) (inventory.HistoryFilter, bool, error) {
	f := inventory.HistoryFilter{
		OrganizationID: queryInt64(c, "organization_id"),
		ProductID:      queryInt64(c, "product_id"),
		ChangeType:     strings.TrimSpace(c.QueryParam("change_type")),
	}
	if f.OrganizationID == 0 {
		return f, false, fail(c, http.StatusBadRequest, "MISSING_ORGANIZATION", "organization_id is required", nil)
	}
	from, to, err := parseRange(c)
	if err != nil {
		return f, false, fail(c, http.StatusBadRequest, "INVALID_DATE", "Unable to parse from/to", err.Error())
	}
	f.From, f.To = from, to
	if err := services(c).Catalog.Authorize(c.Request().Context(), f.OrganizationID, currentUser(c), false); err != nil {
		return f, false, failErr(c, err)
	}
	return f, true, nil
}

// InventoryHistory lists ledger entries newest first
// @Summary stock history
// @Tags Inventory
// @Param organization_id query int true "Organization ID"
// @Param product_id query int false "Product ID"
// @Param change_type query string false "adjustment, restock, sale, return or damaged"
// @Param from query string false "Start time"
// @Param to query string false "End time"
// @Success 200 {object} ListResponse
// @Router /api/v1/inventory/history [get]
func InventoryHistory(c echo.Context) error {
	f, okFilter, err := historyFilter(c)
	if !okFilter {
		return err
	}
	page, pageSize := parsePagination(c)
	rows, total, err := services(c).Ledger.History(c.Request().Context(), f, page, pageSize)
	if err != nil {
		return failErr(c, err)
	}
	return paged(c, rows, total, page, pageSize)
}

// ExportInventoryHistory streams the filtered history as CSV
func ExportInventoryHistory(c echo.Context) error {
	f, okFilter, err := historyFilter(c)
	if !okFilter {
		return err
	}
	rows, _, err := services(c).Ledger.History(c.Request().Context(), f, 0, 0)
	if err != nil {
		return failErr(c, err)
	}
	filename := fmt.Sprintf("inventory-%d-%s.csv", f.OrganizationID, time.Now().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	return gocsv.Marshal(rows, c.Response())
}

// LowStock lists tracked products at or below their threshold
func LowStock(c echo.Context) error {
	orgID := queryInt64(c, "organization_id")
	if orgID == 0 {
		return fail(c, http.StatusBadRequest, "MISSING_ORGANIZATION", "organization_id is required", nil)
	}
	s := services(c)
	ctx := c.Request().Context()
	if err := s.Catalog.Authorize(ctx, orgID, currentUser(c), false); err != nil {
		return failErr(c, err)
	}
	rows, err := s.Ledger.LowStock(ctx, orgID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, rows)
}
