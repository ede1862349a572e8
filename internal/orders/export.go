package orders

import (
	"io"
	"strconv"
	"strings"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/bjo163/sokomarket/internal/domain"
)

const exportSheet = "Sheet1"

var exportHeaders = []string{"Order #", "Status", "Customer", "Items", "Total", "Notes", "Created", "Confirmed", "Delivered", "Cancelled"}

func cell(col, row int) string {
	return string(rune('A'+col)) + strconv.Itoa(row)
}

func stamp(v interface{ Format(string) string }) string {
	return v.Format("2006-01-02 15:04:05")
}

// WriteXLSX renders orders as a single sheet workbook.
func WriteXLSX(w io.Writer, orders []domain.Order) error {
	f := excelize.NewFile()
	for i, h := range exportHeaders {
		f.SetCellValue(exportSheet, cell(i, 1), h)
	}
	for r, o := range orders {
		row := r + 2
		items := make([]string, 0, len(o.Items))
		for _, it := range o.Items {
			items = append(items, strconv.Itoa(it.Quantity)+" x "+it.ProductName)
		}
		values := []interface{}{
			o.OrderNumber,
			o.Status,
			strconv.FormatInt(o.UserID, 10),
			strings.Join(items, "; "),
			o.TotalPrice.InexactFloat64(),
			o.Notes,
			stamp(o.CreatedAt),
			"", "", "",
		}
		if o.ConfirmedAt != nil {
			values[7] = stamp(*o.ConfirmedAt)
		}
		if o.DeliveredAt != nil {
			values[8] = stamp(*o.DeliveredAt)
		}
		if o.CancelledAt != nil {
			values[9] = stamp(*o.CancelledAt)
		}
		for c, v := range values {
			f.SetCellValue(exportSheet, cell(c, row), v)
		}
	}
	return f.Write(w)
}
