package report

import (
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pdvbar/comandas/internal/domain"
)

type salesRow struct {
	ID            string `csv:"id"`
	Table         string `csv:"mesa"`
	Status        string `csv:"status"`
	PaymentMethod string `csv:"pagamento"`
	Items         int    `csv:"itens"`
	Subtotal      string `csv:"subtotal"`
	Tip           string `csv:"servico"`
	Total         string `csv:"total"`
	WaiterID      string `csv:"garcom"`
	CreatedAt     string `csv:"aberta_em"`
	ClosedAt      string `csv:"fechada_em"`
}

// WriteSalesCSV writes one CSV row per tab, amounts with two decimals and
// times in loc.
func WriteSalesCSV(w io.Writer, tabs []domain.Tab, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	rows := make([]*salesRow, 0, len(tabs))
	for _, t := range tabs {
		row := &salesRow{
			ID:            strconv.FormatInt(t.ID, 10),
			Table:         t.Table,
			Status:        string(t.Status),
			PaymentMethod: string(t.PaymentMethod),
			Items:         len(t.Items),
			Subtotal:      t.Subtotal.StringFixed(2),
			Tip:           t.Tip.StringFixed(2),
			Total:         t.Total.StringFixed(2),
			WaiterID:      t.WaiterID,
			CreatedAt:     t.CreatedAt.In(loc).Format(time.RFC3339),
		}
		if t.ClosedAt != nil {
			row.ClosedAt = t.ClosedAt.In(loc).Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return gocsv.Marshal(&rows, w)
}
