package report

import (
	"strings"
	"time"

	"github.com/pdvbar/comandas/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const receiptWidth = 40

var receiptPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL formats an amount in reais with pt-BR separators.
func FormatBRL(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return receiptPrinter.Sprintf("%v %.2f", currency.Symbol(currency.BRL), f)
}

// Receipt renders a plain-text receipt. Courtesy lines are listed but do
// not count toward the total.
func Receipt(tab domain.Tab, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	rule := strings.Repeat("-", receiptWidth) + "\n"

	b.WriteString("COMANDA " + tab.Table + "\n")
	b.WriteString(receiptPrinter.Sprintf("#%d  %s\n", tab.ID, tab.CreatedAt.In(loc).Format("02/01/2006 15:04")))
	b.WriteString(rule)
	for _, it := range tab.Items {
		label := receiptPrinter.Sprintf("%d x %s", it.Quantity, it.Name)
		if it.IsCourtesy {
			label += " (cortesia)"
		}
		writeLine(&b, label, FormatBRL(it.LineTotal()))
	}
	b.WriteString(rule)
	writeLine(&b, "Subtotal", FormatBRL(tab.Subtotal))
	writeLine(&b, "Serviço", FormatBRL(tab.Tip))
	writeLine(&b, "Total", FormatBRL(tab.Total))
	if tab.PaymentMethod != "" {
		b.WriteString("Pagamento: " + string(tab.PaymentMethod) + "\n")
	}
	if tab.ClosedAt != nil {
		b.WriteString("Fechada em " + tab.ClosedAt.In(loc).Format("02/01/2006 15:04") + "\n")
	}
	return b.String()
}

func writeLine(b *strings.Builder, left, right string) {
	pad := receiptWidth - len([]rune(left)) - len([]rune(right))
	if pad < 1 {
		pad = 1
	}
	b.WriteString(left + strings.Repeat(" ", pad) + right + "\n")
}
