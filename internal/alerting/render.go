package alerting

import (
	"strings"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/domain"
)

// DefaultSubject is the subject used when none is configured.
const DefaultSubject = "Price Alert for Cheap Tickets"

const bodyHeader = "The following locations have flight deals:\n\n"

// RenderBody renders one line per candidate, in the order given.
func RenderBody(candidates []domain.AlertCandidate) string {
	var b strings.Builder
	b.WriteString(bodyHeader)
	for _, c := range candidates {
		b.WriteString("Location: ")
		b.WriteString(c.Location)
		b.WriteString(", Cheapest Price: $")
		b.WriteString(money(c.CheapestPrice))
		b.WriteString(", Average Price: $")
		b.WriteString(money(c.AveragePrice))
		b.WriteString("\n")
	}
	return b.String()
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
