package invoices

import (
	"bytes"
	"text/template"
	"time"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	"github.com/vidorahq/vidora-billing/pkg/money"
)

const receiptContentType = "text/plain; charset=utf-8"

var receiptTemplate = template.Must(template.New("receipt").Parse(`VIDORA BILLING
Receipt {{.Number}}
Issued {{.IssuedAt}}

Billed to: {{.CustomerName}} <{{.CustomerEmail}}>

{{range .Lines -}}
{{printf "%-40s" .Description}} {{printf "%3d" .Quantity}} x {{.UnitPrice}} = {{.Total}} {{$.Currency}}
{{end}}
{{printf "%-50s" "Subtotal"}} {{.Subtotal}} {{.Currency}}
{{printf "%-50s" "Total"}} {{.Total}} {{.Currency}}

Payment reference: {{.PaymentRef}}
`))

type receiptData struct {
	Number        string
	IssuedAt      string
	CustomerName  string
	CustomerEmail string
	Lines         []receiptLine
	Subtotal      string
	Total         string
	Currency      string
	PaymentRef    string
}

type receiptLine struct {
	Description string
	Quantity    int
	UnitPrice   string
	Total       string
}

// renderReceipt produces the plain-text document stored alongside the invoice.
func renderReceipt(invoice *models.Invoice, lines []models.InvoiceLine, user *models.User, paymentRef string, issuedAt time.Time) ([]byte, error) {
	data := receiptData{
		Number:        invoice.Number,
		IssuedAt:      issuedAt.Format("2006-01-02"),
		CustomerName:  user.DisplayName,
		CustomerEmail: user.Email,
		Subtotal:      money.Format(invoice.Subtotal, invoice.Currency),
		Total:         money.Format(invoice.Total, invoice.Currency),
		Currency:      invoice.Currency,
		PaymentRef:    paymentRef,
	}
	if data.CustomerName == "" {
		data.CustomerName = "Customer"
	}
	for _, line := range lines {
		data.Lines = append(data.Lines, receiptLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   money.Format(line.UnitPrice, invoice.Currency),
			Total:       money.Format(line.Total, invoice.Currency),
		})
	}

	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
