package invoice

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/money"
)

// View is the display form of an invoice with every amount pre-formatted
type View struct {
	ID            string     `json:"id"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	PaymentMethod string     `json:"paymentMethod"`
	Customer      Customer   `json:"customer"`
	Shipping      Shipping   `json:"shipping"`
	Items         []ViewItem `json:"items"`
	Subtotal      string     `json:"subtotal"`
	Tax           string     `json:"tax"`
	Total         string     `json:"total"`
}

// ViewItem is a formatted invoice line
type ViewItem struct {
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Subtotal  string `json:"subtotal"`
}

// NewView formats inv for display
func NewView(inv *Invoice) View {
	v := View{
		ID:            inv.id,
		Date:          inv.issuedAt.Format("2006-01-02"),
		Time:          inv.issuedAt.Format("15:04:05"),
		PaymentMethod: methodLabel(inv.paymentMethod),
		Customer:      inv.customer,
		Shipping:      inv.shipping,
		Subtotal:      money.Format(inv.subtotal),
		Tax:           money.Format(inv.tax),
		Total:         money.Format(inv.total),
	}
	for _, it := range inv.items {
		v.Items = append(v.Items, ViewItem{
			Name:      it.Name,
			Brand:     it.Brand,
			Quantity:  it.Quantity,
			UnitPrice: money.Format(it.UnitPrice),
			Subtotal:  money.Format(it.Subtotal),
		})
	}
	return v
}

// ViewFromDelivery formats a delivery request, which carries no shipping block
func ViewFromDelivery(req models.DeliveryRequest, now time.Time) View {
	v := View{
		ID:            req.InvoiceID,
		Date:          now.Format("2006-01-02"),
		Time:          now.Format("15:04:05"),
		PaymentMethod: methodLabel(req.PaymentMethod),
		Customer:      Customer{Email: req.CustomerEmail, FullName: req.CustomerName},
		Subtotal:      money.Format(req.Subtotal),
		Tax:           money.Format(req.Tax),
		Total:         money.Format(req.Total),
	}
	for _, it := range req.Items {
		sub := it.Subtotal
		if sub.IsZero() {
			sub = NewItem(it.ProductID, it.Name, it.Brand, it.Quantity, it.UnitPrice).Subtotal
		}
		v.Items = append(v.Items, ViewItem{
			Name:      it.Name,
			Brand:     it.Brand,
			Quantity:  it.Quantity,
			UnitPrice: money.Format(it.UnitPrice),
			Subtotal:  money.Format(sub),
		})
	}
	return v
}

func methodLabel(m models.PaymentMethod) string {
	switch m {
	case models.PaymentMethodBankTransfer:
		return "Bank transfer"
	case models.PaymentMethodCard:
		return "Card"
	case models.PaymentMethodCashOnDelivery:
		return "Cash on delivery"
	case models.PaymentMethodDigitalWallet:
		return "Digital wallet"
	case models.PaymentMethodEmailOnly, "":
		return ""
	}
	return string(m)
}

// RenderText produces a plain-text invoice suitable for print or e-mail bodies
func RenderText(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s\n", v.ID)
	fmt.Fprintf(&b, "Date: %s %s\n", v.Date, v.Time)
	if v.Customer.FullName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", v.Customer.FullName)
	}
	fmt.Fprintf(&b, "Email: %s\n", v.Customer.Email)
	if v.Customer.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", v.Customer.Phone)
	}
	if v.Shipping.Address != "" {
		fmt.Fprintf(&b, "Ship to: %s, %s\n", v.Shipping.Address, v.Shipping.City)
	}
	if v.PaymentMethod != "" {
		fmt.Fprintf(&b, "Payment: %s\n", v.PaymentMethod)
	}
	b.WriteString("\n")
	for _, it := range v.Items {
		fmt.Fprintf(&b, "%d x %s (%s) @ %s = %s\n", it.Quantity, it.Name, it.Brand, it.UnitPrice, it.Subtotal)
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\nTax (15%%): %s\nTotal: %s\n", v.Subtotal, v.Tax, v.Total)
	return b.String()
}

var htmlTemplate = template.Must(template.New("invoice").Parse(`<h2>Invoice {{.ID}}</h2>
<p>{{.Date}} {{.Time}}</p>
<p>{{if .Customer.FullName}}<strong>{{.Customer.FullName}}</strong><br>{{end}}{{.Customer.Email}}{{if .Customer.Phone}}<br>{{.Customer.Phone}}{{end}}</p>
{{if .Shipping.Address}}<p>Ship to: {{.Shipping.Address}}, {{.Shipping.City}}{{if .Shipping.Notes}}<br>{{.Shipping.Notes}}{{end}}</p>{{end}}
{{if .PaymentMethod}}<p>Payment method: {{.PaymentMethod}}</p>{{end}}
<table>
<tr><th>Product</th><th>Brand</th><th>Qty</th><th>Unit price</th><th>Subtotal</th></tr>
{{range .Items}}<tr><td>{{.Name}}</td><td>{{.Brand}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Subtotal}}</td></tr>
{{end}}</table>
<p>Subtotal: {{.Subtotal}}<br>Tax (15%): {{.Tax}}<br><strong>Total: {{.Total}}</strong></p>
`))

// RenderHTML produces the HTML e-mail body for an invoice
func RenderHTML(v View) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("failed to render invoice: %w", err)
	}
	return buf.String(), nil
}
