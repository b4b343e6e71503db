package mailer

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderEmail carries everything the order templates need. Amounts are
// pre-formatted decimals so templates stay free of money arithmetic.
type OrderEmail struct {
	OrderID       uint
	SessionID     string
	CustomerName  string
	CustomerEmail string
	Items         []OrderEmailItem
	Subtotal      decimal.Decimal
	ShippingCost  decimal.Decimal
	Taxes         decimal.Decimal
	Total         decimal.Decimal
	RelayName     string
	RelayAddress  string
	NeedsReview   bool
	AdminURL      string
}

type OrderEmailItem struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

var templateFuncs = template.FuncMap{
	"euros": func(d decimal.Decimal) string {
		return d.StringFixed(2) + " €"
	},
}

var ownerAlertTmpl = template.Must(template.New("owner_alert").Funcs(templateFuncs).Parse(`
<h2>Nouvelle commande #{{.OrderID}}</h2>
<p>{{.CustomerName}} ({{.CustomerEmail}}) vient de passer commande.</p>
{{if .NeedsReview}}<p><strong>Attention&nbsp;: cette commande nécessite une vérification de stock.</strong></p>{{end}}
<table cellpadding="4">
{{range .Items}}<tr><td>{{.Name}}</td><td>x{{.Quantity}}</td><td>{{euros .Price}}</td></tr>
{{end}}</table>
<p>Sous-total&nbsp;: {{euros .Subtotal}}<br>
Livraison&nbsp;: {{euros .ShippingCost}}<br>
Taxes&nbsp;: {{euros .Taxes}}<br>
<strong>Total&nbsp;: {{euros .Total}}</strong></p>
<p><a href="{{.AdminURL}}">Voir la commande</a></p>
`))

var confirmationTmpl = template.Must(template.New("order_confirmation").Funcs(templateFuncs).Parse(`
<h2>Merci pour votre commande&nbsp;!</h2>
<p>Bonjour {{.CustomerName}},</p>
<p>Votre commande #{{.OrderID}} est confirmée.</p>
<table cellpadding="4">
{{range .Items}}<tr><td>{{.Name}}</td><td>x{{.Quantity}}</td><td>{{euros .Price}}</td></tr>
{{end}}</table>
<p>Sous-total&nbsp;: {{euros .Subtotal}}<br>
Livraison&nbsp;: {{euros .ShippingCost}}<br>
Taxes&nbsp;: {{euros .Taxes}}<br>
<strong>Total&nbsp;: {{euros .Total}}</strong></p>
{{if .RelayName}}<p>Votre colis sera déposé au point relais&nbsp;:<br>
<strong>{{.RelayName}}</strong><br>{{.RelayAddress}}</p>{{end}}
<p>À bientôt,<br>La Mallette</p>
`))

// RenderOwnerAlert builds the new-order notification sent to the shop owner.
func RenderOwnerAlert(data OrderEmail) (subject string, body string, err error) {
	var b strings.Builder
	if err := ownerAlertTmpl.Execute(&b, data); err != nil {
		return "", "", fmt.Errorf("rendering owner alert: %w", err)
	}
	subject = fmt.Sprintf("Nouvelle commande #%d", data.OrderID)
	if data.NeedsReview {
		subject = fmt.Sprintf("[STOCK] Nouvelle commande #%d", data.OrderID)
	}
	return subject, b.String(), nil
}

// RenderOrderConfirmation builds the customer-facing confirmation, sent once
// a pickup point has been chosen.
func RenderOrderConfirmation(data OrderEmail) (subject string, body string, err error) {
	var b strings.Builder
	if err := confirmationTmpl.Execute(&b, data); err != nil {
		return "", "", fmt.Errorf("rendering order confirmation: %w", err)
	}
	return fmt.Sprintf("Confirmation de votre commande #%d", data.OrderID), b.String(), nil
}
