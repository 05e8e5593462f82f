package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

const (
	TemplateMagicLink     = "magic_link"
	TemplateOperatorOrder = "operator_order"
)

var magicLinkTmpl = template.Must(template.New(TemplateMagicLink).Parse(
	`<p>Click the link below to sign in. It expires in {{.Minutes}} minutes and works once.</p>
<p><a href="{{.URL}}">Sign in to Stickerforge</a></p>`))

var operatorOrderTmpl = template.Must(template.New(TemplateOperatorOrder).Parse(
	`<h2>Sticker order {{if .Fulfilled}}placed{{else}}NOT placed{{end}}</h2>
<ul>
<li>Event: {{.EventID}}</li>
<li>Buyer: {{.BuyerName}} &lt;{{.BuyerEmail}}&gt;</li>
<li>Artwork: <a href="{{.ArtworkURL}}">{{.ArtworkURL}}</a></li>
<li>Ship to: {{.AddressLine}}</li>
{{if .Fulfilled}}<li>Partner order: {{.OrderID}}</li>{{else}}<li>Failure: {{.Failure}}</li>{{end}}
</ul>`))

// OrderSummary is what the operator is told about a paid sticker order
type OrderSummary struct {
	EventID    string
	BuyerName  string
	BuyerEmail string
	ArtworkURL string
	Address    models.Address
	Fulfilled  bool
	OrderID    string
	Failure    string
}

// Notifier renders the two transactional templates and sends them
type Notifier struct {
	sender        Sender
	operatorEmail string
	logger        *logging.Logger
}

// NewNotifier creates a notifier
func NewNotifier(sender Sender, operatorEmail string, logger *logging.Logger) *Notifier {
	return &Notifier{sender: sender, operatorEmail: operatorEmail, logger: logger}
}

// SendMagicLink mails a sign-in link
func (n *Notifier) SendMagicLink(ctx context.Context, to, link string, minutes int) error {
	var buf bytes.Buffer
	if err := magicLinkTmpl.Execute(&buf, map[string]any{"URL": link, "Minutes": minutes}); err != nil {
		return fmt.Errorf("failed to render magic link email: %w", err)
	}

	err := n.sender.Send(ctx, Message{
		To:      to,
		Subject: "Your Stickerforge sign-in link",
		HTML:    buf.String(),
		Text:    fmt.Sprintf("Sign in: %s (expires in %d minutes)", link, minutes),
	})
	metrics.RecordEmail(TemplateMagicLink, err)
	return err
}

// SendOrderNotification tells the operator about a sticker order and whether
// the print order went through
func (n *Notifier) SendOrderNotification(ctx context.Context, order OrderSummary) error {
	if n.operatorEmail == "" {
		n.logger.WithEventID(order.EventID).Warn("operator email not configured, order notification skipped")
		return fmt.Errorf("operator email not configured")
	}

	data := struct {
		OrderSummary
		AddressLine string
	}{order, formatAddress(order.Address)}

	var buf bytes.Buffer
	if err := operatorOrderTmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render order email: %w", err)
	}

	status := "placed"
	if !order.Fulfilled {
		status = "FAILED"
	}

	err := n.sender.Send(ctx, Message{
		To:      n.operatorEmail,
		Subject: fmt.Sprintf("Sticker order %s (%s)", status, order.EventID),
		HTML:    buf.String(),
	})
	metrics.RecordEmail(TemplateOperatorOrder, err)
	return err
}

func formatAddress(a models.Address) string {
	parts := []string{}
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "(no address)"
	}
	return strings.Join(parts, ", ")
}
