package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/meridian-erp/meridian-returns/internal/invoicing"
)

const creditNoteHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Credit Note {{.DocNumber}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 40px; color: #1a1a1a; }
h1 { font-size: 22px; margin-bottom: 4px; }
.meta { color: #555; margin-bottom: 24px; }
table { width: 100%; border-collapse: collapse; margin-bottom: 24px; }
th, td { border-bottom: 1px solid #ddd; padding: 6px 8px; text-align: left; }
td.num, th.num { text-align: right; }
.totals td { border: none; font-weight: bold; }
</style>
</head>
<body>
<h1>Credit Note {{.DocNumber}}</h1>
<div class="meta">
{{.Company}}<br>
Customer: {{.Customer}}<br>
Return against invoice {{.ReturnAgainst}}<br>
Posting date: {{.PostingDate.Format "2006-01-02"}}
</div>
<table>
<tr><th>#</th><th>Item</th><th class="num">Qty</th><th class="num">Rate</th><th class="num">Amount</th></tr>
{{range .Lines}}
<tr><td>{{.LineNo}}</td><td>{{.ItemCode}} {{.ItemName}}</td><td class="num">{{printf "%.2f" .Quantity}}</td><td class="num">{{printf "%.2f" .Rate}}</td><td class="num">{{printf "%.2f" .Amount}}</td></tr>
{{end}}
</table>
<table class="totals">
<tr><td>Net Total</td><td class="num">{{printf "%.2f" .NetTotal}}</td></tr>
{{range .Taxes}}
<tr><td>{{.AccountHead}}</td><td class="num">{{printf "%.2f" .TaxAmount}}</td></tr>
{{end}}
<tr><td>Grand Total</td><td class="num">{{printf "%.2f" .GrandTotal}}</td></tr>
</table>
</body>
</html>`

// CreditNotePDF renders a credit note document through Gotenberg.
type CreditNotePDF struct {
	client *Client
	tmpl   *template.Template
}

// NewCreditNotePDF prepares the renderer.
func NewCreditNotePDF(client *Client) (*CreditNotePDF, error) {
	tmpl, err := template.New("credit_note").Parse(creditNoteHTML)
	if err != nil {
		return nil, fmt.Errorf("parse credit note template: %w", err)
	}
	return &CreditNotePDF{client: client, tmpl: tmpl}, nil
}

// RenderCreditNote produces the PDF bytes for an issued credit note.
func (r *CreditNotePDF) RenderCreditNote(ctx context.Context, inv *invoicing.Invoice) ([]byte, error) {
	if !inv.IsReturn {
		return nil, fmt.Errorf("invoice %s is not a credit note", inv.DocNumber)
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, inv); err != nil {
		return nil, fmt.Errorf("execute credit note template: %w", err)
	}
	return r.client.RenderHTML(ctx, buf.String())
}
