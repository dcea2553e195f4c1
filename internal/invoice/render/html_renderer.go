package render

import (
	"bytes"
	"html/template"
)

const invoiceEmailTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.Number}}</title>
  <style>
    body { margin: 0; padding: 32px; font-family: -apple-system, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .card { background: #ffffff; max-width: 600px; margin: 0 auto; padding: 40px; border-radius: 4px; }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; font-weight: 600; }
    .value { font-size: 14px; line-height: 1.5; }
    table { width: 100%; border-collapse: collapse; margin-top: 24px; }
    td { padding: 8px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; }
    td.amount { text-align: right; }
    .total td { font-weight: 700; border-bottom: none; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Invoice for {{.MonthTitle}}</h1>
    <p class="value">Hello {{.TenantName}}, your invoice {{.Number}} is attached.</p>
    <div class="label">Service period</div>
    <div class="value">{{.PeriodStart}} to {{.PeriodEnd}}</div>
    <div class="label">Due date</div>
    <div class="value">{{.DueDate}}</div>
    <table>
      <tr><td>Base fee</td><td class="amount">{{.BaseFee}}</td></tr>
      <tr><td>Calls ({{.TotalCalls}})</td><td class="amount"></td></tr>
      <tr><td>Messages ({{.TotalMessages}})</td><td class="amount"></td></tr>
      <tr><td>Usage charges</td><td class="amount">{{.UsageCharges}}</td></tr>
      <tr class="total"><td>Amount due</td><td class="amount">{{.Total}}</td></tr>
    </table>
  </div>
</body>
</html>
`

// EmailInput holds preformatted values; the template does no arithmetic.
type EmailInput struct {
	TenantName    string
	Number        string
	MonthTitle    string
	PeriodStart   string
	PeriodEnd     string
	DueDate       string
	TotalCalls    int64
	TotalMessages int64
	BaseFee       string
	UsageCharges  string
	Total         string
}

type Renderer interface {
	RenderEmail(input EmailInput) (string, error)
}

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice_email").Parse(invoiceEmailTemplate)),
	}
}

func (r *HTMLRenderer) RenderEmail(input EmailInput) (string, error) {
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, input); err != nil {
		return "", err
	}
	return buf.String(), nil
}
