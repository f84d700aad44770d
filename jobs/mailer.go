package jobs

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPMailer sends credit note mails with the PDF attached. Customer contact
// addresses are not modelled yet, so everything goes to a configured AR inbox.
type SMTPMailer struct {
	addr  string
	from  string
	inbox string
}

// NewSMTPMailer constructs a mailer for the given SMTP endpoint.
func NewSMTPMailer(host string, port int, from, inbox string) *SMTPMailer {
	return &SMTPMailer{
		addr:  fmt.Sprintf("%s:%d", host, port),
		from:  from,
		inbox: inbox,
	}
}

// SendCreditNote mails the rendered credit note.
func (m *SMTPMailer) SendCreditNote(ctx context.Context, customer, creditNote string, pdf []byte) error {
	subject := fmt.Sprintf("Credit Note %s for %s", creditNote, customer)
	msg := buildMIMEMessage(m.from, m.inbox, subject,
		fmt.Sprintf("Credit note %s was issued for customer %s. The document is attached.", creditNote, customer),
		creditNote+".pdf", pdf)
	return smtp.SendMail(m.addr, nil, m.from, []string{m.inbox}, msg)
}

const mimeBoundary = "meridian-attachment"

func buildMIMEMessage(from, to, subject, body, filename string, attachment []byte) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=" + mimeBoundary + "\r\n\r\n")

	b.WriteString("--" + mimeBoundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body + "\r\n\r\n")

	b.WriteString("--" + mimeBoundary + "\r\n")
	b.WriteString("Content-Type: application/pdf\r\n")
	b.WriteString("Content-Disposition: attachment; filename=" + filename + "\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	encoded := base64.StdEncoding.EncodeToString(attachment)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded + "\r\n")
	b.WriteString("--" + mimeBoundary + "--\r\n")
	return []byte(b.String())
}
