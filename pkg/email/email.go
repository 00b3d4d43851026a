package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/textproto"

	"github.com/jordan-wright/email"
)

// Client sends notification mail over SMTP.
type Client struct {
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	Sender   string
}

func NewClient(userName, password, sender, smtpHost, smtpPort string) *Client {
	return &Client{
		SMTPHost: smtpHost,
		SMTPPort: smtpPort,
		SMTPUser: userName,
		SMTPPass: password,
		Sender:   sender,
	}
}

func (c *Client) Send(to []string, subject, text, html string) error {
	e := &email.Email{
		To:      to,
		From:    fmt.Sprintf("%s <%s>", c.Sender, c.SMTPUser),
		Subject: subject,
		Text:    []byte(text),
		HTML:    []byte(html),
		Headers: textproto.MIMEHeader{},
	}

	err := e.SendWithTLS(
		c.SMTPHost+":"+c.SMTPPort,
		smtp.PlainAuth("", c.SMTPUser, c.SMTPPass, c.SMTPHost),
		&tls.Config{ServerName: c.SMTPHost},
	)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// SendCertificateLink mails the recipient the public link to their
// certificate.
func (c *Client) SendCertificateLink(to, name, certificateURL string) error {
	subject := "Your certificate is ready"
	text := fmt.Sprintf("Hi %s,\n\nYour certificate is ready: %s\n", name, certificateURL)
	html := fmt.Sprintf(
		`<p>Hi %s,</p><p>Your certificate is ready: <a href="%s">%s</a></p>`,
		name, certificateURL, certificateURL,
	)
	return c.Send([]string{to}, subject, text, html)
}
