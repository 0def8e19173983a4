package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"

	"github.com/go-mail/mail/v2"
)

//go:embed "templates"
var templateFS embed.FS

type Mailer interface {
	Send(recipient, templateFile string, data any) error
}

type SMTPMailer struct {
	dialer *mail.Dialer
	sender string
}

func NewSMTPMailer(host string, port int, username, password, sender string) *SMTPMailer {
	dialer := mail.NewDialer(host, port, username, password)
	dialer.Timeout = 5 * time.Second

	return &SMTPMailer{
		dialer: dialer,
		sender: sender,
	}
}

// Send renders the subject, plainBody and htmlBody blocks of templateFile and delivers the
// message, retrying up to three times.
func (m *SMTPMailer) Send(recipient, templateFile string, data any) error {
	content, err := render(templateFile, data)
	if err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("To", recipient)
	msg.SetHeader("From", m.sender)
	msg.SetHeader("Subject", content.subject)
	msg.SetBody("text/plain", content.plainBody)
	msg.AddAlternative("text/html", content.htmlBody)

	for i := 1; i <= 3; i++ {
		err = m.dialer.DialAndSend(msg)
		if err == nil {
			return nil
		}

		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("send email to %s: %w", recipient, err)
}

type renderedEmail struct {
	subject   string
	plainBody string
	htmlBody  string
}

func render(templateFile string, data any) (renderedEmail, error) {
	tmpl, err := template.New("email").ParseFS(templateFS, "templates/"+templateFile)
	if err != nil {
		return renderedEmail{}, err
	}

	var out renderedEmail
	blocks := []struct {
		name string
		dst  *string
	}{
		{"subject", &out.subject},
		{"plainBody", &out.plainBody},
		{"htmlBody", &out.htmlBody},
	}

	for _, b := range blocks {
		buf := new(bytes.Buffer)
		err = tmpl.ExecuteTemplate(buf, b.name, data)
		if err != nil {
			return renderedEmail{}, fmt.Errorf("render %s of %s: %w", b.name, templateFile, err)
		}
		*b.dst = buf.String()
	}

	return out, nil
}
