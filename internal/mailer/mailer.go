package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/model"
)

const verificationTpl = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <p>Hello,</p>
  <p>Your {{.Purpose}} code is <strong>{{.Code}}</strong>.</p>
  <p>It is valid for {{.Minutes}} minutes. If you did not ask for it you can ignore this email.</p>
</body>
</html>
`

var verificationTemplate = template.Must(template.New("verification").Parse(verificationTpl))

type verificationData struct {
	Purpose string
	Code    string
	Minutes int
}

func purposeLabel(purpose model.VerificationPurpose) string {
	return strings.ReplaceAll(string(purpose), "_", " ")
}

func renderVerification(purpose model.VerificationPurpose, code string, ttl time.Duration) (string, error) {
	var body bytes.Buffer
	err := verificationTemplate.Execute(&body, verificationData{
		Purpose: purposeLabel(purpose),
		Code:    code,
		Minutes: int(ttl.Minutes()),
	})
	if err != nil {
		return "", fmt.Errorf("executing email template: %w", err)
	}
	return body.String(), nil
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// New returns an SMTP mailer, or a mailer that only logs when no host is configured.
func New(config Config) *Mailer {
	return &Mailer{config: config, send: smtp.SendMail}
}

type Mailer struct {
	config Config
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (m *Mailer) SendVerificationCode(ctx context.Context, email string, purpose model.VerificationPurpose, code string, ttl time.Duration) error {
	if m.config.Host == "" {
		log.Infof("verification code for %s (%s): %s", email, purpose, code)
		return nil
	}

	body, err := renderVerification(purpose, code, ttl)
	if err != nil {
		return err
	}

	msg := strings.Builder{}
	msg.WriteString("From: " + m.config.From + "\r\n")
	msg.WriteString("To: " + email + "\r\n")
	msg.WriteString("Subject: Your " + purposeLabel(purpose) + " code\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.send(addr, auth, m.config.From, []string{email}, []byte(msg.String()))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("sending email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
