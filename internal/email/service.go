package email

import (
	"fmt"
	"net/smtp"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/domain/inventory"
)

// Service handles email sending via SMTP
type Service struct {
	host     string
	port     int
	from     string
	username string
	password string
}

// NewService creates a new email service. Authentication is skipped when
// username is empty, which suits local relays such as MailHog.
func NewService(host string, port int, from, username, password string) *Service {
	return &Service{
		host:     host,
		port:     port,
		from:     from,
		username: username,
		password: password,
	}
}

// SendStockAlert tells an operator that a ticket type changed availability level
func (s *Service) SendStockAlert(to string, alert availability.Alert, rec inventory.Record) error {
	subject := fmt.Sprintf("[%s] %s: %s", alert.Severity, rec.Name, levelLabel(alert.Level))
	body := BuildStockAlertBody(alert, rec)
	return s.send(to, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	return smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg))
}
