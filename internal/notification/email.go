// Package notification delivers portal email over SMTP.
package notification

import (
	"fmt"
	"html"
	"mime"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/tendant/immigration-portal/internal/config"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailService struct {
	config config.SMTPConfig
	send   sendFunc
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	return &EmailService{config: cfg, send: smtp.SendMail}
}

func (s *EmailService) SendPasswordResetEmail(to, resetURL string) error {
	subject := "Reset your portal password"
	link := html.EscapeString(resetURL)
	body := fmt.Sprintf(`<html><body>
		<h2>Reset your password</h2>
		<p>A password reset was requested for your immigration portal account.</p>
		<p><a href="%s">Click here to choose a new password</a></p>
		<p>Or copy this link to your browser: %s</p>
		<p>This link expires in 1 hour. All of your active sessions end once the password is changed.</p>
		<p>If you did not request this, you can ignore this email.</p>
	</body></html>`, link, link)
	return s.sendEmail(to, subject, body)
}

// SendNotificationEmail mirrors an in-app notification. The body is plain
// text and is escaped before it is placed in the HTML message.
func (s *EmailService) SendNotificationEmail(to, subject, body string) error {
	paragraphs := strings.Split(html.EscapeString(body), "\n")
	content := fmt.Sprintf(`<html><body>
		<h2>%s</h2>
		<p>%s</p>
		<p>Sign in to the portal to see the full details.</p>
	</body></html>`, html.EscapeString(subject), strings.Join(paragraphs, "<br>"))
	return s.sendEmail(to, subject, content)
}

func (s *EmailService) sendEmail(to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, mime.QEncoding.Encode("utf-8", subject), body)

	var auth smtp.Auth
	if s.config.User != "" {
		auth = smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	}
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	return s.send(addr, auth, s.config.From, []string{to}, []byte(msg))
}
