package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// SMTPSink delivers notifications by email. Built directly on the
// standard library's net/smtp — the retrieval pack carries no
// third-party mail client, so this ambient concern stays on stdlib
// (documented in DESIGN.md).
type SMTPSink struct {
	Host     string
	Port     string
	From     string
	To       []string
	Username string
	Password string
}

func (s *SMTPSink) Notify(ctx context.Context, subject, body string) error {
	addr := s.Host + ":" + s.Port
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.From, strings.Join(s.To, ", "), subject, body)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	if err := smtp.SendMail(addr, auth, s.From, s.To, []byte(msg)); err != nil {
		return errs.Wrap(errs.KindReporting, "send smtp notification", err).WithField("addr", addr)
	}
	return nil
}
