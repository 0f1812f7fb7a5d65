package step

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SendEmailHandler delivers mail over SMTP when a server is configured, and
// otherwise records the message as queued so workflows remain runnable
// without mail infrastructure.
type SendEmailHandler struct {
	// Addr is the SMTP server ("host:port"). Empty means queue-only.
	Addr string
	// From is the envelope sender used for SMTP delivery.
	From string
	// Auth optionally authenticates the SMTP session.
	Auth smtp.Auth

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSendEmailHandler returns a handler delivering through the given SMTP
// server, or queueing when addr is empty.
func NewSendEmailHandler(addr, from string, auth smtp.Auth) *SendEmailHandler {
	return &SendEmailHandler{Addr: addr, From: from, Auth: auth, send: smtp.SendMail}
}

func (h *SendEmailHandler) Metadata() Metadata {
	return Metadata{
		Label:       "Send Email",
		Description: "Send an email, or queue it when no SMTP server is configured",
		ConfigSchema: map[string]any{
			"to":      map[string]any{"type": "string", "required": true},
			"subject": map[string]any{"type": "string", "required": true},
			"body":    map[string]any{"type": "string"},
		},
	}
}

func (h *SendEmailHandler) Execute(_ context.Context, config, _ map[string]any) (map[string]any, error) {
	to, err := requireStr(config, "to")
	if err != nil {
		return nil, NonRetriable(err)
	}
	subject, err := requireStr(config, "subject")
	if err != nil {
		return nil, NonRetriable(err)
	}
	body := strField(config, "body")

	recipients := splitRecipients(to)
	out := map[string]any{
		"sent_to": to,
		"subject": subject,
	}
	if h.Addr == "" {
		out["status"] = "queued"
		return out, nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", h.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := h.send(h.Addr, h.Auth, h.From, recipients, []byte(msg.String())); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	out["status"] = "sent"
	return out, nil
}

func splitRecipients(to string) []string {
	parts := strings.Split(to, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
