package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/emersion/go-message/mail"
)

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier 透過 SMTP 寄信給警報設定的收件者。
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	send     sendFunc
	now      func() time.Time
}

func NewEmailNotifier(host string, port int, username, password, from string) *EmailNotifier {
	return &EmailNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Notify(ctx context.Context, a alertDomain.Alert, o alertDomain.Outcome) error {
	msg, err := n.compose(a, o)
	if err != nil {
		return &alertDomain.NotifierError{Channel: n.Name(), Err: err}
	}

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}
	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))

	// net/smtp 不支援 context，改以 goroutine 等待。
	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, auth, n.from, []string{a.Email}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return &alertDomain.NotifierError{Channel: n.Name(), Err: err}
		}
		return nil
	case <-ctx.Done():
		return &alertDomain.NotifierError{Channel: n.Name(), Err: ctx.Err()}
	}
}

func (n *EmailNotifier) compose(a alertDomain.Alert, o alertDomain.Outcome) ([]byte, error) {
	var h mail.Header
	h.SetDate(n.now())
	h.SetAddressList("From", []*mail.Address{{Name: "SmartStock Alerts", Address: n.from}})
	h.SetAddressList("To", []*mail.Address{{Address: a.Email}})
	h.SetSubject(FormatSubject(a))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	if _, err := w.Write([]byte(FormatText(a, o))); err != nil {
		return nil, fmt.Errorf("write mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}
