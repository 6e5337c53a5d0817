package mailer

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/rendis/triggerflow/pkg/schema"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c SMTPConfig) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(c.Port),
		mail.WithTimeout(c.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if c.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.Username),
			mail.WithPassword(c.Password),
		)
	}
	return opts
}

type deliverFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPSender delivers multipart/alternative messages over SMTP.
type SMTPSender struct {
	cfg     SMTPConfig
	deliver deliverFunc
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "smtp from address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if _, err := mail.NewClient(cfg.Host, cfg.clientOptions()...); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid smtp config").WithCause(err)
	}

	s := &SMTPSender{cfg: cfg}
	// a client per send: dispatch delivers from several goroutines at once
	s.deliver = func(ctx context.Context, msg *mail.Msg) error {
		client, err := mail.NewClient(cfg.Host, cfg.clientOptions()...)
		if err != nil {
			return err
		}
		return client.DialAndSendWithContext(ctx, msg)
	}
	return s, nil
}

// SendEmail builds the message and hands it to the SMTP server, bounded by ctx
// and the configured timeout.
func (s *SMTPSender) SendEmail(ctx context.Context, msg *Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}

	from := msg.From
	if from == "" {
		from = s.cfg.From
	}
	m, err := buildMsg(msg, from)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.deliver(ctx, m); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, schema.NewError(schema.ErrCodeTimeout, "smtp send interrupted").WithCause(ctxErr)
		}
		return false, schema.NewErrorf(schema.ErrCodeDeliveryFailed, "smtp send to %s: %s", msg.To, err.Error()).WithCause(err)
	}
	return true, nil
}

var importance = map[string]mail.Importance{
	PriorityHigh: mail.ImportanceHigh,
	PriorityLow:  mail.ImportanceLow,
}

// buildMsg renders a plain-text message with an optional HTML alternative.
// BCC recipients go on the envelope only.
func buildMsg(msg *Message, from string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, invalidAddress("from", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, invalidAddress("to", msg.To, err)
	}
	if cc := nonBlank(msg.CC); len(cc) > 0 {
		if err := m.Cc(cc...); err != nil {
			return nil, invalidAddress("cc", strings.Join(cc, ", "), err)
		}
	}
	if bcc := nonBlank(msg.BCC); len(bcc) > 0 {
		if err := m.Bcc(bcc...); err != nil {
			return nil, invalidAddress("bcc", strings.Join(bcc, ", "), err)
		}
	}

	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	if imp, ok := importance[msg.Priority]; ok {
		m.SetImportance(imp)
	}
	return m, nil
}

func invalidAddress(field, value string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid %s address %q", field, value).WithCause(err)
}

func nonBlank(addrs []string) []string {
	var out []string
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
