package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/pkg/schema"
)

var sendEmailSchema = json.RawMessage(`{
  "type": "object",
  "required": ["recipient", "subject"],
  "properties": {
    "recipient": { "type": "string", "minLength": 1 },
    "subject": { "type": "string" },
    "body": { "type": "string" },
    "template": { "type": "string", "minLength": 1 },
    "from": { "type": "string" },
    "cc": { "type": ["string", "array"], "items": { "type": "string" } },
    "bcc": { "type": ["string", "array"], "items": { "type": "string" } },
    "priority": { "enum": ["high", "normal", "low"] }
  },
  "anyOf": [
    { "required": ["body"] },
    { "required": ["template"] }
  ]
}`)

// SendEmailAction interpolates and delivers one e-mail through a mailer.Sender.
type SendEmailAction struct {
	sender mailer.Sender
	interp *expressions.Interpolator
}

// NewSendEmailAction creates the send-email action.
func NewSendEmailAction(sender mailer.Sender, interp *expressions.Interpolator) *SendEmailAction {
	return &SendEmailAction{sender: sender, interp: interp}
}

func (a *SendEmailAction) Type() schema.StepType { return schema.StepTypeSendEmail }

func (a *SendEmailAction) Schema() ActionSchema {
	return ActionSchema{
		ParamsSchema: sendEmailSchema,
		Description:  "Send an e-mail built from a body or a named template",
	}
}

func (a *SendEmailAction) Validate(params map[string]any) error {
	if strings.TrimSpace(stringParam(params, "recipient", "")) == "" {
		return schema.NewError(schema.ErrCodeValidation, "send-email requires 'recipient'")
	}
	if _, ok := params["subject"].(string); !ok {
		return schema.NewError(schema.ErrCodeValidation, "send-email requires 'subject'")
	}
	body := stringParam(params, "body", "")
	tmpl := stringParam(params, "template", "")
	if body == "" && tmpl == "" {
		return schema.NewError(schema.ErrCodeValidation, "send-email requires 'body' or 'template'")
	}
	if tmpl != "" {
		if _, ok := lookupTemplate(tmpl); !ok {
			return schema.NewErrorf(schema.ErrCodeUnknownTemplate, "unknown email template %q", tmpl).
				WithDetails(map[string]any{"available": TemplateNames()})
		}
	}
	return nil
}

func (a *SendEmailAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	if a.sender == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "send-email: no mailer configured")
	}
	p, data := input.Params, input.Context

	subject := stringParam(p, "subject", "")
	body := stringParam(p, "body", "")
	if name := stringParam(p, "template", ""); name != "" {
		tmpl, ok := lookupTemplate(name)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownTemplate, "unknown email template %q", name)
		}
		body = tmpl.Body
		if strings.TrimSpace(subject) == "" {
			subject = tmpl.Subject
		}
	}

	text := a.interp.Interpolate(body, data)
	msg := &mailer.Message{
		To:       strings.TrimSpace(a.interp.Interpolate(stringParam(p, "recipient", ""), data)),
		Subject:  a.interp.Interpolate(subject, data),
		Text:     text,
		HTML:     RenderHTML(text),
		From:     a.interp.Interpolate(stringParam(p, "from", ""), data),
		CC:       a.interpolateList(stringListParam(p, "cc"), data),
		BCC:      a.interpolateList(stringListParam(p, "bcc"), data),
		Priority: stringParam(p, "priority", ""),
	}

	ok, err := a.sender.SendEmail(ctx, msg)
	if err != nil {
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeDeliveryFailed, "send email to %s: %s", msg.To, err.Error()).WithCause(err)
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDeliveryFailed, "email provider rejected message to %s", msg.To)
	}

	return &ActionOutput{
		Logs: []string{fmt.Sprintf("Email sent to %s", msg.To)},
		Set: map[string]any{
			contextKey("email", input.StepID, "sent"):      true,
			contextKey("email", input.StepID, "recipient"): msg.To,
		},
	}, nil
}

func (a *SendEmailAction) interpolateList(in []string, data map[string]any) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(a.interp.Interpolate(s, data)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
