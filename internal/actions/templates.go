package actions

import "sort"

// EmailTemplate is a fixed subject and body skeleton. Placeholders are
// resolved against the run context like any other parameter.
type EmailTemplate struct {
	Subject string
	Body    string
}

var emailTemplates = map[string]EmailTemplate{
	"welcome": {
		Subject: "Welcome, {{name}}!",
		Body: "Hi {{name}},\n\n" +
			"Thanks for signing up. Your account is ready to use.\n\n" +
			"If you have any questions, just reply to this email.",
	},
	"notification": {
		Subject: "Notification: {{title}}",
		Body: "Hello,\n\n" +
			"{{message}}\n\n" +
			"Sent on {{date}} at {{time}}.",
	},
	"reminder": {
		Subject: "Reminder: {{title}}",
		Body: "Hi {{name}},\n\n" +
			"This is a friendly reminder about {{title}}, due {{due_date}}.\n\n" +
			"{{message}}",
	},
	"approval": {
		Subject: "Approval needed: {{title}}",
		Body: "Hello,\n\n" +
			"{{requester}} has requested your approval for {{title}}.\n\n" +
			"{{message}}\n\n" +
			"Review it here: {{approval_url}}",
	},
	"report": {
		Subject: "Report: {{title}} ({{date}})",
		Body: "Hello,\n\n" +
			"Here is the {{title}} report generated on {{datetime}}.\n\n" +
			"{{summary}}",
	},
}

func lookupTemplate(name string) (EmailTemplate, bool) {
	t, ok := emailTemplates[name]
	return t, ok
}

// TemplateNames lists the built-in e-mail templates.
func TemplateNames() []string {
	names := make([]string, 0, len(emailTemplates))
	for n := range emailTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
