package schema

import "strings"

// Lead is the CRM record a workflow execution targets.
type Lead struct {
	ID         string         `json:"id"`
	Email      string         `json:"email"`
	FirstName  string         `json:"first_name,omitempty"`
	LastName   string         `json:"last_name,omitempty"`
	Status     string         `json:"status,omitempty"`
	Source     string         `json:"source,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// HasTag reports whether the lead carries tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Vars flattens the lead into the variable map used for template substitution
// and condition evaluation. Custom attributes never shadow the core fields.
func (l *Lead) Vars() map[string]any {
	vars := make(map[string]any, len(l.Attributes)+8)
	for k, v := range l.Attributes {
		vars[k] = v
	}
	tags := make([]any, len(l.Tags))
	for i, t := range l.Tags {
		tags[i] = t
	}
	vars["id"] = l.ID
	vars["email"] = l.Email
	vars["firstName"] = l.FirstName
	vars["lastName"] = l.LastName
	vars["fullName"] = strings.TrimSpace(l.FirstName + " " + l.LastName)
	vars["status"] = l.Status
	vars["source"] = l.Source
	vars["tags"] = tags
	return vars
}

// EmailTemplate is a resolved email body with {{variable}} placeholders.
type EmailTemplate struct {
	Ref      string `json:"ref"`
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
}

// EmailMessage is a fully rendered email ready for the sender.
type EmailMessage struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
}
