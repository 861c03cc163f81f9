package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/leadflow/pkg/schema"
)

func TestInterpolator_Render(t *testing.T) {
	interp := NewInterpolator()
	vars := map[string]any{
		"firstName": "Ana",
		"score":     72.5,
		"visits":    3,
		"vip":       true,
		"tags":      []any{"webinar", "vip"},
		"company":   map[string]any{"name": "Acme"},
		"a.b":       "direct",
	}

	cases := map[string]string{
		"Hi {{firstName}}!":                 "Hi Ana!",
		"Hi {{ firstName }}!":               "Hi Ana!",
		"{{missing}}|{{ }}":                 "|",
		"score={{score}} visits={{visits}}": "score=72.5 visits=3",
		"{{vip}} {{tags}}":                  "true webinar, vip",
		"at {{company.name}}":               "at Acme",
		"{{company.name.first}}":            "",
		"{{a.b}}":                           "direct",
		"no placeholders":                   "no placeholders",
		"broken {{firstName":                "broken {{firstName",
		"{{firstName}}{{firstName}}":        "AnaAna",
	}
	for in, want := range cases {
		assert.Equal(t, want, interp.Render(in, vars), in)
	}
	assert.Equal(t, "x", interp.Render("x{{y}}", nil))
}

func TestInterpolator_RenderMessageEscapesHTML(t *testing.T) {
	interp := NewInterpolator()
	tpl := &schema.EmailTemplate{
		Subject:  "Welcome {{firstName}}",
		HTMLBody: "<p>Hello {{firstName}} from {{company}}</p>",
		TextBody: "Hello {{firstName}}",
	}
	msg := interp.RenderMessage(tpl, "ana@example.com", map[string]any{
		"firstName": "Ana <b>",
		"company":   "R&D",
	})

	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Welcome Ana <b>", msg.Subject)
	assert.Equal(t, "<p>Hello Ana &lt;b&gt; from R&amp;D</p>", msg.HTMLBody)
	assert.Equal(t, "Hello Ana <b>", msg.TextBody)
}

func TestConditionScope_Copies(t *testing.T) {
	trigger := map[string]any{"nested": map[string]any{"k": "v"}}
	scope := ConditionScope(&schema.Lead{ID: "lead-1", Tags: []string{"a"}}, trigger)

	trigger["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", scope["trigger"].(map[string]any)["nested"].(map[string]any)["k"])
	assert.Equal(t, "lead-1", scope["lead"].(map[string]any)["id"])

	empty := ConditionScope(nil, nil)
	assert.Equal(t, map[string]any{}, empty["lead"])
}
