package expressions

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/rendis/leadflow/pkg/schema"
)

// Interpolator substitutes {{variable}} placeholders in email templates.
// Variables resolve against a flat map first, then by dot-delimited path into
// nested maps ({{company.name}}). Unknown variables render as the empty string;
// an unclosed "{{" is kept as literal text.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Render substitutes every placeholder in text.
func (interp *Interpolator) Render(text string, vars map[string]any) string {
	return interp.render(text, vars, false)
}

// RenderMessage renders a template into a message addressed to to. Values
// placed into the HTML body are HTML-escaped.
func (interp *Interpolator) RenderMessage(tpl *schema.EmailTemplate, to string, vars map[string]any) *schema.EmailMessage {
	return &schema.EmailMessage{
		To:       to,
		Subject:  interp.render(tpl.Subject, vars, false),
		HTMLBody: interp.render(tpl.HTMLBody, vars, true),
		TextBody: interp.render(tpl.TextBody, vars, false),
	}
}

func (interp *Interpolator) render(input string, vars map[string]any, escapeHTML bool) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}
		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			result.WriteString(input[i+idx:])
			break
		}
		end += start

		name := strings.TrimSpace(input[start:end])
		val := formatValue(lookup(vars, name))
		if escapeHTML {
			val = html.EscapeString(val)
		}
		result.WriteString(val)

		i = end + 2
	}

	return result.String()
}

// lookup resolves name in vars; a direct key wins over path traversal.
func lookup(vars map[string]any, name string) any {
	if name == "" || vars == nil {
		return nil
	}
	if val, ok := vars[name]; ok {
		return val
	}

	var current any = vars
	for _, seg := range strings.Split(name, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = m[seg]; !ok {
			return nil
		}
	}
	return current
}

// formatValue renders a resolved value as text.
func formatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}
