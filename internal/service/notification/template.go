package notification

import (
	"fmt"
	"regexp"
)

// placeholderPattern matches any brace-delimited placeholder, whatever the
// key looks like. Unknown keys render as the empty string, so no literal
// {{...}} ever reaches a recipient.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Template is a title/body pair with {{name}} placeholders.
type Template struct {
	Title string
	Body  string
}

// Render substitutes every {{name}} placeholder with the string form of
// data[name]. Placeholders with no matching key render as the empty string,
// never as a literal {{name}}; a nil template renders empty.
func Render(tmpl *Template, data map[string]interface{}) (title, body string) {
	if tmpl == nil {
		return "", ""
	}
	return renderString(tmpl.Title, data), renderString(tmpl.Body, data)
}

func renderString(s string, data map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := data[key]
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	})
}
