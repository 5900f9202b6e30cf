package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	tmpl := &Template{
		Title: "Order {{tracking_number}}",
		Body:  "Hi {{name}}, your order {{tracking_number}} is on its way.",
	}

	title, body := Render(tmpl, map[string]interface{}{
		"tracking_number": "TRK-1001",
		"name":            "Dewi",
	})
	assert.Equal(t, "Order TRK-1001", title)
	assert.Equal(t, "Hi Dewi, your order TRK-1001 is on its way.", body)
}

func TestRenderMissingKeyIsEmpty(t *testing.T) {
	tmpl := &Template{Body: "Hello {{name}}!"}

	_, body := Render(tmpl, map[string]interface{}{})
	assert.Equal(t, "Hello !", body)

	_, body = Render(tmpl, nil)
	assert.Equal(t, "Hello !", body)
}

func TestRenderNilValueIsEmpty(t *testing.T) {
	tmpl := &Template{Body: "Reason: {{reason}}"}

	_, body := Render(tmpl, map[string]interface{}{"reason": nil})
	assert.Equal(t, "Reason: ", body)
}

func TestRenderToleratesWhitespaceInPlaceholder(t *testing.T) {
	tmpl := &Template{Body: "{{ name }} and {{name}}"}

	_, body := Render(tmpl, map[string]interface{}{"name": "Budi"})
	assert.Equal(t, "Budi and Budi", body)
}

func TestRenderNonStringValues(t *testing.T) {
	tmpl := &Template{Body: "{{count}} packages"}

	_, body := Render(tmpl, map[string]interface{}{"count": 3})
	assert.Equal(t, "3 packages", body)
}

func TestRenderLeavesNoPlaceholderResidue(t *testing.T) {
	tmpl := &Template{Body: "order {{tracking-number}} for {{user.name}} ({{ }}{{}})"}

	_, body := Render(tmpl, map[string]interface{}{})
	assert.NotContains(t, body, "{{")
	assert.NotContains(t, body, "}}")
	assert.Equal(t, "order  for  ()", body)
}

func TestRenderResolvesUnusualKeys(t *testing.T) {
	tmpl := &Template{Body: "order {{tracking-number}}"}

	_, body := Render(tmpl, map[string]interface{}{"tracking-number": "TRK-1001"})
	assert.Equal(t, "order TRK-1001", body)
}

func TestRenderNilTemplate(t *testing.T) {
	title, body := Render(nil, map[string]interface{}{"name": "x"})
	assert.Empty(t, title)
	assert.Empty(t, body)
}

func TestRenderLeavesPlainTextAlone(t *testing.T) {
	tmpl := &Template{Title: "Delivered", Body: "No placeholders here"}

	title, body := Render(tmpl, nil)
	assert.Equal(t, "Delivered", title)
	assert.Equal(t, "No placeholders here", body)
}
