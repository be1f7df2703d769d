package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	vars := map[string]string{
		"first_name": "Ana",
		"deal.value": "1200",
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no placeholders", input: "Hello there", want: "Hello there"},
		{name: "simple", input: "Welcome {{first_name}}", want: "Welcome Ana"},
		{name: "spaces inside braces", input: "Welcome {{ first_name }}!", want: "Welcome Ana!"},
		{name: "dotted name", input: "Deal worth {{deal.value}}", want: "Deal worth 1200"},
		{name: "repeated", input: "{{first_name}} {{first_name}}", want: "Ana Ana"},
		{name: "unknown renders empty", input: "Hi {{last_name}}.", want: "Hi ."},
		{name: "single braces untouched", input: "{first_name}", want: "{first_name}"},
		{name: "html body", input: "<p>Hi {{first_name}}</p>", want: "<p>Hi Ana</p>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.input, vars))
		})
	}
}

func TestRenderAll(t *testing.T) {
	got := RenderAll([]string{"{{first_name}}", "static"}, map[string]string{"first_name": "Ana"})

	assert.Equal(t, []string{"Ana", "static"}, got)
}

func TestMissing(t *testing.T) {
	missing := Missing("{{first_name}} {{email}} {{phone}}", map[string]string{"first_name": "Ana"})

	assert.Equal(t, []string{"email", "phone"}, missing)
	assert.Empty(t, Missing("plain", nil))
}
