package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext() Context {
	return Context{
		Variables: map[string]any{"coupon": "WELCOME10", "user.name": "shadowed"},
		User: map[string]any{
			"name":  "Ada",
			"email": "ada@example.com",
			"custom_properties": map[string]any{
				"industry": "fintech",
			},
		},
		Account: map[string]any{
			"name":      "Lovelace Ltd",
			"mrr_cents": float64(49900),
		},
	}
}

func TestResolve(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"user field", "Hello {{user.name}}", "Hello Ada"},
		{"account field", "Account: {{account.name}}", "Account: Lovelace Ltd"},
		{"bare variable", "Use code {{coupon}}", "Use code WELCOME10"},
		{"scoped lookup wins over variable", "{{user.name}}", "Ada"},
		{"dot path", "{{user.custom_properties.industry}}", "fintech"},
		{"integral float renders without decimal", "{{account.mrr_cents}}", "49900"},
		{"unknown placeholder left verbatim", "Hi {{user.nickname}}", "Hi {{user.nickname}}"},
		{"whitespace inside braces", "Hello {{ user.name }}", "Hello Ada"},
		{"multiple placeholders", "{{user.name}} <{{user.email}}>", "Ada <ada@example.com>"},
		{"no placeholders", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.input, ctx))
		})
	}
}

func TestResolveMap(t *testing.T) {
	ctx := testContext()

	input := map[string]any{
		"subject": "Welcome {{user.name}}",
		"count":   3,
		"nested": map[string]any{
			"body": "From {{account.name}}",
		},
	}

	out := ResolveMap(input, ctx)

	assert.Equal(t, "Welcome Ada", out["subject"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, "From Lovelace Ltd", out["nested"].(map[string]any)["body"])

	// The input map is never mutated.
	assert.Equal(t, "Welcome {{user.name}}", input["subject"])
}

func TestResolveMapNil(t *testing.T) {
	assert.Nil(t, ResolveMap(nil, testContext()))
}
