package promptflow

import (
	"testing"
	"time"

	"saaskit/internal/model"

	"github.com/stretchr/testify/assert"
)

func testVariables() map[string]any {
	return Context{
		Input:   "write a haiku",
		Results: []string{"first answer", "second answer"},
		Row: map[string]any{
			"folio":     3,
			"key":       "CTC-0003",
			"firstName": "Ada",
			"score":     4.50,
			"vip":       true,
			"tags":      []string{"a", "b"},
			"empty":     nil,
			"birthday":  time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC),
		},
		Tenant: &model.Tenant{Name: "Acme", Slug: "acme"},
		User:   &model.User{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"},
	}.Variables()
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
		missing  []string
	}{
		{
			name:     "input and results",
			template: "{{promptFlow.input}} after {{ promptFlow.results[1] }}",
			want:     "write a haiku after second answer",
		},
		{
			name:     "row values are formatted",
			template: "{{row.key}} {{row.firstName}} {{row.score}} {{row.vip}} {{row.tags}} [{{row.empty}}] {{row.birthday}}",
			want:     "CTC-0003 Ada 4.5 true a, b [] 1815-12-10T00:00:00Z",
		},
		{
			name:     "tenant and user",
			template: "{{tenant.name}}/{{tenant.slug}} {{user.firstName}} {{user.lastName}} <{{user.email}}>",
			want:     "Acme/acme Ada Lovelace <ada@example.com>",
		},
		{
			name:     "list index",
			template: "{{row.tags[1]}}",
			want:     "b",
		},
		{
			name:     "missing stays verbatim",
			template: "{{ row.unknown }} and {{promptFlow.results[5]}} and {{ row.unknown }}",
			want:     "{{ row.unknown }} and {{promptFlow.results[5]}} and {{ row.unknown }}",
			missing:  []string{"row.unknown", "promptFlow.results[5]"},
		},
		{
			name:     "index on a scalar is missing",
			template: "{{promptFlow.input[0]}}",
			want:     "{{promptFlow.input[0]}}",
			missing:  []string{"promptFlow.input[0]"},
		},
		{
			name:     "text without placeholders",
			template: "plain {text}",
			want:     "plain {text}",
		},
	}

	vars := testVariables()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, missing := Render(tt.template, vars)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.missing, missing)
		})
	}
}

func TestRenderWithoutRowOrTenant(t *testing.T) {
	vars := Context{Input: "hi"}.Variables()

	got, missing := Render("{{promptFlow.input}} {{row.name}} {{tenant.name}}", vars)
	assert.Equal(t, "hi {{row.name}} {{tenant.name}}", got)
	assert.Equal(t, []string{"row.name", "tenant.name"}, missing)
}

func TestPlaceholders(t *testing.T) {
	paths := Placeholders("{{ a.b }} {{c[0]}} {{a.b}} {{ bad path }} {{d.e[2].f}}")
	assert.Equal(t, []string{"a.b", "c[0]", "d.e[2].f"}, paths)

	assert.Empty(t, Placeholders("nothing here"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "10", FormatValue(10.0))
	assert.Equal(t, "0.25", FormatValue(0.25))
	assert.Equal(t, "false", FormatValue(false))
	assert.Equal(t, "7", FormatValue(7))
	assert.Equal(t, "x, 2", FormatValue([]any{"x", 2.0}))
}

func TestAvailableVariables(t *testing.T) {
	entity := &model.Entity{Properties: []model.Property{{Name: "firstName"}, {Name: "email"}}}

	vars := AvailableVariables(entity, 2)
	assert.Equal(t, []string{
		"promptFlow.input",
		"promptFlow.results[0]",
		"promptFlow.results[1]",
		"row.folio",
		"row.key",
		"row.firstName",
		"row.email",
		"tenant.name",
		"tenant.slug",
		"user.email",
		"user.firstName",
		"user.lastName",
	}, vars)

	noEntity := AvailableVariables(nil, 0)
	assert.NotContains(t, noEntity, "row.key")
	assert.Contains(t, noEntity, "promptFlow.input")
}
