// Package promptflow renders prompt templates against flow, row, tenant and
// user variables and talks to the chat completion backend that runs them.
package promptflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"saaskit/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\[\d+\])*(?:\.[A-Za-z_][A-Za-z0-9_]*(?:\[\d+\])*)*)\s*\}\}`)

var segmentPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)((?:\[\d+\])*)$`)

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// Context holds the values a template can reference
type Context struct {
	Input   string
	Results []string
	// Row holds property values of the input row plus folio and key
	Row    map[string]any
	Tenant *model.Tenant
	User   *model.User
}

// Variables builds the lookup tree used by Render
func (c Context) Variables() map[string]any {
	results := make([]any, len(c.Results))
	for i, r := range c.Results {
		results[i] = r
	}
	vars := map[string]any{
		"promptFlow": map[string]any{
			"input":   c.Input,
			"results": results,
		},
	}
	if c.Row != nil {
		vars["row"] = c.Row
	}
	if c.Tenant != nil {
		vars["tenant"] = map[string]any{
			"name": c.Tenant.Name,
			"slug": c.Tenant.Slug,
		}
	}
	if c.User != nil {
		vars["user"] = map[string]any{
			"email":     c.User.Email,
			"firstName": c.User.FirstName,
			"lastName":  c.User.LastName,
		}
	}
	return vars
}

// Placeholders returns the distinct variable paths used by template in order
// of first appearance
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			paths = append(paths, m[1])
		}
	}
	return paths
}

// Render substitutes every placeholder found in vars. Unresolved placeholders
// are left verbatim and their paths returned in missing.
func Render(template string, vars map[string]any) (string, []string) {
	var missing []string
	seen := map[string]bool{}

	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := Lookup(vars, path)
		if !ok {
			if !seen[path] {
				seen[path] = true
				missing = append(missing, path)
			}
			return match
		}
		return FormatValue(value)
	})
	return out, missing
}

// Lookup resolves a dotted path with optional [n] indexes in vars
func Lookup(vars map[string]any, path string) (any, bool) {
	var current any = vars
	for _, segment := range strings.Split(path, ".") {
		m := segmentPattern.FindStringSubmatch(segment)
		if m == nil {
			return nil, false
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = obj[m[1]]; !ok {
			return nil, false
		}

		for _, idx := range indexPattern.FindAllStringSubmatch(m[2], -1) {
			n, _ := strconv.Atoi(idx[1])
			switch list := current.(type) {
			case []any:
				if n >= len(list) {
					return nil, false
				}
				current = list[n]
			case []string:
				if n >= len(list) {
					return nil, false
				}
				current = list[n]
			default:
				return nil, false
			}
		}
	}
	return current, true
}

// FormatValue renders a variable value as prompt text
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format(time.RFC3339)
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = FormatValue(item)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

// AvailableVariables lists the paths a flow can use. Results are offered for
// each of the given number of templates; row paths need an input entity.
func AvailableVariables(entity *model.Entity, templates int) []string {
	vars := []string{"promptFlow.input"}
	for i := 0; i < templates; i++ {
		vars = append(vars, fmt.Sprintf("promptFlow.results[%d]", i))
	}
	if entity != nil {
		vars = append(vars, "row.folio", "row.key")
		for _, p := range entity.Properties {
			vars = append(vars, "row."+p.Name)
		}
	}
	return append(vars,
		"tenant.name", "tenant.slug",
		"user.email", "user.firstName", "user.lastName")
}
