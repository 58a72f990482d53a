package entities

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SystemTenantID owns the built-in templates every tenant can see.
const SystemTenantID int64 = 0

// TemplateParameter is one {{name}} placeholder of a formula template.
type TemplateParameter struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Default     *string `json:"default,omitempty"`
}

// FormulaTemplate is a reusable expression with named placeholders, e.g.
// "{{voltage}} * {{current}} / 1000".
type FormulaTemplate struct {
	ID          int64               `json:"id"`
	TenantID    int64               `json:"tenant_id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    string              `json:"category,omitempty"`
	Tags        []string            `json:"tags"`
	Expression  string              `json:"expression"`
	Parameters  []TemplateParameter `json:"parameters"`
	DataType    DataType            `json:"data_type"`
	IsSystem    bool                `json:"is_system"`
	UsageCount  int64               `json:"usage_count"`
	LastUsedAt  *time.Time          `json:"last_used_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Placeholders returns the distinct placeholder names in order of first use.
func (t *FormulaTemplate) Placeholders() []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Expression, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes every placeholder. Missing values fall back to the
// parameter default; values for undeclared parameters are rejected.
func (t *FormulaTemplate) Render(values map[string]string) (string, []FieldError) {
	var errs []FieldError
	declared := make(map[string]TemplateParameter, len(t.Parameters))
	for _, p := range t.Parameters {
		declared[p.Name] = p
	}
	for name := range values {
		if _, ok := declared[name]; !ok {
			errs = append(errs, FieldError{Field: "values." + name, Message: "unknown template parameter"})
		}
	}

	resolved := make(map[string]string, len(t.Parameters))
	for _, p := range t.Parameters {
		v, ok := values[p.Name]
		if !ok || strings.TrimSpace(v) == "" {
			if p.Default == nil {
				errs = append(errs, FieldError{Field: "values." + p.Name, Message: "required"})
				continue
			}
			v = *p.Default
		}
		resolved[p.Name] = strings.TrimSpace(v)
	}
	if len(errs) > 0 {
		return "", errs
	}

	out := placeholderPattern.ReplaceAllStringFunc(t.Expression, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return resolved[name]
	})
	return out, nil
}

// Validate checks the template's structure. Every placeholder must be a
// declared parameter and every parameter must be used.
func (t *FormulaTemplate) Validate() []FieldError {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	name := strings.TrimSpace(t.Name)
	if name == "" {
		add("name", "must not be empty")
	} else if len(name) > MaxNameLength {
		add("name", "must be at most %d characters", MaxNameLength)
	}
	if strings.TrimSpace(t.Expression) == "" {
		add("expression", "must not be empty")
	}
	if !t.DataType.Valid() {
		add("data_type", "unknown data type %q", t.DataType)
	}

	declared := map[string]bool{}
	for i, p := range t.Parameters {
		field := fmt.Sprintf("parameters[%d].name", i)
		switch {
		case !identifierPattern.MatchString(p.Name):
			add(field, "%q is not a valid identifier", p.Name)
		case declared[p.Name]:
			add(field, "duplicate parameter %q", p.Name)
		}
		declared[p.Name] = true
	}

	used := map[string]bool{}
	for _, name := range t.Placeholders() {
		used[name] = true
		if !declared[name] {
			add("expression", "placeholder {{%s}} is not a declared parameter", name)
		}
	}
	for i, p := range t.Parameters {
		if identifierPattern.MatchString(p.Name) && !used[p.Name] {
			add(fmt.Sprintf("parameters[%d].name", i), "parameter %q is not used in the expression", p.Name)
		}
	}
	return errs
}

// Skeleton renders the template with each placeholder replaced by its own
// name, so the text parses whatever the placeholder later stands for.
func (t *FormulaTemplate) Skeleton() string {
	return placeholderPattern.ReplaceAllString(t.Expression, "$1")
}
