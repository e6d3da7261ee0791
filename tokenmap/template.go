package tokenmap

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/jmcleod/irongate/session"
)

// Legacy mapping directives, still accepted as whole values.
const (
	directiveUserID        = "<<user-id>>"
	directiveLoginProvider = "<<login-provider>>"
	prefixUserModel        = "userModel:"
	prefixConstant         = "constant:"
)

// TemplateData is what a mapping template can reference, e.g.
// {{.ID}}, {{.Provider}} or {{.Mappings.email}}.
type TemplateData struct {
	ID       string
	Provider string
	Mappings map[string]string
}

// DataFor returns the template data of a session.
func DataFor(s *session.Session) TemplateData {
	u := s.User()
	m := u.Mappings
	if m == nil {
		m = map[string]string{}
	}
	return TemplateData{ID: u.ID, Provider: s.Provider(), Mappings: m}
}

// Template renders one mapped value.
type Template struct {
	render func(TemplateData) (string, error)
}

// ParseTemplate compiles a mapping value. Missing attributes render as "".
func ParseTemplate(name, src string) (*Template, error) {
	switch {
	case src == directiveUserID:
		return &Template{render: func(d TemplateData) (string, error) { return d.ID, nil }}, nil
	case src == directiveLoginProvider:
		return &Template{render: func(d TemplateData) (string, error) { return d.Provider, nil }}, nil
	case strings.HasPrefix(src, prefixUserModel) && len(src) > len(prefixUserModel):
		key := strings.TrimPrefix(src, prefixUserModel)
		return &Template{render: func(d TemplateData) (string, error) { return d.Mappings[key], nil }}, nil
	case strings.HasPrefix(src, prefixConstant) && len(src) > len(prefixConstant):
		v := strings.TrimPrefix(src, prefixConstant)
		return &Template{render: func(TemplateData) (string, error) { return v, nil }}, nil
	}

	t, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping %q: %w", name, err)
	}
	return &Template{render: func(d TemplateData) (string, error) {
		var b strings.Builder
		if err := t.Execute(&b, d); err != nil {
			return "", err
		}
		return b.String(), nil
	}}, nil
}

// Render evaluates the template.
func (t *Template) Render(d TemplateData) (string, error) {
	return t.render(d)
}

// parseAll compiles a mapping table.
func parseAll(mappings map[string]string) (map[string]*Template, error) {
	out := make(map[string]*Template, len(mappings))
	for k, v := range mappings {
		t, err := ParseTemplate(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = t
	}
	return out, nil
}
