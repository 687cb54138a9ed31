package util

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// forbiddenDirectives could be used to pull in other templates or call functions
var forbiddenDirectives = []string{"{{call", "{{define", "{{template", "{{block"}

var (
	templateCache   = make(map[string]*template.Template)
	templateCacheMu sync.RWMutex
)

// ParseTemplate validates and parses a template string.
// Parsed templates are cached by source so repeated renders skip parsing.
func ParseTemplate(tmpl string) (*template.Template, error) {
	templateCacheMu.RLock()
	t, ok := templateCache[tmpl]
	templateCacheMu.RUnlock()
	if ok {
		return t, nil
	}

	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return nil, fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}

	t, err := template.New("prompt").
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	templateCacheMu.Lock()
	templateCache[tmpl] = t
	templateCacheMu.Unlock()

	return t, nil
}

// RenderTemplate renders a template string with the given data
func RenderTemplate(tmpl string, data map[string]interface{}) (string, error) {
	t, err := ParseTemplate(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// ClearTemplateCache drops every cached template
func ClearTemplateCache() {
	templateCacheMu.Lock()
	templateCache = make(map[string]*template.Template)
	templateCacheMu.Unlock()
}

// TruncateString truncates a string to maxLen runes (Unicode-safe)
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
