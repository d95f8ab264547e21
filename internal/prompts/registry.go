// Package prompts manages the prompt templates used when invoking models.
//
// Templates are registered under hierarchical keys (e.g.
// "combine.source_documents") and rendered with Go text/template. The
// registry ships with embedded defaults; callers may override or add
// templates at startup.
package prompts

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Template is a named prompt template.
type Template struct {
	Name        string   // Hierarchical key: combine.source_documents
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// Registry holds prompt templates by name.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry creates a registry seeded with the embedded defaults.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range defaultTemplates {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template. Variables and Hash are computed
// when not provided.
func (r *Registry) Register(t Template) {
	if t.Hash == "" {
		t.Hash = HashText(t.Text)
	}
	if t.Variables == nil {
		t.Variables = ExtractVariables(t.Text)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
}

// Get returns the template registered under name.
func (r *Registry) Get(name string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("prompt template not found: %s", name)
	}
	return t, nil
}

// List returns the names of all registered templates.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Render resolves the named template and executes it with data.
// Unresolved variables are an error, not silent empty strings.
func (r *Registry) Render(name string, data any) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(t.Name).Option("missingkey=error").Parse(t.Text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", t.Name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.Name, err)
	}
	return buf.String(), nil
}

// defaultTemplates are the embedded prompt defaults.
var defaultTemplates = []Template{
	{
		Name:        "combine.source_documents",
		Description: "Condense a set of source documents into a single synthesis for downstream consumption.",
		Text: `You are given {{.DocumentCount}} source documents produced earlier in this dialectic session.

Condense them into a single coherent synthesis. Preserve every substantive claim, argument, and citation; remove repetition and boilerplate. Do not add new positions of your own.

{{.Documents}}`,
	},
	{
		Name:        "execute.continuation",
		Description: "System reminder prepended when resuming a truncated response.",
		Text:        `Your previous response was cut off before completion. Continue exactly where you left off. Do not repeat content you already produced and do not restart the document.`,
	},
}
