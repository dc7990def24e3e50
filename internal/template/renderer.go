// Package template renders stored notification templates with per-notification variables.
package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

// Store loads templates by id.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Template, error)
}

// RenderError reports a template that can never render with the given variables.
// A render error is permanent; store outages are returned as ordinary errors.
type RenderError struct {
	TemplateID string
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render template %s: %v", e.TemplateID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Rendered is the output of a successful render.
type Rendered struct {
	Subject string
	Body    string
	Version int
}

type cacheKey struct {
	id      string
	version int
}

type Renderer struct {
	store Store

	mu    sync.RWMutex
	cache map[cacheKey]*texttemplate.Template
}

func NewRenderer(store Store) *Renderer {
	return &Renderer{
		store: store,
		cache: make(map[cacheKey]*texttemplate.Template),
	}
}

func (r *Renderer) Render(ctx context.Context, templateID string, variables map[string]any) (Rendered, error) {
	id := strings.TrimSpace(templateID)
	if id == "" {
		return Rendered{}, &RenderError{TemplateID: templateID, Err: errors.New("template id is required")}
	}

	tmpl, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Rendered{}, &RenderError{TemplateID: id, Err: err}
		}
		return Rendered{}, fmt.Errorf("load template %s: %w", id, err)
	}

	parsed, err := r.parsed(tmpl)
	if err != nil {
		return Rendered{}, &RenderError{TemplateID: id, Err: err}
	}

	if variables == nil {
		variables = map[string]any{}
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, variables); err != nil {
		return Rendered{}, &RenderError{TemplateID: id, Err: err}
	}

	return Rendered{Subject: tmpl.Name, Body: buf.String(), Version: tmpl.Version}, nil
}

func (r *Renderer) parsed(tmpl *domain.Template) (*texttemplate.Template, error) {
	key := cacheKey{id: tmpl.ID, version: tmpl.Version}

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	parsed, err := texttemplate.New(tmpl.ID).Option("missingkey=error").Parse(tmpl.Content)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = parsed
	r.mu.Unlock()

	return parsed, nil
}
