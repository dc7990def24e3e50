package template

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/notification-dispatcher/internal/domain"
)

type fakeStore struct {
	getFn func(ctx context.Context, id string) (*domain.Template, error)
	calls int
}

func (f *fakeStore) Get(ctx context.Context, id string) (*domain.Template, error) {
	f.calls++
	return f.getFn(ctx, id)
}

func templateStore(tmpl domain.Template) *fakeStore {
	return &fakeStore{getFn: func(ctx context.Context, id string) (*domain.Template, error) {
		if id != tmpl.ID {
			return nil, domain.ErrNotFound
		}
		copied := tmpl
		return &copied, nil
	}}
}

func TestRendererRender(t *testing.T) {
	t.Parallel()

	store := templateStore(domain.Template{
		ID:      "welcome",
		Name:    "Welcome aboard",
		Channel: domain.ChannelEmail,
		Content: "Hi {{.name}}, your code is {{.code}}.",
		Version: 2,
	})
	r := NewRenderer(store)

	got, err := r.Render(context.Background(), "welcome", map[string]any{"name": "Ada", "code": 42})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Body != "Hi Ada, your code is 42." {
		t.Fatalf("Body = %q", got.Body)
	}
	if got.Subject != "Welcome aboard" || got.Version != 2 {
		t.Fatalf("Subject/Version = %q/%d", got.Subject, got.Version)
	}
}

func TestRendererRenderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    string
		templateID string
		variables  map[string]any
	}{
		{name: "missing variable", content: "Hi {{.name}}", templateID: "t1", variables: map[string]any{}},
		{name: "parse failure", content: "Hi {{.name", templateID: "t1", variables: map[string]any{"name": "x"}},
		{name: "unknown template", content: "Hi", templateID: "missing"},
		{name: "empty id", content: "Hi", templateID: " "},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewRenderer(templateStore(domain.Template{ID: "t1", Content: tt.content, Version: 1}))

			_, err := r.Render(context.Background(), tt.templateID, tt.variables)
			var renderErr *RenderError
			if !errors.As(err, &renderErr) {
				t.Fatalf("Render() error = %v, want *RenderError", err)
			}
		})
	}
}

func TestRendererStoreOutageIsNotRenderError(t *testing.T) {
	t.Parallel()

	outage := errors.New("connection refused")
	r := NewRenderer(&fakeStore{getFn: func(ctx context.Context, id string) (*domain.Template, error) {
		return nil, fmt.Errorf("query template: %w", outage)
	}})

	_, err := r.Render(context.Background(), "t1", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		t.Fatalf("Render() error = %v, want plain error", err)
	}
	if !errors.Is(err, outage) {
		t.Fatalf("Render() error = %v, want wrapped outage", err)
	}
}

func TestRendererCachesByVersion(t *testing.T) {
	t.Parallel()

	version := 1
	content := "v1 {{.x}}"
	store := &fakeStore{getFn: func(ctx context.Context, id string) (*domain.Template, error) {
		return &domain.Template{ID: id, Content: content, Version: version}, nil
	}}
	r := NewRenderer(store)

	for i := 0; i < 2; i++ {
		got, err := r.Render(context.Background(), "t", map[string]any{"x": i})
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if want := fmt.Sprintf("v1 %d", i); got.Body != want {
			t.Fatalf("Body = %q, want %q", got.Body, want)
		}
	}
	if len(r.cache) != 1 {
		t.Fatalf("cache size = %d, want 1", len(r.cache))
	}

	version = 2
	content = "v2 {{.x}}"
	got, err := r.Render(context.Background(), "t", map[string]any{"x": "y"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Body != "v2 y" {
		t.Fatalf("Body after version bump = %q, want %q", got.Body, "v2 y")
	}
}
