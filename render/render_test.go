package render

import (
	"testing"
	"time"
)

type customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func TestRenderResolvesNestedPaths(t *testing.T) {
	args := map[string]any{
		"customer": customer{Name: "Ana <Admin>", Email: "ana@example.com"},
		"config":   map[string]any{"general": map[string]any{"name": "Studio"}},
		"items":    []string{"first", "second"},
		"count":    3,
	}
	out, err := New().Render("Hi {{ customer.name }} from {{config.general.name}}, {{items.1}} x{{count}}{{missing.path}}", args)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Hi Ana &lt;Admin&gt; from Studio, second x3"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestRenderRawAndTextModes(t *testing.T) {
	args := map[string]any{"link": "<a href=\"x\">x</a>"}
	out, err := New().Render("{{& link}}", args)
	if err != nil || out != args["link"] {
		t.Fatalf("raw tag should not escape: %q %v", out, err)
	}
	out, err = Text().Render("{{link}}", args)
	if err != nil || out != args["link"] {
		t.Fatalf("text renderer should not escape: %q %v", out, err)
	}
}

func TestRenderFormatsTimes(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	out, err := New(WithTimeLayout("2006-01-02 15:04")).Render("{{at}}", map[string]any{"at": at})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "2024-05-01 09:30" {
		t.Fatalf("unexpected time output %q", out)
	}
}

func TestRenderRejectsEmptyPlaceholder(t *testing.T) {
	if _, err := New().Render("hello {{ }}", nil); err == nil {
		t.Fatalf("expected error for empty placeholder")
	}
}
