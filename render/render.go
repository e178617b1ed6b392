// Package render implements the default template renderer used by reminder
// and auto-reply adapters.
//
// Placeholders use the {{path.to.value}} form. Values are HTML escaped unless
// the renderer is built for plain text or the tag starts with '&'.
package render

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/goliatone/go-apps/core"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

type Renderer struct {
	escapeHTML bool
	timeLayout string
}

type Option func(*Renderer)

func WithHTMLEscaping(enabled bool) Option {
	return func(r *Renderer) { r.escapeHTML = enabled }
}

func WithTimeLayout(layout string) Option {
	return func(r *Renderer) {
		if strings.TrimSpace(layout) != "" {
			r.timeLayout = layout
		}
	}
}

func New(opts ...Option) *Renderer {
	r := &Renderer{escapeHTML: true, timeLayout: time.RFC3339}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Text returns a renderer that never escapes, for SMS bodies.
func Text() *Renderer {
	return New(WithHTMLEscaping(false))
}

var _ core.TemplateRenderer = (*Renderer)(nil)

// Render resolves every placeholder against args. Missing paths render empty.
func (r *Renderer) Render(template string, args map[string]any) (string, error) {
	if !strings.Contains(template, startTag) {
		return template, nil
	}
	return fasttemplate.ExecuteFuncStringWithErr(template, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		tag = strings.TrimSpace(tag)
		raw := false
		if strings.HasPrefix(tag, "&") {
			raw = true
			tag = strings.TrimSpace(tag[1:])
		}
		if tag == "" {
			return 0, fmt.Errorf("render: empty placeholder")
		}
		value, ok := Lookup(args, tag)
		if !ok {
			return 0, nil
		}
		text := r.format(value)
		if r.escapeHTML && !raw {
			text = html.EscapeString(text)
		}
		return w.Write([]byte(text))
	})
}

func (r *Renderer) format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(r.timeLayout)
	case fmt.Stringer:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Struct:
		data, err := json.Marshal(value)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(value)
}

// Lookup walks a dotted path through maps, structs (by json name) and slices.
func Lookup(args map[string]any, path string) (any, bool) {
	var current any = args
	for _, segment := range strings.Split(path, ".") {
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current any, segment string) (any, bool) {
	if current == nil {
		return nil, false
	}
	if m, ok := current.(map[string]any); ok {
		value, found := m[segment]
		return value, found
	}
	rv := reflect.ValueOf(current)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		value := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
		if !value.IsValid() {
			return nil, false
		}
		return value.Interface(), true
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= rv.Len() {
			return nil, false
		}
		return rv.Index(index).Interface(), true
	case reflect.Struct:
		return structField(rv, segment)
	}
	return nil, false
}

func structField(rv reflect.Value, segment string) (any, bool) {
	typ := rv.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}
		if name == segment || strings.EqualFold(field.Name, segment) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}
