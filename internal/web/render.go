package web

import (
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin/render"
)

// Renderer implements gin's render.HTMLRender with one template set per
// page, each composed of the shared layout and the page itself.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses layout/*.html together with every file under pages/.
// Page names are their paths relative to pages/, e.g. "tasks/index.html".
func NewRenderer(fsys fs.FS, funcs template.FuncMap) (*Renderer, error) {
	layouts, err := fs.Glob(fsys, "layout/*.html")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	err = fs.WalkDir(fsys, "pages", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Ext(p) != ".html" {
			return err
		}
		files := append(append([]string{}, layouts...), p)
		t, err := template.New(path.Base(p)).Funcs(funcs).ParseFS(fsys, files...)
		if err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		r.pages[strings.TrimPrefix(p, "pages/")] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Has reports whether a page is known.
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}

// Instance satisfies render.HTMLRender.
func (r *Renderer) Instance(name string, data any) render.Render {
	return render.HTML{Template: r.pages[name], Name: "base", Data: data}
}

// Funcs returns the helpers available to every template.
func Funcs(m *Manifest) template.FuncMap {
	return template.FuncMap{
		"static": m.URL,
		"idstr": func(id int64) string {
			return strconv.FormatInt(id, 10)
		},
		"hasValue": func(values []string, v string) bool {
			for _, x := range values {
				if x == v {
					return true
				}
			}
			return false
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("02.01.2006 15:04")
		},
		"dict": func(values ...any) map[string]any {
			d := make(map[string]any, len(values)/2)
			for i := 0; i+1 < len(values); i += 2 {
				d[fmt.Sprintf("%v", values[i])] = values[i+1]
			}
			return d
		},
	}
}
