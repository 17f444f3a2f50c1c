package document

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/jonathan/applymate/internal/types"
)

// DefaultTemplate is used when a request names no template or an unknown one.
const DefaultTemplate = "default"

//go:embed templates/*.html.tmpl
var templateFiles embed.FS

var templates = template.Must(
	template.New("documents").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFiles, "templates/*.html.tmpl"),
)

// Meta carries the candidate and job details printed alongside a document.
type Meta struct {
	Name     string
	Email    string
	JobTitle string
	Company  string
	ShowATS  bool
}

type renderData struct {
	Meta
	Doc *types.TailoredDocument
}

// Templates lists the available template names.
func Templates() []string {
	var names []string
	for _, t := range templates.Templates() {
		if name, ok := strings.CutSuffix(t.Name(), ".html.tmpl"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ResolveTemplate returns name if such a template exists, otherwise DefaultTemplate.
func ResolveTemplate(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name != "" && templates.Lookup(name+".html.tmpl") != nil {
		return name
	}
	return DefaultTemplate
}

// RenderHTML renders doc with the named template. Unknown template names
// fall back to the default template.
func RenderHTML(doc *types.TailoredDocument, templateName string, meta Meta) ([]byte, error) {
	if doc == nil {
		return nil, &TemplateError{Message: "no document to render"}
	}
	name := ResolveTemplate(templateName) + ".html.tmpl"

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, renderData{Meta: meta, Doc: doc}); err != nil {
		return nil, &TemplateError{Message: fmt.Sprintf("failed to execute template %s", name), Cause: err}
	}
	return buf.Bytes(), nil
}
