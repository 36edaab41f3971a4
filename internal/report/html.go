package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/TobiSchelling/tweetextract/internal/textutil"
)

//go:embed templates/*.html
var templateFS embed.FS

const htmlHeadlineLen = 180

type pageSet struct {
	index *template.Template
	item  *template.Template
}

func parsePages() (*pageSet, error) {
	funcMap := template.FuncMap{
		"multiline": func(s string) template.HTML { return template.HTML(textutil.FormatMultiline(s)) },
		"headline":  func(it Item) string { return it.Headline(htmlHeadlineLen) },
		"itemPage":  func(id string) string { return itemFile(id, ".html") },
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of the base so "title" and "content" can be
	// defined once per page.
	parse := func(name string) (*template.Template, error) {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		return clone, nil
	}

	index, err := parse("index.html")
	if err != nil {
		return nil, err
	}
	item, err := parse("tweet.html")
	if err != nil {
		return nil, err
	}
	return &pageSet{index: index, item: item}, nil
}

func (w *Writer) writeHTML(dir string, payload *Payload) error {
	out, err := render(w.pages.index, map[string]any{
		"Meta":  payload.Meta,
		"Items": payload.Items,
	})
	if err != nil {
		return fmt.Errorf("rendering index: %w", err)
	}
	if err := writeFile(filepath.Join(dir, indexFile), out); err != nil {
		return err
	}

	for _, item := range payload.Items {
		out, err := render(w.pages.item, map[string]any{
			"Meta": payload.Meta,
			"Item": item,
		})
		if err != nil {
			return fmt.Errorf("rendering item %s: %w", item.ID, err)
		}
		if err := writeFile(filepath.Join(dir, itemsDir, itemFile(item.ID, ".html")), out); err != nil {
			return err
		}
	}
	return nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
