package page

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"sync"
	"unicode/utf8"

	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

//go:embed assets/gallery.html
var galleryTmpl string

const promptPreview = 50

type Entry struct {
	ID       string
	Image    string
	Prompt   string
	Preview  string
	Style    string
	Size     string
	Steps    int
	CfgScale float64
	Taken    string
}

type Params struct {
	Title   string
	Styles  []string
	Entries []Entry
}

func EntriesFrom(persisted []store.Persisted, imageURL func(id string) string) []Entry {
	return lo.Map(persisted, func(p store.Persisted, _ int) Entry {
		params := p.Metadata.Parameters
		return Entry{
			ID:       p.ID,
			Image:    imageURL(p.ID),
			Prompt:   p.Metadata.Prompt,
			Preview:  Preview(p.Metadata.Prompt),
			Style:    params.Style,
			Size:     fmt.Sprintf("%dx%d", params.Width, params.Height),
			Steps:    params.Steps,
			CfgScale: params.CfgScale,
			Taken:    p.Metadata.Timestamp,
		}
	})
}

// Preview shortens a prompt for listings.
func Preview(prompt string) string {
	if utf8.RuneCountInString(prompt) <= promptPreview {
		return prompt
	}
	return string([]rune(prompt)[:promptPreview]) + "..."
}

type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func NewTemplator(*do.Injector) (*Templator, error) {
	return &Templator{}, nil
}

func (g *Templator) Template(ctx context.Context, params Params) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.New("gallery").Parse(galleryTmpl))
	})

	log := log.FromContextOrDiscard(ctx).WithGroup("templator")
	log.Info("generating page", "entries", len(params.Entries))

	var data bytes.Buffer
	if err := g.tmpl.Execute(&data, params); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}
