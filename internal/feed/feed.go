package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
)

// Lister is the part of the artifact store the feed reads from.
type Lister interface {
	List(context.Context) ([]store.Persisted, error)
}

type Generator struct {
	lister  Lister
	baseURL string
}

func New(lister Lister, baseURL string) *Generator {
	return &Generator{lister: lister, baseURL: strings.TrimRight(baseURL, "/")}
}

func NewGenerator(i *do.Injector) (*Generator, error) {
	return New(do.MustInvoke[*store.FileStore](i), do.MustInvokeNamed[string](i, "base_url")), nil
}

// Generate renders the artifact history as RSS, newest first.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed")
	log.Info("generating rss feed")

	persisted, err := g.lister.List(ctx)
	if err != nil {
		return nil, err
	}

	feed := feeds.Feed{
		Title:       "Stability Studio",
		Description: "Generated images",
		Link:        &feeds.Link{Href: g.baseURL + "/"},
		Updated:     time.Now(),
	}
	feed.Items = lo.Map(persisted, func(p store.Persisted, _ int) *feeds.Item {
		created, _ := p.Metadata.CreatedAt()
		params := p.Metadata.Parameters
		return &feeds.Item{
			Id:    p.ID,
			Title: p.Metadata.Prompt,
			Link:  &feeds.Link{Href: fmt.Sprintf("%s/api/v1/artifacts/%s/image", g.baseURL, p.ID)},
			Description: fmt.Sprintf("%dx%d, %s, %d steps, cfg %g",
				params.Width, params.Height, params.Style, params.Steps, params.CfgScale),
			Created: created,
		}
	})

	feed.Sort(func(a, b *feeds.Item) bool {
		return a.Created.After(b.Created)
	})
	rss, err := feed.ToRss()
	return []byte(rss), err
}
