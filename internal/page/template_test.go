package page

import (
	"context"
	"strings"
	"testing"

	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplator(t *testing.T) {
	long := strings.Repeat("kitten ", 20)
	persisted := []store.Persisted{
		{
			ID: "20240309_140507_0",
			Metadata: store.Metadata{
				Prompt:    "<b>fox</b>",
				Timestamp: "20240309_140507",
				Parameters: store.Parameters{
					Width: 1024, Height: 1024, CfgScale: 7, Steps: 50, Style: "Watercolor",
				},
			},
		},
		{ID: "20240309_140507_1", Metadata: store.Metadata{Prompt: long}},
	}
	entries := EntriesFrom(persisted, func(id string) string { return "/img/" + id })
	require.Len(t, entries, 2)
	assert.Equal(t, "1024x1024", entries[0].Size)
	assert.Equal(t, "/img/20240309_140507_1", entries[1].Image)
	assert.Equal(t, strings.Repeat("kitten ", 20)[:50]+"...", entries[1].Preview)

	var tmpl Templator
	html, err := tmpl.Template(context.Background(), Params{Title: "Studio", Styles: []string{"None", "Watercolor"}, Entries: entries})
	require.NoError(t, err)

	out := string(html)
	assert.Contains(t, out, "<title>Studio</title>")
	assert.Contains(t, out, `src="/img/20240309_140507_0"`)
	assert.Contains(t, out, "&lt;b&gt;fox&lt;/b&gt;")
	assert.NotContains(t, out, "<b>fox</b>")
	assert.Contains(t, out, "<option>Watercolor</option>")
}

func TestTemplator_Empty(t *testing.T) {
	var tmpl Templator
	html, err := tmpl.Template(context.Background(), Params{Title: "Studio"})
	require.NoError(t, err)
	assert.Contains(t, string(html), "No images yet.")
}
