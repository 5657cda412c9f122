package inject

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dmorgan81/stabilitystudio/internal/handler"
	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/dmorgan81/stabilitystudio/internal/server"
	"github.com/dmorgan81/stabilitystudio/internal/session"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "content")
	t.Setenv("STABILITY_API_KEY", "sk-test")
	t.Setenv("STABILITY_API_HOST", "http://stability.test")
	t.Setenv("CONTENT_DIR", dir)
	t.Setenv("BUCKET", "")
	t.Setenv("DISTRIBUTION", "")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("BASE_URL", "")

	injector := Setup(context.Background())
	t.Cleanup(func() { _ = injector.Shutdown() })

	gen, ok := do.MustInvoke[image.Generator](injector).(*image.StabilityGenerator)
	require.True(t, ok)
	assert.Equal(t, "sk-test", gen.Key)
	assert.Equal(t, "http://stability.test", gen.Host)
	assert.Equal(t, image.DefaultEngine, gen.Engine)

	assert.Equal(t, dir, do.MustInvoke[*store.FileStore](injector).Dir())
	assert.IsType(t, store.NopUploader{}, do.MustInvoke[store.Uploader](injector))
	assert.IsType(t, store.NopInvalidator{}, do.MustInvoke[store.Invalidator](injector))
	assert.Equal(t, "http://127.0.0.1:9999", do.MustInvokeNamed[string](injector, "base_url"))

	assert.NotNil(t, do.MustInvoke[*handler.Handler](injector))
	assert.NotNil(t, do.MustInvoke[*session.Session](injector))
	assert.NotNil(t, do.MustInvoke[*server.Server](injector))
}

func TestSetup_ContentDirDefault(t *testing.T) {
	t.Setenv("CONTENT_DIR", "")

	t.Run("local", func(t *testing.T) {
		t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
		injector := Setup(context.Background())
		assert.Equal(t, "outputs", do.MustInvoke[*store.FileStore](injector).Dir())
	})

	t.Run("lambda", func(t *testing.T) {
		t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "stabilitystudio")
		injector := Setup(context.Background())
		assert.Equal(t, "/tmp/outputs", do.MustInvoke[*store.FileStore](injector).Dir())
	})
}
