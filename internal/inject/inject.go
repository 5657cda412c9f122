package inject

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/stabilitystudio/internal/feed"
	"github.com/dmorgan81/stabilitystudio/internal/handler"
	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/page"
	"github.com/dmorgan81/stabilitystudio/internal/param"
	"github.com/dmorgan81/stabilitystudio/internal/server"
	"github.com/dmorgan81/stabilitystudio/internal/session"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/samber/do"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultContentDir is relative to the working directory, except on Lambda
// where only /tmp is writable.
func defaultContentDir() string {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return "/tmp/outputs"
	}
	return "outputs"
}

// Setup registers every component. Nothing is constructed until first invoked,
// so commands that never touch AWS or the API key never load them.
func Setup(ctx context.Context) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	do.Provide[image.Generator](injector, image.NewStabilityGenerator)
	do.Provide[*store.FileStore](injector, store.NewFileStoreFromInjector)
	do.Provide[store.Uploader](injector, store.NewS3Uploader)
	do.Provide[store.Invalidator](injector, store.NewCloudFrontInvalidator)
	do.Provide[*page.Templator](injector, page.NewTemplator)
	do.Provide[*feed.Generator](injector, feed.NewGenerator)

	do.ProvideNamed[string](injector, "stability_key", func(i *do.Injector) (string, error) {
		if os.Getenv("STABILITY_API_KEY") != "" {
			return param.Resolve(ctx, nil, "STABILITY_API_KEY")
		}
		return param.Resolve(ctx, do.MustInvoke[param.Fetcher](i), "STABILITY_API_KEY")
	})
	do.ProvideNamedValue[string](injector, "stability_host", getEnv("STABILITY_API_HOST", image.DefaultHost))
	do.ProvideNamedValue[string](injector, "stability_engine", getEnv("STABILITY_ENGINE", image.DefaultEngine))
	do.ProvideNamedValue[string](injector, "content_dir", getEnv("CONTENT_DIR", defaultContentDir()))
	do.ProvideNamedValue[string](injector, "bucket", os.Getenv("BUCKET"))
	do.ProvideNamedValue[string](injector, "distribution", os.Getenv("DISTRIBUTION"))
	do.ProvideNamedValue[string](injector, "listen_addr", getEnv("LISTEN_ADDR", "127.0.0.1:8080"))
	do.ProvideNamed[string](injector, "base_url", func(i *do.Injector) (string, error) {
		return getEnv("BASE_URL", "http://"+do.MustInvokeNamed[string](i, "listen_addr")), nil
	})

	do.Provide[*handler.Handler](injector, handler.NewHandler)
	do.Provide[*session.Session](injector, session.NewSession)
	do.Provide[*server.Server](injector, server.NewServer)

	return injector
}
