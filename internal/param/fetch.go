package param

import (
	"context"
	"errors"
	"fmt"
	"os"
)

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// ErrMissing is returned when neither the value nor a parameter path is configured.
var ErrMissing = errors.New("parameter not configured")

// Resolve reads a secret from the environment variable env or, when that is
// empty, from the parameter whose path is held in env+"_PARAM".
func Resolve(ctx context.Context, fetcher Fetcher, env string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	path := os.Getenv(env + "_PARAM")
	if path == "" {
		return "", fmt.Errorf("%s: %w", env, ErrMissing)
	}
	if fetcher == nil {
		return "", fmt.Errorf("%s: no parameter store available for %s", env, path)
	}
	return fetcher.Fetch(ctx, path)
}
