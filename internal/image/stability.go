package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/samber/do"
)

const (
	DefaultHost   = "https://api.stability.ai"
	DefaultEngine = "stable-diffusion-xl-1024-v1-0"
)

type StabilityGenerator struct {
	Client *http.Client
	Host   string
	Engine string
	Key    string
}

func NewStabilityGenerator(i *do.Injector) (Generator, error) {
	return &StabilityGenerator{
		Client: do.MustInvoke[*http.Client](i),
		Host:   do.MustInvokeNamed[string](i, "stability_host"),
		Engine: do.MustInvokeNamed[string](i, "stability_engine"),
		Key:    do.MustInvokeNamed[string](i, "stability_key"),
	}, nil
}

func (g *StabilityGenerator) endpoint() string {
	return fmt.Sprintf("%s/v1/generation/%s/text-to-image", strings.TrimRight(g.Host, "/"), g.Engine)
}

func (g *StabilityGenerator) Generate(ctx context.Context, req Request) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("stability").With("engine", g.Engine)
	log.Info("generating images", "samples", req.Samples, "width", req.Width, "height", req.Height)

	body, err := json.Marshal(req.Payload())
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.Key)

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn("generation rejected", "status", resp.StatusCode)
		return nil, &RemoteServiceError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	log.Info("received generation response", "bytes", len(data))
	return data, nil
}
