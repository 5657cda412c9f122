package handler

import (
	"context"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/metrics"
	"github.com/dmorgan81/stabilitystudio/internal/prompt"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type Input struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	CfgScale       *float64 `json:"cfg_scale,omitempty"`
	Steps          *int     `json:"steps,omitempty"`
	Samples        *int     `json:"samples,omitempty"`
	Style          string   `json:"style,omitempty"`
}

// Fields fills anything left out with the form defaults. A present zero is
// kept as submitted.
func (i Input) Fields() prompt.Fields {
	d := prompt.DefaultFields()
	return prompt.Fields{
		Prompt:         i.Prompt,
		NegativePrompt: i.NegativePrompt,
		Width:          lo.FromPtrOr(i.Width, d.Width),
		Height:         lo.FromPtrOr(i.Height, d.Height),
		CfgScale:       lo.FromPtrOr(i.CfgScale, d.CfgScale),
		Steps:          lo.FromPtrOr(i.Steps, d.Steps),
		Samples:        lo.FromPtrOr(i.Samples, d.Samples),
		Style:          lo.Ternary(i.Style != "", i.Style, d.Style),
	}
}

type Output struct {
	IDs     []string      `json:"ids"`
	Request image.Request `json:"request"`
}

type Handler struct {
	generator   image.Generator
	store       *store.FileStore
	uploader    store.Uploader
	invalidator store.Invalidator
}

func New(generator image.Generator, fs *store.FileStore, uploader store.Uploader, invalidator store.Invalidator) *Handler {
	return &Handler{
		generator:   generator,
		store:       fs,
		uploader:    lo.Ternary[store.Uploader](uploader != nil, uploader, store.NopUploader{}),
		invalidator: lo.Ternary[store.Invalidator](invalidator != nil, invalidator, store.NopInvalidator{}),
	}
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return New(
		do.MustInvoke[image.Generator](i),
		do.MustInvoke[*store.FileStore](i),
		do.MustInvoke[store.Uploader](i),
		do.MustInvoke[store.Invalidator](i),
	), nil
}

func (h *Handler) Generator() image.Generator {
	return h.generator
}

// Handle runs one request end to end on the calling goroutine.
func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("handler")
	log.Info("handling generation", "prompt", input.Prompt)

	req, err := prompt.Build(input.Fields())
	if err != nil {
		metrics.IncGeneration(metrics.ResultRejected)
		return Output{}, err
	}

	start := time.Now()
	payload, err := h.generator.Generate(ctx, req)
	metrics.ObserveGeneration(time.Since(start))
	if err != nil {
		metrics.IncGeneration(metrics.ResultFor(err))
		return Output{}, err
	}
	return h.Complete(ctx, req, payload)
}

// Complete interprets a successful response and persists what it carries.
// Nothing is published unless every artifact was persisted. Publishing is a
// mirror of the content directory, so its failure is logged and counted but
// does not fail a generation whose pairs are already on disk.
func (h *Handler) Complete(ctx context.Context, req image.Request, payload []byte) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("handler")

	images, err := image.DecodeArtifacts(payload)
	if err != nil {
		metrics.IncGeneration(metrics.ResultFor(err))
		return Output{}, err
	}

	now := time.Now()
	artifacts := lo.Map(images, func(img []byte, _ int) store.Artifact {
		return store.Artifact{Image: img, CreatedAt: now, Request: req}
	})

	persisted, err := h.store.Persist(ctx, artifacts)
	out := Output{
		IDs:     lo.Map(persisted, func(p store.Persisted, _ int) string { return p.ID }),
		Request: req,
	}
	metrics.AddArtifacts(len(persisted))
	if err != nil {
		metrics.IncGeneration(metrics.ResultFor(err))
		return out, err
	}

	if err := store.Publish(ctx, h.uploader, h.invalidator, persisted); err != nil {
		log.Warn("publishing artifacts", "ids", out.IDs, "error", err)
		metrics.IncPublishFailure()
	}

	metrics.IncGeneration(metrics.ResultSucceeded)
	log.Info("generation complete", "ids", out.IDs)
	return out, nil
}
