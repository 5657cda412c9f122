package prompt

import (
	"fmt"
	"strings"

	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/samber/lo"
)

const (
	MinCfgScale = 0
	MaxCfgScale = 35
	MinSteps    = 10
	MaxSteps    = 150
	MinSamples  = 1
	MaxSamples  = 4
)

var styles = []string{
	image.StyleNone,
	"Photorealistic",
	"Digital Art",
	"Oil Painting",
	"Watercolor",
	"Pencil Sketch",
	"3D Render",
	"Anime Style",
	"Comic Book",
	"Fantasy Art",
}

// Dimensions is a width/height pair accepted by the SDXL engines.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

var dimensions = []Dimensions{
	{1024, 1024},
	{1152, 896},
	{896, 1152},
	{1216, 832},
	{832, 1216},
	{1344, 768},
	{768, 1344},
	{1536, 640},
	{640, 1536},
}

func Styles() []string {
	return append([]string(nil), styles...)
}

func SupportedDimensions() []Dimensions {
	return append([]Dimensions(nil), dimensions...)
}

// Fields are the values a user fills in before submitting.
type Fields struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	CfgScale       float64
	Steps          int
	Samples        int
	Style          string
}

func DefaultFields() Fields {
	return Fields{
		Width:    1024,
		Height:   1024,
		CfgScale: 7,
		Steps:    50,
		Samples:  1,
		Style:    image.StyleNone,
	}
}

// Build checks the fields and produces a request ready for submission.
func Build(f Fields) (image.Request, error) {
	if strings.TrimSpace(f.Prompt) == "" {
		return image.Request{}, &image.ValidationError{Field: "prompt", Reason: "Please enter a prompt"}
	}

	dims := Dimensions{f.Width, f.Height}
	if !lo.Contains(dimensions, dims) {
		return image.Request{}, &image.ValidationError{
			Field:  "dimensions",
			Reason: fmt.Sprintf("unsupported dimensions %s", dims),
		}
	}
	if f.CfgScale < MinCfgScale || f.CfgScale > MaxCfgScale {
		return image.Request{}, rangeError("cfg_scale", f.CfgScale, MinCfgScale, MaxCfgScale)
	}
	if f.Steps < MinSteps || f.Steps > MaxSteps {
		return image.Request{}, rangeError("steps", f.Steps, MinSteps, MaxSteps)
	}
	if f.Samples < MinSamples || f.Samples > MaxSamples {
		return image.Request{}, rangeError("samples", f.Samples, MinSamples, MaxSamples)
	}

	style, ok := lookupStyle(f.Style)
	if !ok {
		return image.Request{}, &image.ValidationError{
			Field:  "style",
			Reason: fmt.Sprintf("unknown style %q", f.Style),
		}
	}

	return image.Request{
		Prompt:         f.Prompt,
		NegativePrompt: strings.TrimSpace(f.NegativePrompt),
		Width:          f.Width,
		Height:         f.Height,
		CfgScale:       f.CfgScale,
		Steps:          f.Steps,
		Samples:        f.Samples,
		Style:          style,
	}, nil
}

func lookupStyle(label string) (string, bool) {
	if strings.TrimSpace(label) == "" {
		return image.StyleNone, true
	}
	return lo.Find(styles, func(s string) bool {
		return strings.EqualFold(s, strings.TrimSpace(label))
	})
}

func rangeError[T int | float64](field string, v T, low, high T) error {
	return &image.ValidationError{
		Field:  field,
		Reason: fmt.Sprintf("%s must be between %v and %v, got %v", field, low, high, v),
	}
}
