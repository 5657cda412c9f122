package image

import (
	"context"
	"fmt"
)

// StyleNone is the style label meaning no style suffix.
const StyleNone = "None"

// Request is one generation request. It is built by the prompt package and
// treated as immutable once submitted.
type Request struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	CfgScale       float64 `json:"cfg_scale"`
	Steps          int     `json:"steps"`
	Samples        int     `json:"samples"`
	Style          string  `json:"style"`
}

// Text is the prompt sent upstream, with the style appended.
func (r Request) Text() string {
	if r.Style == "" || r.Style == StyleNone {
		return r.Prompt
	}
	return fmt.Sprintf("%s, %s style", r.Prompt, r.Style)
}

type TextPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type Payload struct {
	TextPrompts []TextPrompt `json:"text_prompts"`
	CfgScale    float64      `json:"cfg_scale"`
	Height      int          `json:"height"`
	Width       int          `json:"width"`
	Samples     int          `json:"samples"`
	Steps       int          `json:"steps"`
}

func (r Request) Payload() Payload {
	prompts := []TextPrompt{{Text: r.Text(), Weight: 1}}
	if r.NegativePrompt != "" {
		prompts = append(prompts, TextPrompt{Text: r.NegativePrompt, Weight: -1})
	}
	return Payload{
		TextPrompts: prompts,
		CfgScale:    r.CfgScale,
		Height:      r.Height,
		Width:       r.Width,
		Samples:     r.Samples,
		Steps:       r.Steps,
	}
}

// Generator performs a single generation round trip and returns the raw
// response body untouched.
type Generator interface {
	Generate(context.Context, Request) ([]byte, error)
}
