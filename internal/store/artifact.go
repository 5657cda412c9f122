package store

import (
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/image"
)

const stampLayout = "20060102_150405"

// Artifact is one decoded image together with the request that produced it.
type Artifact struct {
	Image     []byte
	CreatedAt time.Time
	Request   image.Request
}

type Parameters struct {
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	CfgScale       float64 `json:"cfg_scale"`
	Steps          int     `json:"steps"`
	Style          string  `json:"style"`
	Samples        int     `json:"samples,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
}

// Metadata is the document written next to every image.
type Metadata struct {
	Prompt     string     `json:"prompt"`
	Timestamp  string     `json:"timestamp"`
	Parameters Parameters `json:"parameters"`
}

func NewMetadata(req image.Request, stamp string) Metadata {
	return Metadata{
		Prompt:    req.Prompt,
		Timestamp: stamp,
		Parameters: Parameters{
			Height:         req.Height,
			Width:          req.Width,
			CfgScale:       req.CfgScale,
			Steps:          req.Steps,
			Style:          req.Style,
			Samples:        req.Samples,
			NegativePrompt: req.NegativePrompt,
		},
	}
}

// Request rebuilds the parameters that were submitted for this artifact.
func (m Metadata) Request() image.Request {
	return image.Request{
		Prompt:         m.Prompt,
		NegativePrompt: m.Parameters.NegativePrompt,
		Width:          m.Parameters.Width,
		Height:         m.Parameters.Height,
		CfgScale:       m.Parameters.CfgScale,
		Steps:          m.Parameters.Steps,
		Samples:        m.Parameters.Samples,
		Style:          m.Parameters.Style,
	}
}

// CreatedAt parses the timestamp back into local time.
func (m Metadata) CreatedAt() (time.Time, error) {
	return time.ParseInLocation(stampLayout, m.Timestamp, time.Local)
}

// Persisted is an artifact that has both its files on disk.
type Persisted struct {
	ID           string   `json:"id"`
	ImagePath    string   `json:"image_path"`
	MetadataPath string   `json:"metadata_path"`
	Metadata     Metadata `json:"metadata"`
}
