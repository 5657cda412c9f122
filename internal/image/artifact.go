package image

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

type responseArtifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"`
}

type response struct {
	Artifacts []responseArtifact `json:"artifacts"`
}

// DecodeArtifacts pulls the image bytes out of a successful response body,
// preserving the order the service returned them in.
func DecodeArtifacts(payload []byte) ([][]byte, error) {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &DecodeError{Index: -1, Err: err}
	}
	if resp.Artifacts == nil {
		return nil, &DecodeError{Index: -1, Err: errors.New("no artifacts in response")}
	}

	images := make([][]byte, 0, len(resp.Artifacts))
	for idx, a := range resp.Artifacts {
		data, err := base64.StdEncoding.DecodeString(a.Base64)
		if err != nil {
			return nil, &DecodeError{Index: idx, Err: err}
		}
		images = append(images, data)
	}
	return images, nil
}
