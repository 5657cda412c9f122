package store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectMetadata(t *testing.T) {
	assert.Nil(t, objectMetadata(nil))
	assert.Equal(t, map[string]string{
		"id":   "20240309_140507_0",
		"note": "a+cat%0Aon+a+mat",
	}, objectMetadata(map[string]string{
		"id":   "20240309_140507_0",
		"note": "a cat\non a mat",
	}))
}

func TestS3Uploader_Upload(t *testing.T) {
	var (
		requests int
		path     string
		note     string
		body     []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		path = r.URL.Path
		note = r.Header.Get("X-Amz-Meta-Note")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u := &S3Uploader{
		Client: s3.New(s3.Options{
			Region:       "us-east-1",
			BaseEndpoint: aws.String(server.URL),
			UsePathStyle: true,
			Credentials:  aws.AnonymousCredentials{},
			HTTPClient:   server.Client(),
		}),
		Bucket: "studio",
	}

	err := u.Upload(context.Background(), UploadParams{
		Name:        "generated_20240309_140507_0.png",
		Data:        []byte("png-bytes"),
		ContentType: "image/png",
		Metadata:    map[string]string{"note": "a cat\non a mat"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
	assert.Equal(t, "/studio/generated_20240309_140507_0.png", path)
	assert.Equal(t, "a+cat%0Aon+a+mat", note)
	assert.Equal(t, []byte("png-bytes"), body)
}
