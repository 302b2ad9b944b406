package aws_s3

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiemaLabs/charms-indexer/checkpoint"
)

func TestUpload(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		objects[r.URL.Path] = body
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-west-2",
		Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", ""),
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
	})
	u := NewUploaderWithClient(client, "checkpoints")

	c := checkpoint.NewCheckpoint(&checkpoint.IndexerIdentification{Name: "alpha"}, 12, "beef", [32]byte{2})
	require.NoError(t, u.Upload(context.Background(), &c))

	mu.Lock()
	defer mu.Unlock()
	body, ok := objects["/checkpoints/"+c.ObjectKey()]
	require.True(t, ok, "objects: %v", objects)
	var got checkpoint.Checkpoint
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, c, got)
}
