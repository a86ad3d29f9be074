package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	mu      sync.Mutex
	body    []byte
	etag    string
	missing bool
	headErr error
	heads   int
	gets    int
}

func (f *fakeObjects) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	if f.headErr != nil {
		return nil, f.headErr
	}
	if f.missing {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ETag: aws.String(f.etag)}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.missing {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

const graphJSON = `{"nodes":[{"id":"A"},{"id":"B"}],"edges":[{"source":"A","target":"B"}]}`

func TestSource_CachesByETag(t *testing.T) {
	objects := &fakeObjects{body: []byte(graphJSON), etag: `"v1"`}
	src := NewSource(objects, "graphs", "causal.json")
	ctx := context.Background()

	first, err := src.LoadDefinition(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := src.LoadDefinition(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("an unchanged object must be served from cache")
	}
	if objects.gets != 1 {
		t.Fatalf("expected 1 download, got %d", objects.gets)
	}

	objects.etag = `"v2"`
	objects.body = []byte(`{"nodes":[{"id":"A"}],"edges":[]}`)
	third, err := src.LoadDefinition(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(third.Nodes) != 1 || objects.gets != 2 {
		t.Fatalf("a changed ETag must trigger a download")
	}
}

func TestSource_Missing(t *testing.T) {
	objects := &fakeObjects{missing: true}
	src := NewSource(objects, "graphs", "causal.json", WithRetries(1, util.Backoff{}))

	if _, err := src.LoadDefinition(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSource_RetriesTransientErrors(t *testing.T) {
	objects := &fakeObjects{headErr: errors.New("connection reset")}
	src := NewSource(objects, "graphs", "causal.json", WithRetries(3, util.Backoff{}))

	if _, err := src.LoadDefinition(context.Background()); err == nil {
		t.Fatalf("expected an error")
	}
	if objects.heads != 3 {
		t.Fatalf("expected 3 attempts, got %d", objects.heads)
	}
}

func TestSource_YAMLKey(t *testing.T) {
	objects := &fakeObjects{body: []byte("nodes:\n  - id: A\nedges: []\n"), etag: `"y"`}
	src := NewSource(objects, "graphs", "graph.yaml")

	def, err := src.LoadDefinition(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Nodes) != 1 || def.Nodes[0].ID != "A" {
		t.Fatalf("unexpected nodes: %+v", def.Nodes)
	}
	if src.Name() != "s3://graphs/graph.yaml" {
		t.Fatalf("unexpected name %s", src.Name())
	}
}
