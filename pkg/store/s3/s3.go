package s3

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/insightlab/causal/backend/internal/storage"
	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"
)

type objectAPI interface {
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Source loads a graph document from an S3 object. The parsed definition is
// cached by ETag, so a reload of an unchanged object only costs a HEAD
// request.
type Source struct {
	client  objectAPI
	bucket  string
	key     string
	tries   int
	backoff util.Backoff

	loads singleflight.Group

	mu     sync.Mutex
	etag   string
	cached *causal.Definition
}

type SourceOption func(*Source)

// WithRetries sets how often a failing fetch is attempted.
func WithRetries(tries int, backoff util.Backoff) SourceOption {
	return func(s *Source) {
		s.tries = tries
		s.backoff = backoff
	}
}

func NewSource(client objectAPI, bucket, key string, opts ...SourceOption) *Source {
	s := &Source{
		client:  client,
		bucket:  bucket,
		key:     key,
		tries:   3,
		backoff: util.Backoff{Initial: 200 * time.Millisecond, Max: 2 * time.Second},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *Source) Name() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *Source) LoadDefinition(ctx context.Context) (*causal.Definition, error) {
	v, err, _ := s.loads.Do(s.key, func() (any, error) {
		return util.RetryWithContext(ctx, s.tries, s.backoff, s.fetch)
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", s.Name(), store.ErrNotFound)
		}
		return nil, err
	}
	return v.(*causal.Definition), nil
}

func (s *Source) fetch(ctx context.Context) (*causal.Definition, error) {
	head, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat graph object: %w", err)
	}
	etag := aws.ToString(head.ETag)

	s.mu.Lock()
	if etag != "" && etag == s.etag && s.cached != nil {
		def := s.cached
		s.mu.Unlock()
		logger.Debug("[S3] Graph object unchanged", "key", s.key, "etag", etag)
		return def, nil
	}
	s.mu.Unlock()

	data, err := storage.GetFile(ctx, s.client, s.bucket, s.key)
	if err != nil {
		return nil, err
	}
	def, err := store.ParseDefinition(data, store.FormatFromPath(s.key))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.etag = etag
	s.cached = def
	s.mu.Unlock()

	return def, nil
}
