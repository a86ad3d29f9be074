package openai

import (
	"github.com/insightlab/causal/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient talks to any OpenAI compatible chat completion API.
type GraphOpenAIClient struct {
	ai.MetricsRecorder

	chatModel string
	chatURL   string

	reqLock *semaphore.Weighted

	ChatClient *openai.Client
}

// NewGraphOpenAIClientParams configures a GraphOpenAIClient. ChatURL may be
// empty for api.openai.com.
type NewGraphOpenAIClientParams struct {
	ChatModel string
	ChatURL   string
	ChatKey   string

	MaxConcurrentRequests int64
}

func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}
	options := []option.RequestOption{
		option.WithAPIKey(params.ChatKey),
	}
	if params.ChatURL != "" {
		options = append(options, option.WithBaseURL(params.ChatURL))
	}
	client := openai.NewClient(options...)

	return &GraphOpenAIClient{
		chatModel:  params.ChatModel,
		chatURL:    params.ChatURL,
		reqLock:    semaphore.NewWeighted(params.MaxConcurrentRequests),
		ChatClient: &client,
	}
}
