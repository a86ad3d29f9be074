package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/insightlab/causal/backend/pkg/ai"
)

func completionServer(t *testing.T, content string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		if gotBody != nil {
			_ = json.Unmarshal(data, gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateCompletion(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, "rates rise", &body)
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{ChatModel: "test-model", ChatURL: srv.URL, ChatKey: "key"})

	got, err := c.GenerateCompletion(context.Background(), "explain", ai.WithSystemPrompts("be brief"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "rates rise" {
		t.Fatalf("unexpected reply %q", got)
	}
	if body["model"] != "test-model" {
		t.Fatalf("unexpected model %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("expected system and user message, got %v", body["messages"])
	}
	if m := c.GetMetrics(); m.TotalTokens != 20 {
		t.Fatalf("usage not recorded: %+v", m)
	}
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, `{"summary":"up","drivers":["A → B"],"risks":[]}`, &body)
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{ChatModel: "test-model", ChatURL: srv.URL, ChatKey: "key"})

	var out struct {
		Summary string   `json:"summary"`
		Drivers []string `json:"drivers"`
		Risks   []string `json:"risks"`
	}
	if err := c.GenerateCompletionWithFormat(context.Background(), "insight", "narrative", "explain", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Summary != "up" || len(out.Drivers) != 1 {
		t.Fatalf("unexpected output: %+v", out)
	}
	format, _ := body["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("expected a json_schema response format, got %v", body["response_format"])
	}
}
