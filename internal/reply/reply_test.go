package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/attune/internal/evaluation"
	"github.com/kalambet/attune/internal/personality"
)

func history(n int) []evaluation.Exchange {
	out := make([]evaluation.Exchange, n)
	for i := range out {
		out[i] = evaluation.Exchange{UserText: fmt.Sprintf("q%d", i), AgentReply: fmt.Sprintf("a%d", i)}
	}
	return out
}

func TestBuildMessages_CapsHistory(t *testing.T) {
	msgs := BuildMessages(Request{UserText: "latest", Personality: personality.Default(), History: history(8)})
	if want := 1 + 2*maxHistory + 1; len(msgs) != want {
		t.Fatalf("got %d messages, want %d", len(msgs), want)
	}

	b, err := json.Marshal(msgs)
	if err != nil {
		t.Fatal(err)
	}
	body := string(b)
	if strings.Contains(body, `"q2"`) || !strings.Contains(body, `"q3"`) {
		t.Errorf("expected only the last %d exchanges, got %s", maxHistory, body)
	}
	if !strings.Contains(body, `"latest"`) {
		t.Error("user message missing")
	}
}

func TestSystemPrompt_RendersPersonality(t *testing.T) {
	v := personality.Default()
	v.Formality = 0.9
	v.Verbosity = 0.1
	p := SystemPrompt(v)

	for _, want := range []string{"formality: 0.90", "verbosity: 0.10", "one or two sentences"} {
		if !strings.Contains(p, want) {
			t.Errorf("system prompt missing %q:\n%s", want, p)
		}
	}
}

type capturedRequest struct {
	Auth     string
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, status int, content string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			got.Auth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			fmt.Fprint(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
			return
		}
		choices := "[]"
		if content != "" {
			c, _ := json.Marshal(content)
			choices = fmt.Sprintf(`[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]`, c)
		}
		fmt.Fprintf(w, `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"test-model","choices":%s}`, choices)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Generate(t *testing.T) {
	var got capturedRequest
	srv := newChatServer(t, http.StatusOK, "  Hello there.  ", &got)

	g, err := NewOpenAI("sk-test", srv.URL, "test-model")
	if err != nil {
		t.Fatal(err)
	}
	text, err := g.Generate(context.Background(), Request{UserText: "hi", Personality: personality.Default(), History: history(1)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Hello there." {
		t.Errorf("text = %q, want trimmed reply", text)
	}
	if got.Auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.Auth)
	}
	if got.Model != "test-model" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[3].Content != "hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOpenAI_EmptyReply(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, "", nil)
	g, _ := NewOpenAI("sk-test", srv.URL, "")
	if _, err := g.Generate(context.Background(), Request{UserText: "hi"}); !errors.Is(err, ErrEmptyReply) {
		t.Errorf("error = %v, want ErrEmptyReply", err)
	}
}

func TestOpenAI_HTTPError(t *testing.T) {
	srv := newChatServer(t, http.StatusBadRequest, "", nil)
	g, _ := NewOpenAI("sk-test", srv.URL, "")
	if _, err := g.Generate(context.Background(), Request{UserText: "hi"}); err == nil {
		t.Error("expected error for 400 response")
	}
}

func TestOpenAI_RespectsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	g, _ := NewOpenAI("sk-test", srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := g.Generate(ctx, Request{UserText: "hi"}); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Generate took %v after deadline", elapsed)
	}
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI("", "", ""); err == nil {
		t.Error("expected error without API key")
	}
	g, err := NewOpenAI("k", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if g.Model() != DefaultModel {
		t.Errorf("Model = %q, want %q", g.Model(), DefaultModel)
	}
}

func TestTemplate_ShapedByPersonality(t *testing.T) {
	tmpl := NewTemplate()
	ctx := context.Background()

	formal := personality.Vector{Formality: 0.9, Enthusiasm: 0.3, Humor: 0.1, TechnicalDepth: 0.8, Empathy: 0.3, Verbosity: 0.5}
	casual := personality.Vector{Formality: 0.1, Enthusiasm: 0.9, Humor: 0.8, TechnicalDepth: 0.2, Empathy: 0.5, Verbosity: 0.5}
	q := "How does garbage collection work?"

	a, err := tmpl.Generate(ctx, Request{UserText: q, Personality: formal})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := tmpl.Generate(ctx, Request{UserText: q, Personality: casual})

	if !strings.HasPrefix(a, "Certainly.") || !strings.Contains(a, "implementation details") {
		t.Errorf("formal reply = %q", a)
	}
	if !strings.HasPrefix(b, "Hey!") || !strings.Contains(b, "puns") {
		t.Errorf("casual reply = %q", b)
	}
	if !strings.Contains(a, "garbage collection work") {
		t.Errorf("reply does not mention the topic: %q", a)
	}

	again, _ := tmpl.Generate(ctx, Request{UserText: q, Personality: formal})
	if again != a {
		t.Error("template generator is not deterministic")
	}
}

func TestTemplate_TerseWhenVerbosityLow(t *testing.T) {
	v := personality.Vector{Formality: 0.5, Enthusiasm: 0.5, Humor: 0.9, TechnicalDepth: 0.9, Empathy: 0.9, Verbosity: 0.1}
	got, _ := NewTemplate().Generate(context.Background(), Request{UserText: "tell me about rust lifetimes", Personality: v})
	if n := strings.Count(got, ".") + strings.Count(got, "?") + strings.Count(got, "!"); n != 3 {
		t.Errorf("terse reply has %d sentences, want 3: %q", n, got)
	}
}

func TestTemplate_NoTopic(t *testing.T) {
	got, err := NewTemplate().Generate(context.Background(), Request{UserText: "", Personality: personality.Default()})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, "?") {
		t.Errorf("reply without a topic should ask a question, got %q", got)
	}
}

func TestTemplate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTemplate().Generate(ctx, Request{UserText: "hi there"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
