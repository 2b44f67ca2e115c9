// Package api provides E2E/functional tests for the API endpoints
package api

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"hydrocare-rag/internal/judge"
	"hydrocare-rag/internal/metrics"
	"hydrocare-rag/internal/models"
	"hydrocare-rag/internal/rag"
	"hydrocare-rag/internal/retrieval"
	"hydrocare-rag/internal/session"
	"hydrocare-rag/internal/storage"
)

// E2E/Functional Tests - the real pipeline behind the HTTP surface, with
// scripted models and an in-memory index.

// wordEmbedder hashes words into a small bag-of-words vector.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,?!:;")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%64]++
	}
	return v, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

// scriptedModel answers generation prompts and judge prompts differently.
type scriptedModel struct {
	mu      sync.Mutex
	prompts []string
	verdict string
}

func (m *scriptedModel) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	if strings.HasPrefix(prompt, "Vous êtes un évaluateur") {
		return m.verdict, nil
	}
	return "Maintenir le pH entre 5.5 et 6.5 (p. 12).", nil
}

func (m *scriptedModel) answerPrompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.prompts {
		if !strings.HasPrefix(p, "Vous êtes un évaluateur") {
			out = append(out, p)
		}
	}
	return out
}

func createE2EServer(t *testing.T, verdict string) (*Server, *scriptedModel) {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryVectorStore()
	chunks := []*models.Chunk{
		models.NewChunk("guide.pdf", 12, 0, "Le pH de la solution nutritive doit rester entre 5.5 et 6.5."),
		models.NewChunk("guide.pdf", 14, 0, "La conductivité électrique se mesure en mS/cm."),
		models.NewChunk("guide.pdf", 30, 0, "Les tomates demandent beaucoup de lumière."),
	}
	for _, c := range chunks {
		c.Embedding, _ = wordEmbedder{}.Embed(ctx, c.Content)
	}
	if err := store.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Failed to seed index: %v", err)
	}

	model := &scriptedModel{verdict: verdict}
	m := metrics.New()
	pipeline := rag.New(
		retrieval.NewRetriever(wordEmbedder{}, store, 2, 3, 0.7),
		model,
		judge.New(model, 4, 4),
		session.NewMemoryStore(time.Hour),
		rag.DefaultOptions(),
		m,
		zap.NewNop(),
	)
	return NewServer(testConfig(), pipeline, nil, m, zap.NewNop()), model
}

func ask(t *testing.T, server *Server, question, sessionID string) models.ChatResponse {
	t.Helper()
	w := serve(server, jsonRequest(http.MethodPost, "/api/chat", models.ChatRequest{Question: question, SessionID: sessionID}))
	if w.Code != http.StatusOK {
		t.Fatalf("Chat failed: status %d: %s", w.Code, w.Body.String())
	}
	var resp models.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal chat response: %v", err)
	}
	return resp
}

func TestE2E_ChatWorkflow(t *testing.T) {
	server, model := createE2EServer(t, `{"faithfulness": 5, "completeness": 4, "issues": [], "decision": "keep"}`)

	first := ask(t, server, "Quel pH pour la solution nutritive ?", "")
	if first.SessionID == "" {
		t.Fatal("Expected a new session id")
	}
	if first.Faithfulness == nil || *first.Faithfulness != 5 || first.Decision != models.DecisionKeep {
		t.Errorf("Unexpected judge fields %+v", first)
	}
	if len(first.Sources) == 0 || first.Sources[0] != 12 {
		t.Errorf("Expected page 12 first in sources, got %v", first.Sources)
	}

	second := ask(t, server, "  quel PH pour la   solution nutritive ? ", first.SessionID)
	if second.SessionID != first.SessionID {
		t.Errorf("Expected session to be kept, got %q", second.SessionID)
	}

	prompts := model.answerPrompts()
	if len(prompts) != 2 {
		t.Fatalf("Expected 2 answer prompts, got %d", len(prompts))
	}
	if strings.Contains(prompts[0], "Instruction de style") {
		t.Errorf("First question must not carry the repeat instruction")
	}
	if !strings.Contains(prompts[1], "Instruction de style") {
		t.Errorf("Repeated question must carry the repeat instruction")
	}
	if !strings.Contains(prompts[1], "Historique de la conversation") {
		t.Errorf("Second prompt should include the previous turn")
	}

	// reset, then the old identifier opens a fresh session
	w := serve(server, jsonRequest(http.MethodPost, "/api/reset-session", models.ResetRequest{SessionID: first.SessionID}))
	if w.Code != http.StatusOK {
		t.Fatalf("Reset failed: %d", w.Code)
	}
	third := ask(t, server, "Quel pH pour la solution nutritive ?", first.SessionID)
	if third.SessionID == first.SessionID {
		t.Errorf("Expected a new session after reset")
	}
	if strings.Contains(model.answerPrompts()[2], "Instruction de style") {
		t.Errorf("Reset must forget previous questions")
	}
}

func TestE2E_JudgeRevision(t *testing.T) {
	server, _ := createE2EServer(t, "Voici mon évaluation:\n```json\n"+
		`{"faithfulness": "2", "completeness": 3, "issues": ["valeur inventée"], "decision": "revise", "revised_answer": "Le pH doit rester entre 5.5 et 6.5 (p. 12)."}`+
		"\n```")

	resp := ask(t, server, "Quel pH ?", "")
	if resp.Answer != "Le pH doit rester entre 5.5 et 6.5 (p. 12)." {
		t.Errorf("Expected revised answer, got %q", resp.Answer)
	}
	if resp.Faithfulness == nil || *resp.Faithfulness != 2 {
		t.Errorf("Expected faithfulness 2, got %v", resp.Faithfulness)
	}
	if resp.Decision != models.DecisionRevise {
		t.Errorf("Expected revise, got %q", resp.Decision)
	}
}

func TestE2E_UnparseableJudge(t *testing.T) {
	server, _ := createE2EServer(t, "je ne sais pas")

	w := serve(server, jsonRequest(http.MethodPost, "/api/chat", models.ChatRequest{Question: "Quel pH ?"}))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if _, ok := raw["faithfulness"]; ok {
		t.Errorf("Missing scores must be omitted, got %v", raw["faithfulness"])
	}
	if raw["decision"] != models.DecisionKeep {
		t.Errorf("Expected keep when no score is below threshold, got %v", raw["decision"])
	}
}

func TestE2E_ConcurrentSessions(t *testing.T) {
	server, _ := createE2EServer(t, `{"faithfulness": 5, "completeness": 5, "decision": "keep"}`)

	const n = 10
	ids := make(chan string, n)
	errs := make(chan string, n)

	for i := 0; i < n; i++ {
		go func() {
			w := serve(server, jsonRequest(http.MethodPost, "/api/chat", models.ChatRequest{Question: "Quel pH ?"}))
			if w.Code != http.StatusOK {
				errs <- w.Body.String()
				return
			}
			var resp models.ChatResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				errs <- err.Error()
				return
			}
			ids <- resp.SessionID
		}()
	}

	seen := make(map[string]bool)
	timeout := time.NewTimer(5 * time.Second)
	defer timeout.Stop()

	for i := 0; i < n; i++ {
		select {
		case id := <-ids:
			seen[id] = true
		case msg := <-errs:
			t.Errorf("Concurrent request error: %s", msg)
		case <-timeout.C:
			t.Fatal("Timeout waiting for concurrent requests")
		}
	}

	if len(seen) != n {
		t.Errorf("Expected %d distinct sessions, got %d", n, len(seen))
	}
}
