package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocare-rag/internal/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakeServer struct {
	calls     atomic.Int32
	resetFail bool
	block     chan struct{}
	lastChat  models.ChatRequest
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if f.block != nil {
			<-f.block
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastChat))
		sid := f.lastChat.SessionID
		if sid == "" {
			sid = "sess-1"
		}
		four := 4
		json.NewEncoder(w).Encode(models.ChatResponse{
			Answer:       "Un pH entre 5.5 et 6.5.",
			SessionID:    sid,
			Faithfulness: &four,
			Sources:      []int{3, 7},
		})
	})
	mux.HandleFunc("/api/reset-session", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if f.resetFail {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":{"code":500,"status":"Internal Server Error","message":"boom"}}`)
			return
		}
		json.NewEncoder(w).Encode(models.MessageResponse{Message: "Session réinitialisée"})
	})
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		file, _, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		file.Close()
		json.NewEncoder(w).Encode(models.Diagnosis{Disease: "Oïdium", Confidence: 0.8, Severity: "medium", Recommendations: []string{}})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeServer) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "state.json")
	c, err := New(srv.URL, path, srv.Client())
	require.NoError(t, err)
	return c, path
}

func TestAskStoresAndReplaysSession(t *testing.T) {
	f := &fakeServer{}
	c, path := newTestClient(t, f)
	ctx := context.Background()

	resp, err := c.Ask(ctx, "  Quel pH ?  ")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "Quel pH ?", f.lastChat.Question)
	assert.Empty(t, f.lastChat.SessionID)

	_, err = c.Ask(ctx, "Et l'EC ?")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", f.lastChat.SessionID)
	assert.Len(t, c.Transcript(), 4)

	// a new client picks the session up from disk
	st, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", st.SessionID)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	f := &fakeServer{}
	c, _ := newTestClient(t, f)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := c.Ask(context.Background(), q)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	}
	assert.Zero(t, f.calls.Load())
}

func TestAskBusy(t *testing.T) {
	f := &fakeServer{block: make(chan struct{})}
	c, _ := newTestClient(t, f)

	done := make(chan error, 1)
	go func() {
		_, err := c.Ask(context.Background(), "premier")
		done <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := c.Ask(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(f.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestResetClearsLocalStateEvenOnServerFailure(t *testing.T) {
	f := &fakeServer{}
	c, path := newTestClient(t, f)
	ctx := context.Background()

	_, err := c.Ask(ctx, "Quel pH ?")
	require.NoError(t, err)

	f.resetFail = true
	err = c.Reset(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)

	assert.Empty(t, c.SessionID())
	assert.Empty(t, c.Transcript())
	st, err := LoadState(path)
	require.NoError(t, err)
	assert.Empty(t, st.SessionID)
}

func TestResetWithoutSessionSkipsServer(t *testing.T) {
	f := &fakeServer{}
	c, _ := newTestClient(t, f)
	require.NoError(t, c.Reset(context.Background()))
	assert.Zero(t, f.calls.Load())
}

func TestAnalyze(t *testing.T) {
	f := &fakeServer{}
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	d, err := c.Analyze(ctx, "feuille.png", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "Oïdium", d.Disease)

	_, err = c.Analyze(ctx, "gros.png", make([]byte, MaxImageBytes+1))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = c.Analyze(ctx, "notes.txt", []byte("pas une image"))
	assert.ErrorIs(t, err, ErrNotImage)

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestReportsCapped(t *testing.T) {
	c, err := New("http://localhost:8000", "", nil)
	require.NoError(t, err)

	for i := 0; i < MaxReports+3; i++ {
		require.NoError(t, c.SaveReport(string(rune('a'+i)), models.Diagnosis{Disease: "x"}))
	}
	reports := c.Reports()
	require.Len(t, reports, MaxReports)
	assert.Equal(t, string(rune('a'+MaxReports+2)), reports[0].Filename)
}

func TestFormatting(t *testing.T) {
	five, zero := 5, 0
	assert.Equal(t, "5/5", FormatScore(&five))
	assert.Equal(t, Placeholder, FormatScore(nil))
	assert.Equal(t, Placeholder, FormatScore(&zero))
	assert.Equal(t, "p. 3, p. 7", FormatSources([]int{3, 7}))
	assert.Equal(t, Placeholder, FormatSources(nil))
	assert.Equal(t, "révisée", FormatDecision(models.DecisionRevise))
	assert.Equal(t, Placeholder, FormatDecision(""))
	assert.Equal(t, "80%", FormatConfidence(0.8))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("::nope", "", nil)
	assert.Error(t, err)
}
