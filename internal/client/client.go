// Package client talks to the HydroCare API the way the dashboard does: one
// request at a time, with the session identifier kept in a local state file.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"hydrocare-rag/internal/models"
)

// MaxImageBytes is the largest image Analyze will upload.
const MaxImageBytes = 10 << 20

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrBusy          = errors.New("a request is already in progress")
	ErrImageTooLarge = fmt.Errorf("image exceeds %d MB", MaxImageBytes>>20)
	ErrNotImage      = errors.New("file is not an image")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	Reason     string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Client is safe for concurrent use, but only one request runs at a time;
// others fail fast with ErrBusy.
type Client struct {
	baseURL   string
	http      *http.Client
	statePath string

	busy atomic.Bool

	mu    sync.Mutex
	state *State
}

// New loads the state file at statePath. An empty path keeps state in memory.
func New(baseURL, statePath string, httpClient *http.Client) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	st := &State{}
	if statePath != "" {
		var err error
		if st, err = LoadState(statePath); err != nil {
			return nil, err
		}
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      httpClient,
		statePath: statePath,
		state:     st,
	}, nil
}

// SessionID is the identifier replayed on the next question.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SessionID
}

// Transcript returns a copy of the visible conversation.
func (c *Client) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.state.Transcript...)
}

// Reports returns the saved analysis reports, newest first.
func (c *Client) Reports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Report(nil), c.state.Reports...)
}

// Ask sends question with the stored session identifier and remembers the
// identifier the server answers with.
func (c *Client) Ask(ctx context.Context, question string) (*models.ChatResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	body, err := json.Marshal(models.ChatRequest{Question: question, SessionID: c.SessionID()})
	if err != nil {
		return nil, err
	}

	var resp models.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SessionID = resp.SessionID
	c.state.Transcript = append(c.state.Transcript,
		Message{Role: RoleUser, Text: question},
		Message{Role: RoleAssistant, Text: resp.Answer, Response: &resp},
	)
	return &resp, c.saveLocked()
}

// Reset asks the server to forget the session, then clears the local session
// identifier and transcript whatever the server said. The server error, if
// any, is still returned.
func (c *Client) Reset(ctx context.Context) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.busy.Store(false)

	var serverErr error
	if id := c.SessionID(); id != "" {
		body, err := json.Marshal(models.ResetRequest{SessionID: id})
		if err != nil {
			return err
		}
		var ack models.MessageResponse
		serverErr = c.do(ctx, http.MethodPost, "/api/reset-session", "application/json", bytes.NewReader(body), &ack)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SessionID = ""
	c.state.Transcript = nil
	if err := c.saveLocked(); err != nil {
		return errors.Join(serverErr, err)
	}
	return serverErr
}

// Analyze uploads an image for disease detection. Oversized or non-image
// files are rejected before any network call.
func (c *Client) Analyze(ctx context.Context, filename string, image []byte) (*models.Diagnosis, error) {
	if len(image) > MaxImageBytes {
		return nil, ErrImageTooLarge
	}
	if !strings.HasPrefix(mimetype.Detect(image).String(), "image/") {
		return nil, ErrNotImage
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var d models.Diagnosis
	if err := c.do(ctx, http.MethodPost, "/analyze", mw.FormDataContentType(), &buf, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SaveReport keeps d in the report history, dropping the oldest beyond
// MaxReports.
func (c *Client) SaveReport(filename string, d models.Diagnosis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AddReport(Report{Filename: filename, Diagnosis: d, CreatedAt: time.Now().UTC()})
	return c.saveLocked()
}

func (c *Client) saveLocked() error {
	if c.statePath == "" {
		return nil
	}
	return c.state.Save(c.statePath)
}

// herodot wraps errors as {"error": {...}}.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil {
			apiErr.Message = env.Error.Message
			apiErr.Reason = env.Error.Reason
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
