package mockgemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Call records a generateContent request made to the mock service.
type Call struct {
	Model string
	// Turns is the number of contents sent, including prior chat history.
	Turns  int
	Prompt string

	Temperature     *float32
	TopP            *float32
	TopK            *float32
	MaxOutputTokens int32
}

// Responder produces the model reply for a prompt. A non-zero status turns the reply into an
// API error with that HTTP status.
type Responder func(c Call) (text string, status int)

// Echo replies with the prompt.
func Echo(c Call) (string, int) {
	return c.Prompt, 0
}

// Server implements a minimal "Gemini-like" generateContent API surface.
type Server struct {
	mu        sync.Mutex
	calls     []Call
	responder Responder

	expectedAPIKey string
}

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	TopK            *float32 `json:"topK,omitempty"`
	MaxOutputTokens int32    `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

// New constructs a new mock server that echoes prompts until SetResponder is called.
func New() *Server {
	return &Server{responder: Echo}
}

// RequireAPIKey enforces that requests carry the x-goog-api-key header.
// If key is empty, the header is not checked.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedAPIKey = strings.TrimSpace(key)
}

// SetResponder replaces the reply function.
func (s *Server) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = Echo
	}
	s.responder = r
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleModels)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	// /{version}/models/{model}:generateContent
	model, ok := parseModelPath(r.URL.Path)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "unknown path "+r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	s.mu.Lock()
	expected := s.expectedAPIKey
	responder := s.responder
	s.mu.Unlock()

	if expected != "" && r.Header.Get("x-goog-api-key") != expected {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "API key not valid. Please pass a valid API key.")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json: "+err.Error())
		return
	}
	if len(req.Contents) == 0 {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "contents is required")
		return
	}

	call := Call{
		Model:  model,
		Turns:  len(req.Contents),
		Prompt: lastUserText(req.Contents),
	}
	if gc := req.GenerationConfig; gc != nil {
		call.Temperature = gc.Temperature
		call.TopP = gc.TopP
		call.TopK = gc.TopK
		call.MaxOutputTokens = gc.MaxOutputTokens
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	text, status := responder(call)
	if status != 0 && status != http.StatusOK {
		writeAPIError(w, status, statusName(status), text)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
				"finishReason": "STOP",
				"index":        0,
			},
		},
		"modelVersion": model,
	})
}

func parseModelPath(p string) (string, bool) {
	const suffix = ":generateContent"
	if !strings.HasSuffix(p, suffix) {
		return "", false
	}
	i := strings.Index(p, "/models/")
	if i < 0 {
		return "", false
	}
	model := strings.TrimSuffix(p[i+len("/models/"):], suffix)
	if model == "" || strings.Contains(model, "/") {
		return "", false
	}
	return model, true
}

func lastUserText(contents []content) string {
	for i := len(contents) - 1; i >= 0; i-- {
		c := contents[i]
		if c.Role != "" && c.Role != "user" {
			continue
		}
		texts := make([]string, 0, len(c.Parts))
		for _, p := range c.Parts {
			texts = append(texts, p.Text)
		}
		return strings.Join(texts, "")
	}
	return ""
}

func statusName(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case code == http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case code == http.StatusForbidden:
		return "PERMISSION_DENIED"
	case code/100 == 5:
		return "INTERNAL"
	default:
		return "INVALID_ARGUMENT"
	}
}

func writeAPIError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

// String describes the server state for test failure messages.
func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("mockgemini{calls=%d}", len(s.calls))
}
