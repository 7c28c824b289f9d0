package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/gemini-record-pipeline/pkg/pipeline/core"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	Generation Generation
}

// Generation holds the sampling options sent with every request. Nil pointers and a zero
// MaxOutputTokens leave the service defaults in place.
type Generation struct {
	Temperature     *float32
	TopP            *float32
	TopK            *float32
	MaxOutputTokens int32
}

// Session is a multi-turn Gemini chat. It is not safe for concurrent use.
type Session struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	chat   *genai.Chat
}

func New(ctx context.Context, cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &core.KindError{Kind: core.KindConfig, Err: errors.New("GEMINI_API_KEY is required")}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &core.KindError{Kind: core.KindConfig, Err: errors.New("GEMINI_MODEL is required")}
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &core.KindError{Kind: core.KindConfig, Err: fmt.Errorf("create gemini client: %w", err)}
	}
	s := &Session{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
		config: generateConfig(cfg.Generation),
	}
	if err := s.Reset(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func generateConfig(g Generation) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     g.Temperature,
		TopP:            g.TopP,
		TopK:            g.TopK,
		MaxOutputTokens: g.MaxOutputTokens,
		CandidateCount:  1,
	}
}

// Send sends prompt as the next user turn and returns the model's text reply.
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", classifyErr(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		reason := "no candidates"
		if len(resp.Candidates) > 0 && resp.Candidates[0] != nil && resp.Candidates[0].FinishReason != "" {
			reason = "finishReason=" + string(resp.Candidates[0].FinishReason)
		}
		return "", &core.KindError{Kind: core.KindService, Err: fmt.Errorf("gemini: empty response (%s)", reason)}
	}
	return text, nil
}

// Reset starts a new chat with empty history.
func (s *Session) Reset(ctx context.Context) error {
	chat, err := s.client.Chats.Create(ctx, s.model, s.config, nil)
	if err != nil {
		return &core.KindError{Kind: core.KindConfig, Err: fmt.Errorf("create chat: %w", err)}
	}
	s.chat = chat
	return nil
}

// Turns returns the number of contents in the curated chat history.
func (s *Session) Turns() int {
	if s.chat == nil {
		return 0
	}
	return len(s.chat.History(true))
}

// Daily quota exhaustion is retried at most once, whatever MaxRetries allows.
const dailyQuotaRetries = 1

func isDailyQuota(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "per day") || strings.Contains(m, "perday")
}

func classifyErr(err error) error {
	// Wrap transient failures so the runner retries them with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests && isDailyQuota(apiErr.Message):
			return &core.LimitedTransientError{Err: err, ExtraRetries: dailyQuotaRetries}
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code/100 == 5:
			return &core.TransientError{Err: err}
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return &core.KindError{Kind: core.KindConfig, Err: err}
		case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "api key"):
			return &core.KindError{Kind: core.KindConfig, Err: err}
		}
		return &core.KindError{Kind: core.KindService, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &core.TransientError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.TransientError{Err: err}
	}
	return err
}
