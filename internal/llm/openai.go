package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relaybot/internal/domain"
)

// DefaultBaseURL is the OpenAI API root; the chat completions path is appended to it.
const DefaultBaseURL = "https://api.openai.com/v1"

// maxErrorBody bounds how much of a non-2xx body is read for the error envelope.
const maxErrorBody = 64 << 10

// OpenAIProvider calls the OpenAI Chat Completions API. One Complete call is one attempt.
type OpenAIProvider struct {
	apiKey      string
	client      *http.Client
	endpoint    string
	marshalFunc func(v interface{}) ([]byte, error) // for testing
}

// NewOpenAIProvider returns a provider for the given key and API root.
// An empty baseURL selects DefaultBaseURL.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenAIProvider{
		apiKey:      apiKey,
		client:      &http.Client{},
		endpoint:    strings.TrimRight(baseURL, "/") + "/chat/completions",
		marshalFunc: json.Marshal,
	}
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// APIError is returned for non-2xx responses. Message, Type and Code come from the
// OpenAI error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Status     string
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("openai api: ")
	b.WriteString(e.Status)
	if e.Type != "" {
		b.WriteString(" (" + e.Type + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// HTTPStatus exposes the status code to the retry classifier.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Complete implements domain.Completer. req.Timeout, when positive, bounds this attempt.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := openAIRequest{
		Model:       req.Model,
		Messages:    make([]openAIMessage, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for i, m := range req.Messages {
		body.Messages[i] = openAIMessage{Role: string(m.Role), Content: m.Content}
	}
	raw, err := p.marshalFunc(body)
	if err != nil {
		return "", fmt.Errorf("openai marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newAPIError(resp)
	}
	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

func newAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env openAIErrorEnvelope
	if json.Unmarshal(data, &env) == nil {
		apiErr.Message = env.Error.Message
		apiErr.Type = env.Error.Type
		if env.Error.Code != nil {
			apiErr.Code = fmt.Sprint(env.Error.Code)
		}
	}
	return apiErr
}

var _ domain.Completer = (*OpenAIProvider)(nil)
