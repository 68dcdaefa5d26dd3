package domain

import (
	"math"
	"strconv"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

// Config is the full runtime configuration of the bot.
type Config struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	OpenAI   OpenAIConfig   `json:"openai" yaml:"openai"`
	Limits   LimitsConfig   `json:"limits" yaml:"limits"`
	Context  ContextConfig  `json:"context" yaml:"context"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Infra    InfraConfig    `json:"infra" yaml:"infra"`
}

type TelegramConfig struct {
	Token           string   `json:"token,omitempty" yaml:"token,omitempty"`
	PollTimeout     int      `json:"pollTimeout" yaml:"pollTimeout"`         // long-poll timeout in seconds
	CommandPrefixes []string `json:"commandPrefixes" yaml:"commandPrefixes"` // e.g. ["!", "/"]
	AllowedUsers    []int64  `json:"allowedUsers" yaml:"allowedUsers"`       // empty allows everyone
}

// OpenAIConfig describes the completion endpoint and the request parameters sent with every call.
type OpenAIConfig struct {
	APIKey      string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL     string  `json:"baseUrl" yaml:"baseUrl"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TimeoutSecs int     `json:"timeoutSeconds" yaml:"timeoutSeconds"` // per-attempt timeout
}

// LimitsConfig controls local admission control and input bounds.
type LimitsConfig struct {
	MaxRequestsPerMinute int `json:"maxRequestsPerMinute" yaml:"maxRequestsPerMinute"`
	WindowSeconds        int `json:"windowSeconds" yaml:"windowSeconds"`
	CleanupSeconds       int `json:"cleanupSeconds" yaml:"cleanupSeconds"`
	RateLimitSeconds     int `json:"rateLimitSeconds" yaml:"rateLimitSeconds"` // informational, shown in help
	MaxMessageLength     int `json:"maxMessageLength" yaml:"maxMessageLength"`
}

// ContextConfig controls the per-identity conversation buffer and the request prompt.
type ContextConfig struct {
	MaxContextLength int    `json:"maxContextLength" yaml:"maxContextLength"` // turns; the buffer holds 2x messages
	TokenBudget      int    `json:"tokenBudget" yaml:"tokenBudget"`           // 0 disables token fitting
	Encoding         string `json:"encoding" yaml:"encoding"`                 // tiktoken encoding name
	SystemPrompt     string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	SystemPromptFile string `json:"systemPromptFile,omitempty" yaml:"systemPromptFile,omitempty"`
}

// RetryConfig controls the API client's attempt loop. Backoff is linear: RetryDelay x attempt.
type RetryConfig struct {
	MaxRetries   int `json:"maxRetries" yaml:"maxRetries"`     // total attempts per request
	RetryDelayMS int `json:"retryDelayMs" yaml:"retryDelayMs"` // base delay in milliseconds
}

type GatewayConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Port      int    `json:"port" yaml:"port"`
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"` // Bearer token for /ws and /metrics
}

type InfraConfig struct {
	LogFormat string `json:"logFormat" yaml:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
}

// Window returns the sliding rate-limit window.
func (l LimitsConfig) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// CleanupInterval returns how often idle rate-limit entries are swept.
func (l LimitsConfig) CleanupInterval() time.Duration {
	return time.Duration(l.CleanupSeconds) * time.Second
}

// Timeout returns the per-attempt API timeout.
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// RetryDelay returns the base backoff delay.
func (r RetryConfig) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelayMS) * time.Millisecond
}

// =============================================================================
// Messaging Protocol
// =============================================================================

// Identity identifies one distinct requester. It keys both the rate limiter and the conversation store.
type Identity int64

// MaxGatewayUserID is the largest userId a gateway client may use.
const MaxGatewayUserID = 1<<53 - 1

// gatewayBase puts gateway identities far below every Telegram user and chat ID,
// so the two surfaces never share limiter quota or history.
const gatewayBase = Identity(math.MinInt64)

// GatewayIdentity maps a gateway userId in 1..MaxGatewayUserID to its identity.
func GatewayIdentity(userID int64) Identity {
	return gatewayBase + Identity(userID)
}

// IsGateway reports whether id was produced by GatewayIdentity.
func (id Identity) IsGateway() bool {
	return id <= gatewayBase+MaxGatewayUserID
}

func (id Identity) String() string {
	if id.IsGateway() {
		return "ws:" + strconv.FormatInt(int64(id-gatewayBase), 10)
	}
	return strconv.FormatInt(int64(id), 10)
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles accepted by the completion API.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage and AssistantMessage are shorthands used by the handler and tests.
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }
func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }

// CompletionRequest is what the transport sends to the completion endpoint for one attempt.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}
