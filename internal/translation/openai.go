package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/quickrail-labs/quickrail-go/internal/config"
	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/platform/env"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	RetryMax    int

	// Client-credentials settings for gateways that front the provider with OAuth2.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	SystemPrompt string
	UserPrompt   string
}

// OpenAIConfigFromEnv reads provider settings. enabled is false when neither
// an API key nor a token URL is configured.
func OpenAIConfigFromEnv(policy config.TranslationPolicy) (cfg OpenAIConfig, enabled bool, err error) {
	retryMax, err := env.Int("RUNENGINE_TRANSLATION_RETRY_MAX", 2)
	if err != nil {
		return OpenAIConfig{}, false, err
	}
	cfg = OpenAIConfig{
		BaseURL:      strings.TrimRight(env.String("RUNENGINE_TRANSLATION_BASE_URL", "https://api.openai.com/v1"), "/"),
		APIKey:       strings.TrimSpace(env.String("RUNENGINE_TRANSLATION_API_KEY", "")),
		Model:        policy.Model,
		Temperature:  policy.Temperature,
		RetryMax:     retryMax,
		TokenURL:     strings.TrimSpace(env.String("RUNENGINE_TRANSLATION_TOKEN_URL", "")),
		ClientID:     env.String("RUNENGINE_TRANSLATION_CLIENT_ID", ""),
		ClientSecret: env.String("RUNENGINE_TRANSLATION_CLIENT_SECRET", ""),
		Scopes:       env.List("RUNENGINE_TRANSLATION_SCOPES", ""),
		SystemPrompt: policy.SystemPrompt,
		UserPrompt:   policy.UserPrompt,
	}
	if cfg.APIKey == "" && cfg.TokenURL == "" {
		return cfg, false, nil
	}
	if err := cfg.Validate(); err != nil {
		return OpenAIConfig{}, false, err
	}
	return cfg, true, nil
}

func (c OpenAIConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("RUNENGINE_TRANSLATION_BASE_URL is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("translation model is required")
	}
	if c.TokenURL != "" && strings.TrimSpace(c.ClientID) == "" {
		return errors.New("RUNENGINE_TRANSLATION_CLIENT_ID is required with a token URL")
	}
	if c.RetryMax < 0 {
		return errors.New("RUNENGINE_TRANSLATION_RETRY_MAX must be >= 0")
	}
	return nil
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *retryablehttp.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client.HTTPClient = cc.Client(context.Background())
	}
	return &OpenAIProvider{cfg: cfg, client: client}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type wireItem struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Steps          string `json:"steps"`
	ExpectedResult string `json:"expected_result"`
}

func (p *OpenAIProvider) TranslateBatch(ctx context.Context, req BatchRequest) (map[string]domain.CaseContent, error) {
	if len(req.Items) == 0 {
		return map[string]domain.CaseContent{}, nil
	}
	items := make([]wireItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, wireItem{
			ID:             item.ID,
			Title:          item.Content.Title,
			Steps:          item.Content.Steps,
			ExpectedResult: item.Content.ExpectedResult,
		})
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	prompt := strings.NewReplacer(
		"{source_lang}", req.Source.DisplayName(),
		"{target_lang}", req.Target.DisplayName(),
		"{payload}", string(payload),
	).Replace(p.cfg.UserPrompt)

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" && p.cfg.TokenURL == "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var parsed chatResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			return nil, fmt.Errorf("provider error: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("provider http status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("provider returned no choices")
	}
	return decodeItems(parsed.Choices[0].Message.Content)
}

// decodeItems parses the model's answer: a JSON array of items, optionally
// inside a code fence or wrapped in a single-key object.
func decodeItems(content string) (map[string]domain.CaseContent, error) {
	text := stripCodeFences(content)
	var items []wireItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		var wrapped map[string]json.RawMessage
		if json.Unmarshal([]byte(text), &wrapped) != nil {
			return nil, fmt.Errorf("decode translated items: %w", err)
		}
		found := false
		for _, value := range wrapped {
			if json.Unmarshal(value, &items) == nil {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("decode translated items: %w", err)
		}
	}
	out := make(map[string]domain.CaseContent, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" || strings.TrimSpace(item.Title) == "" {
			continue
		}
		out[id] = domain.CaseContent{
			Title:          item.Title,
			Steps:          item.Steps,
			ExpectedResult: item.ExpectedResult,
		}
	}
	return out, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	return strings.TrimSpace(s)
}
