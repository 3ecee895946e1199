package translation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickrail-labs/quickrail-go/internal/config"
	"github.com/quickrail-labs/quickrail-go/internal/domain"
)

func testConfig(baseURL string) OpenAIConfig {
	policy := config.Default().Translation
	return OpenAIConfig{
		BaseURL:      baseURL,
		APIKey:       "sk-test",
		Model:        policy.Model,
		Temperature:  policy.Temperature,
		SystemPrompt: policy.SystemPrompt,
		UserPrompt:   policy.UserPrompt,
	}
}

func TestOpenAIProviderTranslateBatch(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		answer := "```json\n[{\"id\":\"c1\",\"title\":\"Login\",\"steps\":\"1. Open\",\"expected_result\":\"Home\"}]\n```"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": answer}}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testConfig(srv.URL))
	require.NoError(t, err)

	out, err := p.TranslateBatch(context.Background(), BatchRequest{
		Source: domain.LanguageKorean,
		Target: domain.LanguageEnglish,
		Items: []BatchItem{
			{ID: "c1", Content: domain.CaseContent{Title: "로그인", Steps: "1. 연다", ExpectedResult: "홈"}},
			{ID: "c2", Content: domain.CaseContent{Title: "로그아웃"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CaseContent{Title: "Login", Steps: "1. Open", ExpectedResult: "Home"}, out["c1"])
	_, ok := out["c2"]
	assert.False(t, ok)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "from Korean to English")
	assert.Contains(t, got.Messages[1].Content, `"id":"c2"`)
}

func TestOpenAIProviderReportsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testConfig(srv.URL))
	require.NoError(t, err)
	_, err = p.TranslateBatch(context.Background(), BatchRequest{
		Source: domain.LanguageEnglish,
		Target: domain.LanguageKorean,
		Items:  []BatchItem{{ID: "c1", Content: domain.CaseContent{Title: "x"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestDecodeItems(t *testing.T) {
	out, err := decodeItems(`{"items":[{"id":"c1","title":"T"},{"id":"","title":"skip"},{"id":"c3","title":""}]}`)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "T", out["c1"].Title)

	_, err = decodeItems("not json")
	assert.Error(t, err)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `[1]`, stripCodeFences("```json\n[1]\n```"))
	assert.Equal(t, `[1]`, stripCodeFences("```[1]```"))
	assert.Equal(t, `[1]`, stripCodeFences("  [1] "))
}

func TestOpenAIConfigFromEnv(t *testing.T) {
	policy := config.Default().Translation

	_, enabled, err := OpenAIConfigFromEnv(policy)
	require.NoError(t, err)
	assert.False(t, enabled)

	t.Setenv("RUNENGINE_TRANSLATION_BASE_URL", "https://llm.internal/v1/")
	t.Setenv("RUNENGINE_TRANSLATION_API_KEY", "sk")
	cfg, enabled, err := OpenAIConfigFromEnv(policy)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.False(t, strings.HasSuffix(cfg.BaseURL, "/"))

	t.Setenv("RUNENGINE_TRANSLATION_TOKEN_URL", "https://idp/token")
	_, _, err = OpenAIConfigFromEnv(policy)
	assert.Error(t, err)
}
