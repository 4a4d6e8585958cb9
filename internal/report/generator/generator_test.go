package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/config"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/testutil"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float32 `json:"temperature"`
}

// fakeOpenAI serves /v1/chat/completions with a fixed reply
func fakeOpenAI(t *testing.T, reply string, status int, captured *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			_ = json.NewDecoder(r.Body).Decode(captured)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.GeneratorConfig {
	return config.GeneratorConfig{
		Provider:    ProviderOpenAI,
		APIKey:      "test-key",
		BaseURL:     baseURL + "/v1",
		Model:       "gpt-4o",
		Temperature: 0.7,
		MaxChars:    1500,
		MaxTokens:   512,
		Timeout:     2 * time.Second,
	}
}

func promptContext() PromptContext {
	c := testutil.CaseFixture("case-1", []string{"ev-1"}, []string{"v-1"})
	return PromptContext{
		Requester: testutil.RequesterFixture(),
		Case:      c,
		Evidence:  []domain.EvidenceItem{testutil.EvidenceFixture("ev-1", "case-1")},
		Victims:   []domain.VictimRecord{testutil.VictimFixture("v-1")},
	}
}

func TestOpenAI_Draft(t *testing.T) {
	var captured chatRequest
	srv := fakeOpenAI(t, "  O exame concluiu pela presença de acelerante.  ", http.StatusOK, &captured)
	g := NewOpenAI(testConfig(srv.URL), logger.Nop())

	text, err := g.Draft(context.Background(), promptContext())
	require.NoError(t, err)

	assert.Equal(t, "O exame concluiu pela presença de acelerante.", text)
	assert.Equal(t, "gpt-4o", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, systemPrompt, captured.Messages[0].Content)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Contains(t, captured.Messages[1].Content, "Incêndio no galpão case-1")
	assert.Contains(t, captured.Messages[1].Content, "até 1500 caracteres")
	assert.InDelta(t, 0.7, captured.Temperature, 0.001)
}

func TestOpenAI_EmptyOutput(t *testing.T) {
	srv := fakeOpenAI(t, "   \n ", http.StatusOK, nil)
	g := NewOpenAI(testConfig(srv.URL), nil)

	_, err := g.Draft(context.Background(), promptContext())

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrService))
}

func TestOpenAI_UpstreamError(t *testing.T) {
	srv := fakeOpenAI(t, "", http.StatusInternalServerError, nil)
	g := NewOpenAI(testConfig(srv.URL), nil)

	_, err := g.Draft(context.Background(), promptContext())

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, apperrors.As(err, &appErr))
	assert.Equal(t, "SERVICE_ERROR", appErr.Code)
	assert.Equal(t, "errors.generation_failed", appErr.MessageKey)
}

func TestOpenAI_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	g := NewOpenAI(cfg, nil)

	start := time.Now()
	_, err := g.Draft(context.Background(), promptContext())

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrService))
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpenAI_ClipsLongOutput(t *testing.T) {
	srv := fakeOpenAI(t, strings.Repeat("palavra ", 100), http.StatusOK, nil)
	cfg := testConfig(srv.URL)
	g := NewOpenAI(cfg, nil)

	pc := promptContext()
	pc.MaxChars = 50
	text, err := g.Draft(context.Background(), pc)
	require.NoError(t, err)

	assert.LessOrEqual(t, utf8.RuneCountInString(text), 50)
	assert.False(t, strings.HasSuffix(text, " "))
	assert.True(t, strings.HasSuffix(text, "palavra"))
}

func TestClip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under limit", "curto", 10, "curto"},
		{"disabled", "qualquer texto", 0, "qualquer texto"},
		{"cuts at word boundary", "um dois três quatro", 11, "um dois"},
		{"keeps a word ending at the limit", "um dois três quatro", 12, "um dois três"},
		{"multibyte runes", "ação ação ação", 9, "ação ação"},
		{"no whitespace", "abcdefghij", 4, "abcd"},
		{"trims trailing punctuation", "primeiro, segundo", 10, "primeiro"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clip(tt.in, tt.max))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Run("bounds list sizes", func(t *testing.T) {
		pc := promptContext()
		pc.Evidence = nil
		for i := 0; i < MaxItems+20; i++ {
			pc.Evidence = append(pc.Evidence, domain.EvidenceItem{ID: "e", Type: domain.EvidenceText, Text: "item"})
		}

		prompt := BuildPrompt(pc)
		assert.Equal(t, MaxItems, strings.Count(prompt, "Descrição: item"))
	})

	t.Run("clips long fields", func(t *testing.T) {
		pc := promptContext()
		pc.Case.Description = strings.Repeat("x", MaxFieldRune*2)

		prompt := BuildPrompt(pc)
		assert.NotContains(t, prompt, strings.Repeat("x", MaxFieldRune+1))
		assert.Contains(t, prompt, strings.Repeat("x", MaxFieldRune)+"…")
	})

	t.Run("missing values", func(t *testing.T) {
		pc := PromptContext{Case: &domain.CaseSummary{ID: "c"}, MaxChars: 100}

		prompt := BuildPrompt(pc)
		assert.Contains(t, prompt, "- Usuário: Não informado")
		assert.Contains(t, prompt, "- Caso: Não informado")
		assert.Contains(t, prompt, "Relatório Geral")
	})

	t.Run("focused evidence drafts an expert report", func(t *testing.T) {
		pc := promptContext()
		focus := testutil.EvidenceFixture("ev-9", "case-1")
		pc.Focus = &focus

		prompt := BuildPrompt(pc)
		assert.Contains(t, prompt, "Laudo Pericial")
		assert.Contains(t, prompt, "Evidência analisada")
	})
}

func TestStatic_Draft(t *testing.T) {
	g := NewStatic()
	pc := promptContext()
	pc.MaxChars = 1500

	text, err := g.Draft(context.Background(), pc)
	require.NoError(t, err)
	assert.Contains(t, text, "1 evidência(s)")

	focus := testutil.EvidenceFixture("ev-1", "case-1")
	pc.Focus = &focus
	text, err = g.Draft(context.Background(), pc)
	require.NoError(t, err)
	assert.Contains(t, text, "ev-1")
}

func TestNew(t *testing.T) {
	g, err := New(config.GeneratorConfig{Provider: ProviderStatic}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Static{}, g)

	g, err = New(config.GeneratorConfig{Provider: ProviderOpenAI, APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	_, err = New(config.GeneratorConfig{Provider: "gemini"}, nil)
	assert.Error(t, err)
}
