// Package llm реализует dialogueproc.Provider поверх HTTP-эндпоинта
// chat-completions в формате OpenAI. Это единственное место, где сетевые
// ошибки, рейт-лимиты и ошибки провайдера классифицируются на три вида,
// от которых зависит политика фолбэков и ретраев доменного слоя.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"telegram-fleet/internal/domain/dialogueproc"
	"telegram-fleet/internal/infra/throttle"
)

// Авто-ретрай соединения: 3 попытки (первая + connectRetries повторов) с
// экспоненциальным бэкоффом 1-10с. Несёт его общий throttle.Throttler;
// ошибки рейт-лимита и провайдера реализуют StopRetryer и не повторяются.
const (
	connectRetries     = 2
	connectBackoffBase = 1 * time.Second
	connectBackoffMax  = 10 * time.Second
)

// callsPerSecond — щедрый верхний предел темпа вызовов провайдера на весь
// процесс; служит предохранителем, а не рабочим лимитом.
const callsPerSecond = 50

// defaultTimeout ограничивает один вызов LLM целиком (по умолчанию 30с,
// настраивается опцией WithTimeout).
const defaultTimeout = 30 * time.Second

// Client вызывает эндпоинт /chat/completions в формате OpenAI.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	retry      *throttle.Throttler
}

// Option настраивает Client.
type Option func(*Client)

// WithTimeout переопределяет общий таймаут на вызов.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBaseURL переопределяет эндпоинт по умолчанию — для OpenAI-совместимых
// провайдеров (локальные шлюзы, Azure-подобные деплои и т.п.).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient строит Client. processProxyURL, если задан, направляет через него
// весь HTTP-трафик — чтобы исключить утечку IP процесса.
func NewClient(apiKey, processProxyURL string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is empty")
	}

	transport := &http.Transport{}
	if processProxyURL != "" {
		u, err := url.Parse(processProxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse process proxy url")
		}
		transport.Proxy = http.ProxyURL(u)
	}

	c := &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    "https://api.openai.com/v1/chat/completions",
		apiKey:     apiKey,
		timeout:    defaultTimeout,
		retry: throttle.New(callsPerSecond,
			throttle.WithMaxRetries(connectRetries),
			throttle.WithBackoff(connectBackoffBase, connectBackoffMax)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var _ dialogueproc.Provider = (*Client)(nil)

// Generate реализует dialogueproc.Provider. Сбои соединения повторяются
// троттлером до connectRetries раз с джиттером в экспоненциальном бэкоффе;
// ответ 429 становится RateLimitError, любой другой не-2xx или битый ответ —
// ProviderError; оба реализуют StopRetryer и возвращаются без повторов —
// рейт-лимит пробрасывается наверх, остальное остаётся цепочке фолбэков
// моделей вызывающей стороны.
func (c *Client) Generate(ctx context.Context, messages []dialogueproc.Message, model string, temperature float64, maxTokens int) (dialogueproc.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := chatRequest{Model: model, Temperature: temperature, MaxTokens: maxTokens}
	for _, m := range messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return dialogueproc.Completion{}, errors.Wrap(err, "marshal chat request")
	}

	var result dialogueproc.Completion
	err = c.retry.Do(ctx, func() error {
		completion, callErr := c.doOnce(ctx, payload, model)
		if callErr != nil {
			return callErr
		}
		result = completion
		return nil
	})
	if err != nil {
		return dialogueproc.Completion{}, err
	}
	return result, nil
}

func (c *Client) doOnce(ctx context.Context, payload []byte, model string) (dialogueproc.Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return dialogueproc.Completion{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dialogueproc.Completion{}, &ConnectionError{Raw: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return dialogueproc.Completion{}, &ConnectionError{Raw: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return dialogueproc.Completion{}, &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return dialogueproc.Completion{}, &ProviderError{
			StatusCode: resp.StatusCode,
			Raw:        fmt.Errorf("unexpected status: %s", decodeErrorMessage(raw)),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return dialogueproc.Completion{}, &ProviderError{StatusCode: resp.StatusCode, Raw: errors.Wrap(err, "decode response")}
	}
	if len(decoded.Choices) == 0 {
		return dialogueproc.Completion{}, &ProviderError{StatusCode: resp.StatusCode, Raw: errors.New("empty choices")}
	}

	choice := decoded.Choices[0]
	return dialogueproc.Completion{
		Content:          choice.Message.Content,
		Model:            model,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		TotalTokens:      decoded.Usage.TotalTokens,
		FinishReason:     choice.FinishReason,
	}, nil
}

func decodeErrorMessage(raw []byte) string {
	var body chatErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return string(raw)
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
