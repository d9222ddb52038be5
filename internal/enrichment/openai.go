package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"callbilling/internal/config"
	"callbilling/pkg/metrics"
	"callbilling/pkg/utils"

	"github.com/failsafe-go/failsafe-go"
)

const (
	relabelPrompt = "Rewrite this phone call transcript as a dialogue. Prefix every turn with \"Agent:\" or \"Customer:\". " +
		"Keep the wording; do not add or summarize anything."
	summarizePrompt = "Summarize this sales phone call in 2-4 sentences: purpose, key points and agreed next steps."
	classifyPrompt  = "Classify the outcome of this phone call. Answer with exactly one label from: %s."
)

// OpenAIClient implements Transcriber and Analyst against the OpenAI HTTP API.
type OpenAIClient struct {
	client             *http.Client
	exec               failsafe.Executor[[]byte]
	apiKey             string
	baseURL            string
	transcriptionModel string
	chatModel          string
}

func NewOpenAIClient(cfg config.AIConfig) *OpenAIClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		client:             &http.Client{Timeout: timeout},
		exec:               utils.NewHTTPRetryExecutor(utils.HTTPRetryConfig{MaxRetries: 2}),
		apiKey:             cfg.APIKey,
		baseURL:            baseURL,
		transcriptionModel: cfg.TranscriptionModel,
		chatModel:          cfg.ChatModel,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (c *OpenAIClient) Transcribe(ctx context.Context, rec Recording) (string, error) {
	if len(rec.Data) == 0 {
		return "", errors.New("openai: empty recording")
	}
	filename := rec.Filename
	if filename == "" {
		filename = "recording.mp3"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", c.transcriptionModel); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(rec.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	payload, contentType := buf.Bytes(), mw.FormDataContentType()

	start := time.Now()
	body, err := utils.DoHTTP(ctx, c.exec, c.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		c.authorize(req)
		return req, nil
	})
	metrics.ObserveUpstream("openai", "transcribe", start)
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}

	var out transcriptionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("openai: decode transcription: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (c *OpenAIClient) Relabel(ctx context.Context, transcript string) (string, error) {
	return c.complete(ctx, "relabel", relabelPrompt, transcript)
}

func (c *OpenAIClient) Summarize(ctx context.Context, transcript string) (string, error) {
	return c.complete(ctx, "summarize", summarizePrompt, transcript)
}

func (c *OpenAIClient) Classify(ctx context.Context, transcript, summary string) (string, error) {
	prompt := fmt.Sprintf(classifyPrompt, strings.Join(Outcomes, ", "))
	return c.complete(ctx, "classify", prompt, "Summary:\n"+summary+"\n\nTranscript:\n"+transcript)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) complete(ctx context.Context, op, system, user string) (string, error) {
	if c.chatModel == "" {
		return "", errors.New("openai: chat model is required")
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	start := time.Now()
	body, err := utils.DoHTTP(ctx, c.exec, c.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)
		return req, nil
	})
	metrics.ObserveUpstream("openai", op, start)
	if err != nil {
		return "", fmt.Errorf("openai: %s: %w", op, err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("openai: decode %s: %w", op, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: %s: no choices", op)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
