package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompleter implements Completer with the OpenAI chat completions API
// (or any compatible gateway).
type OpenAICompleter struct {
	client *openai.Client
}

// NewOpenAICompleter builds a completer. baseURL may be empty for the public
// API; httpClient may be nil for the library default.
func NewOpenAICompleter(apiKey, baseURL string, httpClient *http.Client) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAICompleter{client: openai.NewClientWithConfig(cfg)}
}

// Complete sends the system instructions and one user turn carrying the
// prompt and the image as a base64 data URL, with JSON-object output.
func (o *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	dataURL := "data:" + req.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
	})
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("completion returned no choices")
	}
	return Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
