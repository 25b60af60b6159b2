package aiprovider

import (
	"context"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/model"
)

// OpenRouter implements Provider over OpenRouter's OpenAI-compatible chat
// endpoint. It has no batch API, so asynchronous operations report
// ErrBatchUnsupported and callers use direct mode.
type OpenRouter struct {
	client sdk.Client
}

// NewOpenRouter creates an OpenRouter provider.
func NewOpenRouter(apiKey, baseURL string) *OpenRouter {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouter{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
		),
	}
}

func (o *OpenRouter) Name() string { return "openrouter" }

func (o *OpenRouter) SubmitBatch(ctx context.Context, aiModel string, reqs []Request) (*BatchHandle, error) {
	return nil, ErrBatchUnsupported
}

func (o *OpenRouter) CheckBatch(ctx context.Context, externalID string) (*BatchHandle, error) {
	return nil, ErrBatchUnsupported
}

func (o *OpenRouter) BatchResults(ctx context.Context, handle *BatchHandle) ([]Response, error) {
	return nil, ErrBatchUnsupported
}

func (o *OpenRouter) CancelBatch(ctx context.Context, externalID string) error {
	return ErrBatchUnsupported
}

// Analyze runs one chat completion synchronously.
func (o *OpenRouter) Analyze(ctx context.Context, aiModel string, req Request) (*Response, error) {
	messages := []sdk.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	messages = append(messages, sdk.UserMessage(req.Prompt))

	resp, err := o.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model:     sdk.ChatModel(aiModel),
		Messages:  messages,
		MaxTokens: sdk.Int(req.MaxTokens),
	})
	if err != nil {
		return nil, eris.Wrap(err, "openrouter: chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openrouter: empty completion")
	}

	return &Response{
		CustomID: req.CustomID,
		Text:     resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			CachedTokens:     resp.Usage.PromptTokensDetails.CachedTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
