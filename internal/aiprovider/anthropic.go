package aiprovider

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/model"
)

// Anthropic implements Provider on the Message Batches API for asynchronous
// work and the Messages API for direct calls.
type Anthropic struct {
	client sdk.Client
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

// SubmitBatch creates one message batch with one entry per request.
func (a *Anthropic) SubmitBatch(ctx context.Context, aiModel string, reqs []Request) (*BatchHandle, error) {
	sdkReqs := make([]sdk.MessageBatchNewParamsRequest, len(reqs))
	for i, r := range reqs {
		params := sdk.MessageBatchNewParamsRequestParams{
			Model:     sdk.Model(aiModel),
			MaxTokens: r.MaxTokens,
			Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(r.Prompt))},
		}
		if r.System != "" {
			params.System = []sdk.TextBlockParam{{Text: r.System}}
		}
		sdkReqs[i] = sdk.MessageBatchNewParamsRequest{
			CustomID: r.CustomID,
			Params:   params,
		}
	}

	batch, err := a.client.Messages.Batches.New(ctx, sdk.MessageBatchNewParams{Requests: sdkReqs})
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create batch")
	}
	return anthropicHandle(batch), nil
}

// CheckBatch refreshes the batch state.
func (a *Anthropic) CheckBatch(ctx context.Context, externalID string) (*BatchHandle, error) {
	batch, err := a.client.Messages.Batches.Get(ctx, externalID)
	if err != nil {
		return nil, eris.Wrapf(err, "anthropic: get batch %s", externalID)
	}
	return anthropicHandle(batch), nil
}

// BatchResults streams the per-item results of an ended batch.
func (a *Anthropic) BatchResults(ctx context.Context, handle *BatchHandle) ([]Response, error) {
	stream := a.client.Messages.Batches.ResultsStreaming(ctx, handle.ExternalID)
	defer stream.Close()

	var out []Response
	for stream.Next() {
		item := stream.Current()
		if item.Result.Type != "succeeded" {
			out = append(out, Response{CustomID: item.CustomID, Err: item.Result.Type})
			continue
		}
		msg := item.Result.Message
		var text string
		for _, b := range msg.Content {
			if b.Type == "text" {
				text += b.Text
			}
		}
		out = append(out, Response{
			CustomID: item.CustomID,
			Text:     text,
			Usage:    anthropicUsage(msg.Usage),
		})
	}
	if err := stream.Err(); err != nil {
		return nil, eris.Wrapf(err, "anthropic: read batch results %s", handle.ExternalID)
	}
	return out, nil
}

// CancelBatch asks the provider to cancel the batch.
func (a *Anthropic) CancelBatch(ctx context.Context, externalID string) error {
	if _, err := a.client.Messages.Batches.Cancel(ctx, externalID); err != nil {
		return eris.Wrapf(err, "anthropic: cancel batch %s", externalID)
	}
	return nil
}

// Analyze runs one message synchronously.
func (a *Anthropic) Analyze(ctx context.Context, aiModel string, req Request) (*Response, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(aiModel),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}

	var text string
	for _, b := range msg.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return &Response{
		CustomID: req.CustomID,
		Text:     text,
		Usage:    anthropicUsage(msg.Usage),
	}, nil
}

func anthropicHandle(batch *sdk.MessageBatch) *BatchHandle {
	return &BatchHandle{
		ExternalID: batch.ID,
		Status:     anthropicStatus(string(batch.ProcessingStatus)),
	}
}

func anthropicStatus(processing string) model.BatchStatus {
	switch processing {
	case "ended":
		return model.BatchCompleted
	case "canceling":
		return model.BatchCancelled
	default:
		return model.BatchInProgress
	}
}

func anthropicUsage(u sdk.Usage) model.TokenUsage {
	return model.TokenUsage{
		PromptTokens:     u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
		CompletionTokens: u.OutputTokens,
		CachedTokens:     u.CacheReadInputTokens,
		TotalTokens:      u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens + u.OutputTokens,
	}
}
