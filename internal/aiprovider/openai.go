package aiprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/model"
)

// OpenAI implements Provider on the Batch API (JSONL file upload plus batch
// creation) for asynchronous work and Chat Completions for direct calls.
type OpenAI struct {
	client sdk.Client
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (o *OpenAI) Name() string { return "openai" }

// batchLine is one JSONL input line of the Batch API.
type batchLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// batchResultLine is one JSONL output line.
type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				PromptTokens        int64 `json:"prompt_tokens"`
				CompletionTokens    int64 `json:"completion_tokens"`
				TotalTokens         int64 `json:"total_tokens"`
				PromptTokensDetails struct {
					CachedTokens int64 `json:"cached_tokens"`
				} `json:"prompt_tokens_details"`
			} `json:"usage"`
		} `json:"body"`
	} `json:"response"`
}

// SubmitBatch uploads a JSONL request file and creates a batch over it. The
// output file id becomes the handle's artifact once the batch completes.
func (o *OpenAI) SubmitBatch(ctx context.Context, aiModel string, reqs []Request) (*BatchHandle, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range reqs {
		body, err := json.Marshal(map[string]any{
			"model":      aiModel,
			"messages":   chatMessages(r),
			"max_tokens": r.MaxTokens,
		})
		if err != nil {
			return nil, eris.Wrap(err, "openai: encode batch request body")
		}
		if err := enc.Encode(batchLine{
			CustomID: r.CustomID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body:     body,
		}); err != nil {
			return nil, eris.Wrap(err, "openai: encode batch line")
		}
	}

	file, err := o.client.Files.New(ctx, sdk.FileNewParams{
		File:    sdk.File(bytes.NewReader(buf.Bytes()), "batch.jsonl", "application/jsonl"),
		Purpose: sdk.FilePurposeBatch,
	})
	if err != nil {
		return nil, eris.Wrap(err, "openai: upload batch input file")
	}

	batch, err := o.client.Batches.New(ctx, sdk.BatchNewParams{
		CompletionWindow: sdk.BatchNewParamsCompletionWindow24h,
		Endpoint:         sdk.BatchNewParamsEndpointV1ChatCompletions,
		InputFileID:      file.ID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "openai: create batch")
	}
	return openaiHandle(batch), nil
}

// CheckBatch refreshes the batch state.
func (o *OpenAI) CheckBatch(ctx context.Context, externalID string) (*BatchHandle, error) {
	batch, err := o.client.Batches.Get(ctx, externalID)
	if err != nil {
		return nil, eris.Wrapf(err, "openai: get batch %s", externalID)
	}
	return openaiHandle(batch), nil
}

// BatchResults downloads and parses the output file of a completed batch.
func (o *OpenAI) BatchResults(ctx context.Context, handle *BatchHandle) ([]Response, error) {
	if handle.ArtifactHandle == "" {
		return nil, eris.Errorf("openai: batch %s has no output file", handle.ExternalID)
	}

	resp, err := o.client.Files.Content(ctx, handle.ArtifactHandle)
	if err != nil {
		return nil, eris.Wrapf(err, "openai: download batch output %s", handle.ArtifactHandle)
	}
	defer resp.Body.Close()

	var out []Response
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var item batchResultLine
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, eris.Wrap(err, "openai: parse batch result line")
		}
		if item.Response == nil || item.Response.StatusCode != 200 || len(item.Response.Body.Choices) == 0 {
			out = append(out, Response{CustomID: item.CustomID, Err: "errored"})
			continue
		}
		u := item.Response.Body.Usage
		out = append(out, Response{
			CustomID: item.CustomID,
			Text:     item.Response.Body.Choices[0].Message.Content,
			Usage: model.TokenUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				CachedTokens:     u.PromptTokensDetails.CachedTokens,
				TotalTokens:      u.TotalTokens,
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "openai: read batch output")
	}
	return out, nil
}

// CancelBatch asks the provider to cancel the batch.
func (o *OpenAI) CancelBatch(ctx context.Context, externalID string) error {
	if _, err := o.client.Batches.Cancel(ctx, externalID); err != nil {
		return eris.Wrapf(err, "openai: cancel batch %s", externalID)
	}
	return nil
}

// Analyze runs one chat completion synchronously.
func (o *OpenAI) Analyze(ctx context.Context, aiModel string, req Request) (*Response, error) {
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
		return nil, eris.Wrap(err, "openai: chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: empty completion")
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

func chatMessages(r Request) []map[string]string {
	messages := make([]map[string]string, 0, 2)
	if r.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": r.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": r.Prompt})
	return messages
}

func openaiHandle(batch *sdk.Batch) *BatchHandle {
	return &BatchHandle{
		ExternalID:     batch.ID,
		Status:         openaiStatus(string(batch.Status)),
		ArtifactHandle: batch.OutputFileID,
	}
}

func openaiStatus(status string) model.BatchStatus {
	switch status {
	case "validating":
		return model.BatchValidating
	case "completed":
		return model.BatchCompleted
	case "failed":
		return model.BatchFailed
	case "expired":
		return model.BatchExpired
	case "cancelled":
		return model.BatchCancelled
	default: // in_progress, finalizing, cancelling
		return model.BatchInProgress
	}
}
