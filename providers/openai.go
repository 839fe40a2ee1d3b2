package providers

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/freetier/llmrouter/upstream"
)

// OpenAI binds the official openai-go SDK to upstream.Client, for
// providers whose catalog entry is configured with kind "openai". Most
// OpenAI-compatible vendors are served by upstream.OpenAICompatible
// instead; this binding exists for the handful of SDK conveniences
// (typed streaming, retry/backoff inside the SDK transport) that are
// worth keeping when talking to the real OpenAI API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI constructs an OpenAI binding. baseURL overrides the SDK's
// default endpoint when non-empty (used for Azure OpenAI-compatible
// deployments fronted by the same catalog entry).
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

// Complete implements upstream.Client.
func (o *OpenAI) Complete(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	params := buildParams(req)
	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	resp := &upstream.Response{
		ID:    completion.ID,
		Model: completion.Model,
		Usage: usage(int(completion.Usage.PromptTokens), int(completion.Usage.CompletionTokens)),
	}
	for i, choice := range completion.Choices {
		resp.Choices = append(resp.Choices, upstream.Choice{
			Index:        i,
			Message:      upstream.Message{Role: string(choice.Message.Role), Content: choice.Message.Content},
			FinishReason: string(choice.FinishReason),
		})
	}
	return resp, nil
}

// CompleteStream implements upstream.Client.
func (o *OpenAI) CompleteStream(ctx context.Context, req upstream.Request) (<-chan upstream.StreamChunk, error) {
	params := buildParams(req)
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan upstream.StreamChunk)
	go func() {
		defer close(ch)
		for stream.Next() {
			chunk := stream.Current()
			sc := upstream.StreamChunk{ID: chunk.ID, Model: chunk.Model}
			for _, c := range chunk.Choices {
				sc.Choices = append(sc.Choices, upstream.StreamChoice{
					Index:        int(c.Index),
					Delta:        upstream.MessageDelta{Role: c.Delta.Role, Content: c.Delta.Content},
					FinishReason: c.FinishReason,
				})
			}
			ch <- sc
		}
		if err := stream.Err(); err != nil {
			ch <- upstream.StreamChunk{Err: err}
		}
	}()
	return ch, nil
}

func buildParams(req upstream.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: buildMessages(toChatMessages(req)),
		Model:    req.Model,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.N != nil {
		params.N = openai.Int(int64(*req.N))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func buildMessages(msgs []upstream.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(msg.Content))
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
