package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/freetier/llmrouter/upstream"
)

// Bedrock binds AWS Bedrock's InvokeModel/InvokeModelWithResponseStream
// API to upstream.Client, for catalog entries configured with kind
// "bedrock". It speaks the Anthropic Messages wire format, which is the
// shape every Claude model on Bedrock expects regardless of account
// region.
type Bedrock struct {
	client *bedrockruntime.Client
}

// NewBedrock constructs a Bedrock binding using the default AWS
// credential chain. region defaults to us-east-1.
func NewBedrock(ctx context.Context, region string) (*Bedrock, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("providers: load AWS config: %w", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

type bedrockRequest struct {
	AnthropicVersion string              `json:"anthropic_version"`
	MaxTokens        int                 `json:"max_tokens"`
	Messages         []upstream.Message  `json:"messages"`
	Temperature      *float64            `json:"temperature,omitempty"`
	TopP             *float64            `json:"top_p,omitempty"`
	StopSequences    []string            `json:"stop_sequences,omitempty"`
	System           string              `json:"system,omitempty"`
}

type bedrockResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func buildBedrockRequest(req upstream.Request) bedrockRequest {
	maxTokens := 1024
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	var system string
	var messages []upstream.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}
	return bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequences:    req.Stop,
		System:           system,
	}
}

// Complete implements upstream.Client.
func (b *Bedrock) Complete(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	body, err := json.Marshal(buildBedrockRequest(req))
	if err != nil {
		return nil, fmt.Errorf("providers: marshal bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: bedrock invoke: %w", err)
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, fmt.Errorf("providers: unmarshal bedrock response: %w", err)
	}

	var text string
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	return &upstream.Response{
		ID:    parsed.ID,
		Model: req.Model,
		Choices: []upstream.Choice{{
			Message:      upstream.Message{Role: "assistant", Content: text},
			FinishReason: parsed.StopReason,
		}},
		Usage: usage(parsed.Usage.InputTokens, parsed.Usage.OutputTokens),
	}, nil
}

// CompleteStream implements upstream.Client via
// InvokeModelWithResponseStream.
func (b *Bedrock) CompleteStream(ctx context.Context, req upstream.Request) (<-chan upstream.StreamChunk, error) {
	body, err := json.Marshal(buildBedrockRequest(req))
	if err != nil {
		return nil, fmt.Errorf("providers: marshal bedrock request: %w", err)
	}

	out, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: bedrock streaming invoke: %w", err)
	}

	ch := make(chan upstream.StreamChunk)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunkEvent, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var delta struct {
				Type  string `json:"type"`
				Index int    `json:"index"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(chunkEvent.Value.Bytes, &delta); err != nil {
				continue
			}
			if delta.Type != "content_block_delta" || delta.Delta.Type != "text_delta" {
				continue
			}
			ch <- upstream.StreamChunk{
				Model: req.Model,
				Choices: []upstream.StreamChoice{{
					Index: delta.Index,
					Delta: upstream.MessageDelta{Content: delta.Delta.Text},
				}},
			}
		}
		if err := stream.Err(); err != nil {
			ch <- upstream.StreamChunk{Err: err}
		}
	}()
	return ch, nil
}
