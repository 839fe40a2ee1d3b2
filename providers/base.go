// Package providers holds concrete upstream.Client bindings for vendor
// SDKs that do not speak the plain OpenAI-compatible HTTP/SSE shape
// directly: the openai-go SDK binding and the AWS Bedrock runtime
// binding. Anything that is already OpenAI-compatible over HTTP (Groq,
// Together, Fireworks, most "generic" providers) is served by
// upstream.OpenAICompatible instead and never needs a file here.
package providers

import (
	"github.com/freetier/llmrouter/upstream"
)

// toChatMessages returns an upstream.Request's messages unchanged, in the
// form the openai-go binding's buildMessages consumes.
func toChatMessages(req upstream.Request) []upstream.Message {
	return req.Messages
}

// usage builds an upstream.Usage from prompt/completion token counts.
func usage(prompt, completion int) upstream.Usage {
	return upstream.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
