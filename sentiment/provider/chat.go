package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
)

// ChatTransport calls an OpenAI-compatible Chat Completions endpoint. It is the only
// API most third-party vendors implement.
type ChatTransport struct {
	client *openai.Client
	cfg    Config
}

func (t *ChatTransport) Complete(ctx context.Context, conv sentiment.Conversation) (string, error) {
	if t.client == nil {
		return "", errors.New("chat transport: client is nil")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv))
	for _, turn := range conv {
		switch turn.Role {
		case sentiment.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(turn.Content))
		case sentiment.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(turn.Content))
		default:
			msgs = append(msgs, openai.UserMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(t.cfg.Model),
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(int64(t.cfg.MaxOutputTokens)),
	}
	switch t.cfg.Format {
	case FormatJSONSchema:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "SentimentReply",
					Schema:      sentiment.ReplySchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Sentiment toward one label"),
				},
			},
		}
	case FormatJSONObject:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapError(t.cfg.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", &TransportError{Provider: t.cfg.Provider, Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}
