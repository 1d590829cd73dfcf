package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
)

// ResponsesTransport calls the OpenAI Responses API. The system turn becomes the
// request instructions; the remaining turns are sent as input messages.
type ResponsesTransport struct {
	client *openai.Client
	cfg    Config
}

func (t *ResponsesTransport) Complete(ctx context.Context, conv sentiment.Conversation) (string, error) {
	if t.client == nil {
		return "", errors.New("responses transport: client is nil")
	}

	items := make([]responses.ResponseInputItemUnionParam, 0, len(conv))
	for _, turn := range conv.Dialogue() {
		role := responses.EasyInputMessageRoleUser
		if turn.Role == sentiment.RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(turn.Content, role))
	}

	params := responses.ResponseNewParams{
		Model:           t.cfg.Model,
		MaxOutputTokens: openai.Int(int64(t.cfg.MaxOutputTokens)),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if sys := conv.System(); sys != "" {
		params.Instructions = openai.String(sys)
	}
	if t.cfg.Format == FormatJSONSchema {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "SentimentReply",
					Schema:      sentiment.ReplySchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Sentiment toward one label"),
					Type:        "json_schema",
				},
			},
		}
	}

	resp, err := t.client.Responses.New(ctx, params)
	if err != nil {
		return "", wrapError(t.cfg.Provider, err)
	}
	return resp.OutputText(), nil
}
