package sentiment

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
)

// Reply is the JSON object the model must answer with.
type Reply struct {
	Sentiment string `json:"sentiment" jsonschema:"enum=P,enum=N,enum=I" jsonschema_description:"P for positive, N for negative, I for indifferent"`
	Reason    string `json:"reason" jsonschema_description:"Short explanation of the judgement, mentioning matched keywords if any"`
}

// ReplySchema is the strict JSON schema of Reply, shared by the prompt and the
// structured-output transports.
var ReplySchema = replySchema()

// replySchema reflects Reply and pins it to the strict structured-output contract: a
// closed object whose every property is required, with sentiment limited to the
// P/N/I codes ParseReply accepts.
func replySchema() map[string]interface{} {
	r := jsonschema.Reflector{DoNotReference: true, RequiredFromJSONSchemaTags: true}
	b, err := r.Reflect(&Reply{}).MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("reflect reply schema: %v", err))
	}
	var s map[string]interface{}
	if err := json.Unmarshal(b, &s); err != nil {
		panic(fmt.Sprintf("decode reply schema: %v", err))
	}
	delete(s, "$schema")
	delete(s, "$id")

	props, _ := s["properties"].(map[string]interface{})
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	sort.Strings(required)
	s["type"] = "object"
	s["additionalProperties"] = false
	s["required"] = required

	if sent, ok := props["sentiment"].(map[string]interface{}); ok {
		sent["enum"] = []interface{}{Positive.Code(), Negative.Code(), Indifferent.Code()}
	}
	return s
}
