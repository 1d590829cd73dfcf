package sentiment

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message of a Conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered list of turns sent to the model for one (message, label)
// pair. It starts with a system turn and a user turn and grows by an assistant reply and
// a user correction for every rejected reply.
type Conversation []Turn

// System returns the content of the leading system turn, or "" if there is none.
func (c Conversation) System() string {
	if len(c) > 0 && c[0].Role == RoleSystem {
		return c[0].Content
	}
	return ""
}

// Dialogue returns every turn after the leading system turn.
func (c Conversation) Dialogue() []Turn {
	if len(c) > 0 && c[0].Role == RoleSystem {
		return c[1:]
	}
	return c
}

func (c Conversation) with(turns ...Turn) Conversation {
	out := make(Conversation, 0, len(c)+len(turns))
	out = append(out, c...)
	return append(out, turns...)
}
