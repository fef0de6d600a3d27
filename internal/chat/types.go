package chat

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one conversation entry. Which fields are meaningful depends on
// Role; use the constructors below rather than filling it by hand.
type Message struct {
	Role    Role
	Content string

	// For Assistant messages: the tool calls they made
	ToolCalls []ToolCall

	// For Tool messages: the ID of the call being answered
	ToolCallID string
	ToolName   string
}

func System(text string) Message { return Message{Role: RoleSystem, Content: text} }

func User(text string) Message { return Message{Role: RoleUser, Content: text} }

func Assistant(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResult answers the assistant tool call identified by callID.
func ToolResult(callID, name, result string) Message {
	return Message{Role: RoleTool, Content: result, ToolCallID: callID, ToolName: name}
}

// ToolCall is a complete function invocation requested by a model.
// Arguments holds the raw JSON text as streamed by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type Usage struct {
	TokensIn  int
	TokensOut int
}

func (u Usage) Add(o Usage) Usage {
	return Usage{TokensIn: u.TokensIn + o.TokensIn, TokensOut: u.TokensOut + o.TokensOut}
}

// Result is the outcome of one model call. Adapters fill Text, ToolCalls and
// Usage; the fallback layer adds ActualModel and Tier.
type Result struct {
	Text        string
	ToolCalls   []ToolCall
	ActualModel string
	Tier        int
	Usage       Usage
}

func (r Result) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// LastUserText returns the content of the most recent user message.
func LastUserText(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}
