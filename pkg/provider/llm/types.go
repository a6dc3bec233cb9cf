package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`
}

// NormalizeRole maps the role names used by chat clients onto history
// roles. "model" is the assistant; everything else, system included, is
// replayed as the user because the system prompt travels separately.
func NormalizeRole(role string) string {
	switch role {
	case RoleAssistant, "model":
		return RoleAssistant
	default:
		return RoleUser
	}
}
