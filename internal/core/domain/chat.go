package domain

import (
	"math"
	"strings"
)

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"

	DefaultChatWindow   = 10
	DefaultChatLanguage = "English"
)

// ChatLanguages are the reply languages offered by the chat front end.
var ChatLanguages = []string{"English", "Hindi", "Spanish", "French", "German"}

type CareUrgency string

const (
	UrgencyRoutine   CareUrgency = "routine"
	UrgencyUrgent    CareUrgency = "urgent"
	UrgencyEmergency CareUrgency = "emergency"
)

func (u CareUrgency) Valid() bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
		return true
	default:
		return false
	}
}

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is the bounded transcript handed to one chat call.
type ConversationContext struct {
	Turns    []ChatTurn
	Language string
}

// NewConversationContext keeps the trailing window of usable turns. Turns
// with an unknown role or blank content are dropped before the window is
// applied.
func NewConversationContext(history []ChatTurn, window int, language string) ConversationContext {
	if window <= 0 {
		window = DefaultChatWindow
	}
	turns := make([]ChatTurn, 0, len(history))
	for _, t := range history {
		role := strings.ToLower(strings.TrimSpace(t.Role))
		switch role {
		case ChatRoleUser, ChatRoleAssistant:
		case "bot":
			role = ChatRoleAssistant
		default:
			continue
		}
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		turns = append(turns, ChatTurn{Role: role, Content: content})
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	return ConversationContext{Turns: turns, Language: ResolveChatLanguage(language)}
}

func ResolveChatLanguage(language string) string {
	language = strings.TrimSpace(language)
	for _, l := range ChatLanguages {
		if strings.EqualFold(l, language) {
			return l
		}
	}
	return DefaultChatLanguage
}

type ChatRequest struct {
	OwnerID  string     `json:"-"`
	Message  string     `json:"message"`
	History  []ChatTurn `json:"history"`
	Language string     `json:"language,omitempty"`
}

type ChatReply struct {
	Response             string      `json:"response"`
	Confidence           float64     `json:"confidence"`
	Reasoning            string      `json:"reasoning"`
	RecommendMedicalCare bool        `json:"recommend_medical_care"`
	CareUrgency          CareUrgency `json:"care_urgency"`
	Fallback             bool        `json:"fallback"`
	FallbackReason       string      `json:"fallback_reason,omitempty"`
}

func (r *ChatReply) Validate() FieldErrors {
	var problems FieldErrors
	if strings.TrimSpace(r.Response) == "" {
		problems.Addf("response is empty")
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 100 {
		problems.Addf("confidence %v outside 0-100", r.Confidence)
	}
	if !r.CareUrgency.Valid() {
		problems.Addf("care_urgency %q is not routine|urgent|emergency", r.CareUrgency)
	}
	return problems
}

const fallbackChatResponse = "I'm sorry, I'm experiencing technical difficulties. Please try again later or consult with a healthcare professional if you have urgent medical concerns."

// FallbackChatReply is the fixed safe reply used whenever a chat enrichment
// call fails for any reason.
func FallbackChatReply(reason string) ChatReply {
	return ChatReply{
		Response:             fallbackChatResponse,
		Confidence:           0,
		Reasoning:            "System error occurred",
		RecommendMedicalCare: true,
		CareUrgency:          UrgencyRoutine,
		Fallback:             true,
		FallbackReason:       reason,
	}
}
