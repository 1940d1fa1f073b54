package core

// Turn is one labeled utterance in a user's conversation history, spoken
// either by the user or by the character.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Rendered returns the turn as it appears inside a prompt.
func (t Turn) Rendered() string {
	return t.Speaker + ": " + t.Text
}

// InboundMessage is the platform-neutral shape of a chat message delivered
// by the gateway. The relay never sees the platform protocol itself.
type InboundMessage struct {
	AuthorID     string
	AuthorName   string
	IsBot        bool
	IsDM         bool
	ChannelID    string
	MessageID    string
	Text         string
	MentionsBot  bool
	IsReply      bool
	IsReplyToBot bool
}

// SamplingParams are forwarded to the generation backend unchanged.
type SamplingParams struct {
	Temperature       float64
	TopK              int
	TopP              float64
	RepetitionPenalty float64
	MaxNewTokens      int
}

// GenerationRequest is a single call to the text-generation service.
type GenerationRequest struct {
	Prompt        string
	ContextSize   int
	Sampling      SamplingParams
	StopSequences []string
}

// PromptBudget splits the model context between the prompt and the
// completion the model is asked to produce.
type PromptBudget struct {
	ContextTokens         int
	ReservedForCompletion int
}

// Available returns the token budget left for the assembled prompt.
func (b PromptBudget) Available() int {
	return b.ContextTokens - b.ReservedForCompletion
}
