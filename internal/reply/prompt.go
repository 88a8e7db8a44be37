package reply

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/kalambet/attune/internal/personality"
)

// maxHistory caps how many earlier exchanges are replayed to the model.
const maxHistory = 5

const systemPrompt = `You are a conversational assistant whose personality adapts to each user.
Match the personality below in tone, word choice and length. Answer the user's message directly,
then keep the conversation going.`

// SystemPrompt renders the personality instructions for v.
func SystemPrompt(v personality.Vector) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n[Personality]\n")
	sb.WriteString(personality.PromptLines(v))
	if s := personality.Summarize(v); s.Line != "" {
		fmt.Fprintf(&sb, "\nOverall: %s\n", s.Line)
	}
	if v.Verbosity < 0.3 {
		sb.WriteString("Keep replies to one or two sentences.\n")
	}
	return sb.String()
}

// BuildMessages constructs the chat messages for req: the personality
// system prompt, the most recent exchanges, then the user's message.
func BuildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	history := req.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2+2*len(history))
	msgs = append(msgs, openai.SystemMessage(SystemPrompt(req.Personality)))
	for _, h := range history {
		msgs = append(msgs, openai.UserMessage(h.UserText))
		msgs = append(msgs, openai.AssistantMessage(h.AgentReply))
	}
	msgs = append(msgs, openai.UserMessage(req.UserText))
	return msgs
}
