package pipeline

import (
	"strconv"
	"strings"

	providertypes "fusionbot/pkg/provider/types"
)

// FusionInstruction opens the final user turn of every synthesis request.
const FusionInstruction = "Rewrite the knowledge base answer below in the tone of voice of the model answers that follow it. " +
	"Return exactly one answer. " +
	"Do not phrase it as \"according to the search results\" or refer to searching at all. " +
	"Speak as if from your own experience, and do not include anything that suggests you are quoting past data or recalling memories."

// compose builds the synthesis transcript: an empty system turn, the thread
// history (or the bare question outside a thread) and the fusion prompt.
func compose(question string, history []ThreadMessage, inThread bool, ragAnswer string, candidates []string) []providertypes.Message {
	transcript := make([]providertypes.Message, 0, len(history)+3)
	transcript = append(transcript, providertypes.System(""))

	if inThread {
		for _, msg := range history {
			transcript = append(transcript, providertypes.Message{Role: msg.Role, Content: msg.Text})
		}
	} else {
		transcript = append(transcript, providertypes.User(question))
	}

	return append(transcript, providertypes.User(fusionPrompt(ragAnswer, candidates)))
}

func fusionPrompt(ragAnswer string, candidates []string) string {
	var b strings.Builder
	b.WriteString(FusionInstruction)
	b.WriteString("\n")
	b.WriteString("# Knowledge base answer\n")
	b.WriteString(ragAnswer)
	b.WriteString("\n")
	b.WriteString("# Model answers\n")
	for i, candidate := range candidates {
		b.WriteString("## ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("\n")
		b.WriteString(candidate)
		b.WriteString("\n")
	}

	return b.String()
}
