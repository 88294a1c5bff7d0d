// ABOUTME: Response-generation collaborator interface and shared history types
// ABOUTME: Implementations call Gemini directly or a remote gemini-chat function

package llm

import (
	"context"

	"github.com/2389/chatdeck/internal/store"
)

// NoResponseText is returned as the reply when the model produced no candidates
const NoResponseText = "No response generated"

// Generator produces an assistant reply for prompt given the prior messages of
// the conversation. Failures are reported as *upstream.Error.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []store.Message) (string, error)
}

// Turn is one history entry in the gemini-chat request body
type Turn struct {
	Role    store.Role `json:"role"`
	Content string     `json:"content"`
}

// TurnsFromMessages converts conversation messages into request history,
// skipping loading placeholders.
func TurnsFromMessages(msgs []store.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.IsLoading {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// MessagesFromTurns is the inverse of TurnsFromMessages, used when a request
// arrives over the wire. Turns with unknown roles are dropped.
func MessagesFromTurns(turns []Turn) []store.Message {
	msgs := make([]store.Message, 0, len(turns))
	for _, t := range turns {
		if !t.Role.Valid() {
			continue
		}
		msgs = append(msgs, store.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}
