package chat

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/tripmesh/tripmesh/internal/transcript"
)

// GenkitInferencer calls a model through Genkit.
type GenkitInferencer struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitInferencer returns an inferencer for modelName (a
// provider-qualified name like "googleai/gemini-2.5-flash").
func NewGenkitInferencer(g *genkit.Genkit, modelName string) *GenkitInferencer {
	return &GenkitInferencer{g: g, modelName: modelName}
}

// Generate converts the window to model messages and returns the reply
// text.
func (gi *GenkitInferencer) Generate(ctx context.Context, msgs []transcript.Message) (string, error) {
	converted := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		converted = append(converted, toModelMessage(m))
	}

	resp, err := genkit.Generate(ctx, gi.g,
		ai.WithModelName(gi.modelName),
		ai.WithMessages(converted...),
	)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}
	return resp.Text(), nil
}

// toModelMessage maps a transcript message onto the Genkit message
// roles. Tool results travel as user-role text: the providers this runs
// against reject bare tool messages that lack a matching in-flight call,
// and replayed transcripts always do.
func toModelMessage(m transcript.Message) *ai.Message {
	switch m.Kind {
	case transcript.KindSystem:
		return ai.NewSystemMessage(ai.NewTextPart(m.Content))
	case transcript.KindAI:
		return ai.NewModelMessage(ai.NewTextPart(m.Content))
	case transcript.KindTool:
		return ai.NewUserMessage(ai.NewTextPart(
			fmt.Sprintf("[tool result %s] %s", m.ToolCallID, m.Content)))
	default:
		return ai.NewUserMessage(ai.NewTextPart(m.Content))
	}
}
