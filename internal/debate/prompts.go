package debate

import (
	"fmt"
	"strings"

	"conclave/internal/chat"
)

const (
	openingInstruction = `You are one of three AI models in a structured debate. State a clear position on the user's question in two or three short paragraphs. Commit to an answer. Do not anticipate or rebut objections yet.`

	challengeInstruction = `You are one of three AI models in a structured debate. Below are your opening position and the positions of the other participants. Critique the weakest points of the other positions, concede anything they got right, and defend or revise your own view. Two or three short paragraphs.`

	synthesisInstruction = `You moderate a debate between AI models. Read the full transcript and give the user one balanced, direct final answer to their question. Resolve disagreements where the evidence allows and say plainly where it does not. Do not recount the debate turn by turn.`
)

func openingMessages(topic string) []chat.Message {
	return []chat.Message{
		chat.System(openingInstruction),
		chat.User(topic),
	}
}

func challengeMessages(topic string, self Turn, others []Turn) []chat.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nYour opening position:\n%s\n", topic, self.Text)
	for _, o := range others {
		fmt.Fprintf(&b, "\nPosition from %s:\n%s\n", o.Model, o.Text)
	}
	return []chat.Message{
		chat.System(challengeInstruction),
		chat.User(b.String()),
	}
}

func synthesisMessages(topic string, openings, challenges []Turn) []chat.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n## Opening positions\n", topic)
	for _, t := range openings {
		fmt.Fprintf(&b, "\n### %s\n%s\n", t.Model, t.Text)
	}
	b.WriteString("\n## Challenges\n")
	for _, t := range challenges {
		fmt.Fprintf(&b, "\n### %s\n%s\n", t.Model, t.Text)
	}
	return []chat.Message{
		chat.System(synthesisInstruction),
		chat.User(b.String()),
	}
}
