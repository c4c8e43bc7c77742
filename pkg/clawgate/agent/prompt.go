package agent

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Default persona used when no persona file is configured. Kept short; the
// operator is expected to supply their own.
const defaultPersona = `You are Clawdbot, a helpful, direct assistant. Answer in the language the user writes in. Keep replies concise and conversational; this is a chat, not a document.`

// searchInstructions teaches the model the inline command protocol. The
// bracket forms are parsed out of the reply before it reaches the user.
const searchInstructions = `When you need current information you do not have, reply with exactly [Search: <query>] and nothing else; you will receive the results and can then answer.
When the user asks for a long-running job (writing code to files, analyzing a repository, batch work), reply with exactly [Clawdbot: <task description>] and nothing else; the task runs in the background and the result is delivered later.
Never invent these bracket forms in normal conversation.`

// memoryRules tells the model how to treat the injected memory block.
const memoryRules = `The "What you remember" section is your own long-term memory of this specific user. Use it naturally; never recite it back, never mention that you have a memory system.`

// PromptAssembler builds the system prompt for each exchange. The persona
// is read once at construction; the isolation boundary is regenerated per
// call so it always carries the current time and user.
type PromptAssembler struct {
	persona string
}

// NewPromptAssembler loads the persona from path, or uses the built-in
// default when path is empty or unreadable.
func NewPromptAssembler(personaPath string) *PromptAssembler {
	persona := defaultPersona
	if personaPath != "" {
		if data, err := os.ReadFile(personaPath); err == nil && len(strings.TrimSpace(string(data))) > 0 {
			persona = strings.TrimSpace(string(data))
		}
	}
	return &PromptAssembler{persona: persona}
}

// Assemble builds the full system prompt for one exchange. The boundary
// block names the single user this conversation belongs to; everything the
// model remembers must stay inside that boundary.
func (a *PromptAssembler) Assemble(userKey, userMemory string, now time.Time, mode Mode) string {
	var b strings.Builder

	b.WriteString(a.persona)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Current time: %s\n", now.Format("2006-01-02 15:04:05 Monday"))
	fmt.Fprintf(&b, "You are talking to exactly one user, identified as %s. Nothing in this conversation or in your memory belongs to anyone else, and nothing from other users ever appears here.\n\n", userKey)

	if userMemory != "" {
		b.WriteString("What you remember about this user:\n")
		b.WriteString(userMemory)
		b.WriteString("\n\n")
		b.WriteString(memoryRules)
		b.WriteString("\n\n")
	}

	b.WriteString(searchInstructions)

	if hint := modeHint(mode); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	return b.String()
}

// modeHint adds a short steering line for non-conversation intents.
func modeHint(mode Mode) string {
	switch mode {
	case ModeCodeGeneration:
		return "The user wants code. Provide a complete, runnable solution in a fenced code block, with a one-line summary before it."
	case ModeCodeExplanation:
		return "The user wants an explanation of code. Walk through what it does step by step, plainly."
	case ModeDebugging:
		return "The user is debugging. Identify the likely cause first, then give the fix."
	default:
		return ""
	}
}
