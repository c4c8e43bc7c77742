package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/llm"
	"github.com/jholhewres/clawgate/pkg/clawgate/session"
)

const (
	// extractInterval is the number of session turns between extraction
	// runs.
	extractInterval = 10

	// extractWindow is how many recent turns feed one extraction.
	extractWindow = 20

	// turnTruncateRunes caps each turn's contribution to the transcript.
	turnTruncateRunes = 200

	// minMemoryRunes rejects degenerate model output. A "memory" shorter
	// than this is almost always a refusal or an empty platitude.
	minMemoryRunes = 20

	extractTimeout = 60 * time.Second
)

// emptyMemoryPlaceholder stands in for the existing-memory block on the
// first extraction, so the model always sees both sections.
const emptyMemoryPlaceholder = "（暂无已有记忆）"

const extractSystemPrompt = `You are a memory archivist. Merge the user's existing memory profile with what the recent conversation reveals, and output the complete updated profile as Markdown with exactly these sections:

# User Profile
- name/nickname, gender, age, occupation (only what was actually mentioned)

# Assistant Persona
- what the user calls you, the interaction style you have agreed on

# Relationship Dynamics
- how you interact, nicknames, running dynamics

# Emotional Anchors
- important statements, promises, conflicts, memorable moments

# Life Details
- preferences, habits, recent events, pets, friends

# Important Dates
- birthdays, anniversaries

Rules:
1. Keep every fact from the existing memory that still holds, even when the recent conversation never touches its section.
2. If the conversation adds nothing new, return the existing memory unchanged.
3. When new information contradicts old, the new information wins.
4. Omit any section that has no content at all.
5. One fact per line, no long paragraphs, no commentary outside the profile.
6. Write in the language the user predominantly used.`

// Extractor distills long-term memory from session history using the
// model itself, then writes the result to the memory store.
type Extractor struct {
	client llm.Client
	store  Store
	logger *slog.Logger
}

// NewExtractor wires an extractor over the given model client and store.
func NewExtractor(client llm.Client, store Store, logger *slog.Logger) *Extractor {
	return &Extractor{
		client: client,
		store:  store,
		logger: logger.With("component", "memory_extractor"),
	}
}

// ShouldTrigger reports whether an extraction is due given the session's
// current turn count. Runs fire every extractInterval turns, never on an
// empty session.
func ShouldTrigger(turnCount int) bool {
	return turnCount > 0 && turnCount%extractInterval == 0
}

// Extract runs one extraction over the most recent turns and stores the
// merged memory. Model output shorter than minMemoryRunes is discarded and
// the existing memory is left untouched.
func (e *Extractor) Extract(ctx context.Context, userKey string, turns []session.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	existing, err := e.store.Get(ctx, userKey)
	if err != nil {
		return fmt.Errorf("loading existing memory: %w", err)
	}

	if existing == "" {
		existing = emptyMemoryPlaceholder
	}

	var prompt strings.Builder
	prompt.WriteString("## Existing memory\n")
	prompt.WriteString(existing)
	prompt.WriteString("\n\n## Recent conversation\n")
	prompt.WriteString(buildTranscript(turns))

	out, err := e.client.Complete(ctx, []llm.Message{
		llm.System(extractSystemPrompt),
		llm.User(prompt.String()),
	})
	if err != nil {
		return fmt.Errorf("extraction completion: %w", err)
	}

	out = strings.TrimSpace(out)
	if len([]rune(out)) < minMemoryRunes {
		e.logger.Warn("extraction output too short, keeping existing memory",
			"user", userKey, "length", len([]rune(out)))
		return nil
	}

	if err := e.store.Put(ctx, userKey, out); err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}
	e.logger.Info("memory updated", "user", userKey, "length", len([]rune(out)))
	return nil
}

// buildTranscript renders the last extractWindow turns, each truncated to
// turnTruncateRunes runes.
func buildTranscript(turns []session.Turn) string {
	if len(turns) > extractWindow {
		turns = turns[len(turns)-extractWindow:]
	}
	var b strings.Builder
	for _, t := range turns {
		content := t.Content
		if runes := []rune(content); len(runes) > turnTruncateRunes {
			content = string(runes[:turnTruncateRunes]) + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role, content)
	}
	return b.String()
}
