// commands.go implements the inline command protocol embedded in LLM output.
// The model requests actions by emitting bracketed markers in its reply text:
//
//	[Search: <query>]   runs a web search and answers with the results
//	[Clawdbot: <task>]  dispatches a long-running task to the deferred tool
//
// Markers are case-insensitive and the captured content may span multiple
// lines. Detection is modeled as a two-variant tagged command produced by a
// dedicated parser, so the orchestrator's dispatch stays exhaustive.
package agent

import (
	"regexp"
	"strings"
)

// CommandKind tags the variant of an inline command.
type CommandKind int

const (
	// CommandSearch requests a synchronous web search round-trip.
	CommandSearch CommandKind = iota

	// CommandDeferred requests a deferred background tool invocation.
	CommandDeferred
)

// Command is one inline command extracted from LLM output.
type Command struct {
	Kind CommandKind
	Arg  string
}

var (
	searchPattern   = regexp.MustCompile(`(?is)\[Search:\s*(.*?)\]`)
	deferredPattern = regexp.MustCompile(`(?is)\[Clawdbot:\s*(.*?)\]`)
)

// ParseCommand extracts the first inline command from the text. Search takes
// precedence over the deferred marker. Returns false when neither marker is
// present.
func ParseCommand(text string) (Command, bool) {
	if q, ok := ExtractSearch(text); ok {
		return Command{Kind: CommandSearch, Arg: q}, true
	}
	if task, ok := ExtractDeferred(text); ok {
		return Command{Kind: CommandDeferred, Arg: task}, true
	}
	return Command{}, false
}

// ExtractSearch returns the search query when a [Search: ...] marker is
// present.
func ExtractSearch(text string) (string, bool) {
	m := searchPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ExtractDeferred returns the task text when a [Clawdbot: ...] marker is
// present.
func ExtractDeferred(text string) (string, bool) {
	m := deferredPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
