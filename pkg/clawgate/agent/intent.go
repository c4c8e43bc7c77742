// intent.go maps raw user text to a working mode with ordered keyword sets.
// Explanation keywords are checked before the broader code-generation set so
// "explain this code" is not captured as a generation request.
package agent

import "strings"

// Mode is the agent working mode derived from the user's message.
type Mode string

const (
	ModeConversation    Mode = "conversation"
	ModeCodeGeneration  Mode = "code_generation"
	ModeCodeExplanation Mode = "code_explanation"
	ModeDebugging       Mode = "debugging"
)

// Keyword sets, checked in priority order. First match wins.
var (
	explainKeywords = []string{"解释", "说明", "explain", "what does", "这段代码"}

	codeKeywords = []string{
		"写代码", "生成代码", "实现", "create", "write code", "implement",
		"写一个", "写个", "用python", "用js",
		"python script", "write a script", "coding",
	}

	debugKeywords = []string{"报错", "错误", "bug", "debug", "修复", "问题"}
)

// Classify returns the working mode for the given text. Pure and
// deterministic: case-insensitive substring matching, no match means
// plain conversation.
func Classify(text string) Mode {
	lower := strings.ToLower(strings.TrimSpace(text))

	if containsAny(lower, explainKeywords) {
		return ModeCodeExplanation
	}
	if containsAny(lower, codeKeywords) {
		return ModeCodeGeneration
	}
	if containsAny(lower, debugKeywords) {
		return ModeDebugging
	}
	return ModeConversation
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
