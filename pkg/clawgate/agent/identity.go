// identity.go builds and parses the two routing identities used across the
// gateway. The session id isolates conversation history and memory per user
// per calendar day; the callback id addresses the chat surface an
// asynchronous reply must be delivered to. They are deliberately decoupled:
// group and private targets need different routing than memory isolation.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// sessionVersion is appended to session ids so a format change starts fresh
// sessions instead of mixing incompatible histories.
const sessionVersion = "v2"

// BuildSessionID returns the per-user-per-day session key:
// platform:user:rawUserID:YYYYMMDD:v2.
func BuildSessionID(platform, userID string, at time.Time) string {
	return fmt.Sprintf("%s:user:%s:%s:%s", platform, userID, at.Format("20060102"), sessionVersion)
}

// BuildCallbackID returns the async routing key: platform:messageType:chatID.
func BuildCallbackID(platform string, msgType channels.MessageType, chatID string) string {
	return fmt.Sprintf("%s:%s:%s", platform, msgType, chatID)
}

// CallbackTarget is a parsed callback routing identity.
type CallbackTarget struct {
	Platform string
	Type     channels.MessageType
	ChatID   string
}

// ParseCallbackID parses a callback session id in either the canonical
// colon-delimited form (platform:messageType:chatID) or the legacy
// underscore-delimited form (platform_messageType_chatID). TwoPart ids
// (platform:chatID) default to private. Chat ids may themselves contain the
// delimiter; everything after the second separator belongs to the chat id.
func ParseCallbackID(id string) (CallbackTarget, error) {
	sep := ""
	switch {
	case strings.Contains(id, ":"):
		sep = ":"
	case strings.Contains(id, "_"):
		sep = "_"
	default:
		return CallbackTarget{}, fmt.Errorf("unrecognized callback session id format: %q", id)
	}

	parts := strings.Split(id, sep)
	switch {
	case len(parts) >= 3:
		t := channels.MessageType(parts[1])
		if t != channels.MessagePrivate && t != channels.MessageGroup {
			return CallbackTarget{}, fmt.Errorf("invalid message type %q in callback session id %q", parts[1], id)
		}
		return CallbackTarget{
			Platform: parts[0],
			Type:     t,
			ChatID:   strings.Join(parts[2:], sep),
		}, nil
	case len(parts) == 2:
		return CallbackTarget{
			Platform: parts[0],
			Type:     channels.MessagePrivate,
			ChatID:   parts[1],
		}, nil
	default:
		return CallbackTarget{}, fmt.Errorf("callback session id %q has too few parts", id)
	}
}

// SanitizeUserID strips every character outside [A-Za-z0-9_:-] from a
// platform user id. Crafted ids must not be able to inject into storage
// keys or into the prompt's isolation boundary.
func SanitizeUserID(userID string) string {
	var b strings.Builder
	b.Grow(len(userID))
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == '-', r == ':':
			b.WriteRune(r)
		}
	}
	return b.String()
}
