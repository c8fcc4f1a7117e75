package telegram

import (
	"regexp"
	"strings"
)

var rpcErrorPattern = regexp.MustCompile(`(\d+): ([A-Z0-9_]+)(?: \(caused by (.+)\))?`)

// errorMessages maps provider error symbols to what the user sees.
var errorMessages = map[string]string{
	"PEER_ID_INVALID":        "Invalid chat or channel",
	"CHAT_WRITE_FORBIDDEN":   "You cannot write in this chat",
	"USER_IS_BLOCKED":        "User has blocked the bot",
	"CHANNEL_PRIVATE":        "Channel is private",
	"FLOOD_WAIT":             "Too many messages, please wait",
	"CHAT_ADMIN_REQUIRED":    "Admin permissions required",
	"CHANNEL_INVALID":        "Invalid channel",
	"USER_BANNED_IN_CHANNEL": "You are banned from sending messages in this chat",
	"CHAT_RESTRICTED":        "This chat is restricted",
	"SLOWMODE_WAIT":          "Slow mode is enabled, please wait before sending again",
	"USERNAME_NOT_OCCUPIED":  "No chat uses this username",
	"USERNAME_INVALID":       "Invalid username",
	"AUTH_KEY_UNREGISTERED":  "Telegram session expired, please link the account again",
	"SESSION_REVOKED":        "Telegram session was revoked, please link the account again",
}

// symbols whose trailing number is an argument, not part of the name
var argumentPrefixes = []string{"FLOOD_WAIT", "SLOWMODE_WAIT"}

// Classify turns a raw transport error string into a message fit for display.
// It only affects presentation.
func Classify(raw string) string {
	m := rpcErrorPattern.FindStringSubmatch(raw)
	if m == nil {
		return strings.TrimPrefix(raw, "Error: ")
	}

	symbol := m[2]
	if msg, ok := errorMessages[symbol]; ok {
		return msg
	}
	for _, prefix := range argumentPrefixes {
		if strings.HasPrefix(symbol, prefix+"_") {
			return errorMessages[prefix]
		}
	}
	return humanize(symbol)
}

// ClassifyError is Classify for error values; nil yields "".
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err.Error())
}

func humanize(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "_", " "))
}
