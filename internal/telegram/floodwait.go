package telegram

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
)

var (
	floodWaitPhrase = regexp.MustCompile(`A wait of (\d+) seconds? is required`)
	floodWaitSymbol = regexp.MustCompile(`FLOOD_WAIT_(\d+)`)
)

// FloodWaitSeconds returns the wait the provider demanded, or 0 when err is
// not a flood wait. Typed gotd errors are checked first, then the message text
// for errors that were flattened to strings on the way here.
func FloodWaitSeconds(err error) int {
	if err == nil {
		return 0
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return int(d.Seconds())
	}
	return floodWaitFromText(err.Error())
}

func floodWaitFromText(s string) int {
	for _, re := range []*regexp.Regexp{floodWaitPhrase, floodWaitSymbol} {
		if m := re.FindStringSubmatch(s); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	return 0
}

// WaitMinutes rounds a flood wait up to whole minutes.
func WaitMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

// FloodWaitMessage renders the wait for a user.
func FloodWaitMessage(seconds int) string {
	minutes := WaitMinutes(seconds)
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Too many attempts. Please wait %d %s before trying again.", minutes, unit)
}

// IsPasswordRequired reports whether sign-in stopped at the 2FA step.
func IsPasswordRequired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SESSION_PASSWORD_NEEDED") ||
		strings.Contains(strings.ToLower(msg), "password is required")
}
