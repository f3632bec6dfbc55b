package bot

import (
	"fmt"
	"strconv"
	"strings"

	"instarelay/internal/provider"
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("user ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID %q", s)
	}
	return id, nil
}

// ParseAccountArg returns the first word of args without a leading @.
func ParseAccountArg(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimPrefix(fields[0], "@")
}

// ParseLoginArgs extracts the username and session id of /login.
func ParseLoginArgs(args string) (provider.Credentials, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return provider.Credentials{}, fmt.Errorf("usage: /login <username> <sessionid>")
	}
	return provider.Credentials{Username: parts[0], SessionID: parts[1]}, nil
}

// LooksLikeLink reports whether text should be treated as a link request
// rather than chatter.
func LooksLikeLink(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.ContainsAny(t, " \n\t") {
		return false
	}
	return strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") ||
		strings.Contains(t, "instagram.com/") || strings.Contains(t, "instagr.am/")
}
