package cli

import (
	"net/url"
	"strconv"
)

func itoa(n int) string {
	return strconv.Itoa(n)
}

// redactURL hides the password of a connection URL
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
