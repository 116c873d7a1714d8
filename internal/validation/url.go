package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateRelayURL checks a relay endpoint: ws or wss, a host, and nothing a
// relay would not expect such as credentials or a fragment.
func ValidateRelayURL(rawURL string) error {
	if strings.TrimSpace(rawURL) != rawURL || strings.ContainsAny(rawURL, " \t\r\n") {
		return fmt.Errorf("relay URL contains whitespace")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("invalid relay URL scheme: %q (only ws/wss allowed)", parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return fmt.Errorf("relay URL must have a hostname")
	}

	if parsed.User != nil {
		return fmt.Errorf("relay URL must not carry credentials")
	}

	if parsed.Fragment != "" {
		return fmt.Errorf("relay URL must not have a fragment")
	}

	dangerous := []string{";", "|", "`", "$", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerous {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("relay URL contains dangerous character: %s", char)
		}
	}

	return nil
}

// IsSecureRelay reports whether the relay is reached over TLS.
func IsSecureRelay(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	return err == nil && parsed.Scheme == "wss"
}
