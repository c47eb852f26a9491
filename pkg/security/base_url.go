package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrInsecureBaseURL = errors.New("insecure provider base URL")

// ValidateBaseURL checks a provider base URL before the API key is sent to
// it. HTTPS is always allowed. Plain HTTP is only allowed to the local
// machine, as used by OpenAI compatible servers running next to the app.
func ValidateBaseURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid base URL")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Errorf("base URL %q has no host", rawURL)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalHost(host) {
			return nil
		}
		return errors.Wrapf(ErrInsecureBaseURL, "plain http to %q", host)
	default:
		return errors.Errorf("unsupported base URL scheme %q", parsed.Scheme)
	}
}

func isLocalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	// zoned addresses are link local, never loopback
	if addr.Zone() != "" {
		return false
	}
	return addr.Unmap().IsLoopback()
}
