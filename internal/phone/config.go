package phone

import (
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// hostnameRe matches an RFC 1123 host name: dot separated labels of
// letters, digits and inner hyphens, each at most 63 characters.
var hostnameRe = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)(?:\.(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?))*$`)

// SipConfig holds the credentials used to register with a SIP server.
// It is replaced wholesale whenever the user changes it.
type SipConfig struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ValidationError reports which fields failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Validate checks that the server is an IPv4 literal or a domain name and
// that username and password are present and quotable.
func (c SipConfig) Validate() error {
	verr := &ValidationError{}
	if !ValidServer(c.Server) {
		verr.add("server", "server must be an IPv4 address or a domain name")
	}
	if strings.TrimSpace(c.Username) == "" {
		verr.add("username", "username is required")
	} else if strings.ContainsAny(c.Username, " \t@:;\"") {
		verr.add("username", "username contains invalid characters")
	}
	if c.Password == "" {
		verr.add("password", "password is required")
	} else if strings.ContainsFunc(c.Password, invalidPasswordRune) {
		verr.add("password", "password contains invalid characters")
	}
	return verr.orNil()
}

// invalidPasswordRune rejects what cannot sit inside a quoted account
// parameter.
func invalidPasswordRune(r rune) bool {
	return r == '"' || unicode.IsControl(r)
}

// Equal reports whether both configs carry the same values.
func (c SipConfig) Equal(o SipConfig) bool {
	return c.Server == o.Server && c.Username == o.Username && c.Password == o.Password
}

// Redacted returns a copy safe to show or log.
func (c SipConfig) Redacted() SipConfig {
	if c.Password != "" {
		c.Password = "******"
	}
	return c
}

// ValidServer reports whether s is a dotted-quad IPv4 literal or a host name.
func ValidServer(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	if looksNumeric(s) {
		addr, err := netip.ParseAddr(s)
		return err == nil && addr.Is4()
	}
	return hostnameRe.MatchString(s)
}

// looksNumeric is true for inputs made only of digits and dots, which must
// then parse as IPv4 rather than fall through to the host name rule.
func looksNumeric(s string) bool {
	for _, r := range s {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
