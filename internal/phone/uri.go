package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
)

var ErrInvalidDestination = errors.New("invalid destination")

// ValidateDestination accepts dialpad input: digits, '*', '#', '+' and the
// unreserved characters allowed in a SIP user part.
func ValidateDestination(dest string) error {
	if dest == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	for _, r := range dest {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case strings.ContainsRune("*#+-_.!~", r):
		default:
			return fmt.Errorf("%w: unexpected %q", ErrInvalidDestination, r)
		}
	}
	return nil
}

// DialURI builds sip:<destination>@<server>.
func DialURI(destination, server string) (string, error) {
	if err := ValidateDestination(destination); err != nil {
		return "", err
	}
	u := sip.Uri{Scheme: "sip", User: destination, Host: server}
	s := u.String()

	// Round trip through the parser so nothing the engine would reject
	// gets handed to it.
	var parsed sip.Uri
	if err := sip.ParseUri(s, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	return s, nil
}

// AccountURI is the address of record for the configured user.
func (c SipConfig) AccountURI() string {
	u := sip.Uri{Scheme: "sip", User: c.Username, Host: c.Server}
	return u.String()
}

// RegistrarURI addresses the configured server itself.
func (c SipConfig) RegistrarURI() string {
	u := sip.Uri{Scheme: "sip", Host: c.Server}
	return u.String()
}

// UserFromURI extracts the user part of a SIP URI, or returns the input
// unchanged when it does not parse.
func UserFromURI(s string) string {
	raw := strings.TrimSpace(s)
	if i := strings.IndexByte(raw, '<'); i >= 0 {
		if j := strings.IndexByte(raw[i:], '>'); j > 0 {
			raw = raw[i+1 : i+j]
		}
	}
	var u sip.Uri
	if err := sip.ParseUri(raw, &u); err != nil || u.User == "" {
		return s
	}
	return u.User
}
