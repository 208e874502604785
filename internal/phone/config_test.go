package phone

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSipConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SipConfig
		fields []string
	}{
		{"domain", SipConfig{Server: "sip.example.com", Username: "1001", Password: "x"}, nil},
		{"single label", SipConfig{Server: "pbx", Username: "1001", Password: "x"}, nil},
		{"ipv4", SipConfig{Server: "192.168.0.10", Username: "1001", Password: "x"}, nil},
		{"bad ipv4", SipConfig{Server: "300.1.1.1", Username: "1001", Password: "x"}, []string{"server"}},
		{"ipv6 rejected", SipConfig{Server: "::1", Username: "1001", Password: "x"}, []string{"server"}},
		{"empty server", SipConfig{Username: "1001", Password: "x"}, []string{"server"}},
		{"hyphen edge", SipConfig{Server: "-pbx.example.com", Username: "1001", Password: "x"}, []string{"server"}},
		{"everything missing", SipConfig{}, []string{"server", "username", "password"}},
		{"blank username", SipConfig{Server: "pbx", Username: "  ", Password: "x"}, []string{"username"}},
		{"username with at", SipConfig{Server: "pbx", Username: "a@b", Password: "x"}, []string{"username"}},
		{"username with quote", SipConfig{Server: "pbx", Username: `10"01`, Password: "x"}, []string{"username"}},
		{"password with separators", SipConfig{Server: "pbx", Username: "1001", Password: "pa;ss;regint=1"}, nil},
		{"password with quote", SipConfig{Server: "pbx", Username: "1001", Password: `pa"ss`}, []string{"password"}},
		{"password with newline", SipConfig{Server: "pbx", Username: "1001", Password: "pa\nss"}, []string{"password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.fields) == 0 {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Len(t, verr.Fields, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}
}

func TestSipConfigRedacted(t *testing.T) {
	cfg := SipConfig{Server: "pbx", Username: "1001", Password: "secret"}
	r := cfg.Redacted()
	assert.Equal(t, "******", r.Password)
	assert.Equal(t, "secret", cfg.Password)
	assert.True(t, cfg.Equal(SipConfig{Server: "pbx", Username: "1001", Password: "secret"}))
	assert.False(t, cfg.Equal(r))
}

func TestValidateContact(t *testing.T) {
	require.NoError(t, ValidateContact("Reception", "100"))

	err := ValidateContact("", " ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "number")

	err = ValidateContact("Bob", "10 01")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "number")
}
