package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialURI(t *testing.T) {
	uri, err := DialURI("1002", "sip.example.com")
	require.NoError(t, err)
	assert.Equal(t, "sip:1002@sip.example.com", uri)

	uri, err = DialURI("+5511999990000", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "sip:+5511999990000@10.0.0.1", uri)

	_, err = DialURI("", "sip.example.com")
	assert.ErrorIs(t, err, ErrInvalidDestination)

	_, err = DialURI("10 02", "sip.example.com")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestAccountURIs(t *testing.T) {
	cfg := SipConfig{Server: "sip.example.com", Username: "1001", Password: "x"}
	assert.Equal(t, "sip:1001@sip.example.com", cfg.AccountURI())
	assert.Equal(t, "sip:sip.example.com", cfg.RegistrarURI())
}

func TestUserFromURI(t *testing.T) {
	assert.Equal(t, "1003", UserFromURI("sip:1003@sip.example.com"))
	assert.Equal(t, "1003", UserFromURI(`"Alice" <sip:1003@sip.example.com>`))
	assert.Equal(t, "not a uri", UserFromURI("not a uri"))
}
