package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashUsername(t *testing.T) {
	t.Parallel()

	a := HashUsername("alice")
	b := HashUsername("bob")

	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashUsername("alice"))
	assert.NotContains(t, a, "alice")
	assert.Empty(t, HashUsername(""))
}

func TestAnonymizeIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4", "203.0.113.77", "203.0.113.0"},
		{"ipv4 with port", "203.0.113.77:54321", "203.0.113.0"},
		{"ipv6", "2001:db8::abcd", "2001:db8::"},
		{"ipv6 with port", "[2001:db8::abcd]:8080", "2001:db8::"},
		{"garbage", "not-an-ip", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, AnonymizeIP(tt.in))
		})
	}
}

func TestRedactHeaderValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "REDACTED", RedactHeaderValue("Authorization", "Bearer abc"))
	assert.Equal(t, "REDACTED", RedactHeaderValue("cookie", "mcp_gateway_session=xyz"))
	assert.Equal(t, "REDACTED", RedactHeaderValue("X-AUTHORIZATION", "Bearer abc"))
	assert.Equal(t, "application/json", RedactHeaderValue("Content-Type", "application/json"))
}
