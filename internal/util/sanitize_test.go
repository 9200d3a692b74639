package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name     string
		phone    string
		expected string
	}{
		{name: "e164_us", phone: "+15551234567", expected: "+15****4567"},
		{name: "padded", phone: "  +447911123456 ", expected: "+44****3456"},
		{name: "short", phone: "+12345", expected: "****"},
		{name: "empty", phone: "", expected: "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskPhone(tt.phone))
		})
	}
}

func TestMaskPhone_HidesLength(t *testing.T) {
	assert.Equal(t, len(MaskPhone("+15551234567")), len(MaskPhone("+155512345678901")))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<script>alert(1)</script>"))
	assert.True(t, ContainsSuspicious("${jndi:ldap}"))
	assert.True(t, ContainsSuspicious("img ONERROR=x"))
	assert.False(t, ContainsSuspicious("Ada Lovelace"))
}
