package connection

import (
	"strings"
	"testing"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"  Alice  ", "alice"},
		{"alice.onion", "alice"},
		{"ALICE.ONION", "alice"},
		{"alice.onion:80", "alice"},
		{"ws://alice.onion:80/veil", "alice"},
		{"http://alice.onion/", "alice"},
		{"alice.onion.", "alice"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsOnionV3(t *testing.T) {
	valid := strings.Repeat("a", 52) + "234d"
	tests := []struct {
		addr string
		want bool
	}{
		{valid, true},
		{strings.ToUpper(valid), false},
		{valid[:55], false},
		{strings.Repeat("a", 55) + "1", false},
		{"alice", false},
	}

	for _, tt := range tests {
		if got := IsOnionV3(tt.addr); got != tt.want {
			t.Errorf("IsOnionV3(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
