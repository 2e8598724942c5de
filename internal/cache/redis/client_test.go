package redis

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"custodex", []string{"lock", "listing:0xab"}, "custodex:lock:listing:0xab"},
		{"", []string{"events", "offers"}, "events:offers"},
	}
	for _, tt := range tests {
		c := &Client{prefix: tt.prefix}
		if got := c.Key(tt.parts...); got != tt.want {
			t.Errorf("Key(%v) with prefix %q = %q, want %q", tt.parts, tt.prefix, got, tt.want)
		}
	}
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	if slidingWindowLua == "" {
		t.Fatal("sliding window script not embedded")
	}
}
