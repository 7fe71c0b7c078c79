package engine

import (
	"context"
	"testing"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", raw: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", raw: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding whitespace", raw: "  \n{\"a\":1}\n  ", want: `{"a":1}`},
		{name: "empty", raw: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.raw); got != tt.want {
				t.Errorf("StripFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLLMCompleter_EmptyKey(t *testing.T) {
	c := NewLLMCompleter(Defaults())
	if _, err := c.Complete(context.Background(), "", "gpt-4o-mini", "", "hi"); err == nil {
		t.Fatal("expected error for empty key")
	}
}
