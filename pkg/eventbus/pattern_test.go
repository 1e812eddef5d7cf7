package eventbus

import "testing"

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		eventType string
		want      bool
	}{
		{"exact match", "conversation.message.created", "conversation.message.created", true},
		{"exact mismatch", "conversation.message.created", "conversation.message.updated", false},
		{"single wildcard middle", "conversation.*.created", "conversation.message.created", true},
		{"single wildcard middle other entity", "conversation.*.created", "conversation.file.created", true},
		{"single wildcard action mismatch", "conversation.*.created", "conversation.message.updated", false},
		{"wildcard is one segment only", "conversation.*.created", "conversation.message.sub.created", false},
		{"segment count mismatch short", "conversation.message", "conversation.message.created", false},
		{"segment count mismatch long", "conversation.message.created.extra", "conversation.message.created", false},
		{"all wildcards", "*.*.*", "conversation.message.created", true},
		{"all wildcards wrong count", "*.*.*", "system.health", false},
		{"case sensitive", "Conversation.message.created", "conversation.message.created", false},
		{"trailing multi wildcard", "conversation.**", "conversation.message.created", true},
		{"trailing multi wildcard deep", "conversation.**", "conversation.message.sub.created", true},
		{"trailing multi wildcard zero remainder", "conversation.**", "conversation", true},
		{"trailing multi wildcard other prefix", "conversation.**", "workspace.state.updated", false},
		{"bare catch-all", "**", "anything.at.all", true},
		{"multi wildcard after single", "conversation.*.**", "conversation.message.created", true},
		{"empty pattern", "", "conversation.message.created", false},
		{"empty event type", "conversation.*.*", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchPattern(tt.pattern, tt.eventType); got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestValidEventType(t *testing.T) {
	tests := []struct {
		eventType string
		want      bool
	}{
		{"conversation.message.created", true},
		{"system.health", true},
		{"single", true},
		{"", false},
		{".leading", false},
		{"trailing.", false},
		{"double..dot", false},
	}

	for _, tt := range tests {
		if got := validEventType(tt.eventType); got != tt.want {
			t.Errorf("validEventType(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}
