package examutil

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestValidateToken(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	schedule := &model.TestSchedule{Token: "abc123", StartTime: start, EndTime: start.Add(2 * time.Hour)}

	tests := []struct {
		name  string
		token string
		now   time.Time
		want  error
	}{
		{"exact", "ABC123", start.Add(time.Minute), nil},
		{"case insensitive", "aBc123", start.Add(time.Minute), nil},
		{"surrounding space", "  abc123 ", start.Add(time.Minute), nil},
		{"at start", "ABC123", start, nil},
		{"at end", "ABC123", start.Add(2 * time.Hour), nil},
		{"empty", "   ", start.Add(time.Minute), ErrTokenEmpty},
		{"mismatch", "ABC124", start.Add(time.Minute), ErrTokenInvalid},
		{"mismatch before start", "XYZ", start.Add(-time.Hour), ErrTokenInvalid},
		{"before start", "ABC123", start.Add(-time.Second), ErrNotStarted},
		{"after end", "ABC123", start.Add(2*time.Hour + time.Second), ErrEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateToken(tt.token, schedule, tt.now); !errors.Is(err, tt.want) {
				t.Fatalf("ValidateToken(%q) = %v, want %v", tt.token, err, tt.want)
			}
		})
	}

	if schedule.Token != "abc123" {
		t.Fatalf("schedule token mutated to %q", schedule.Token)
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken(0)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(tok) != DefaultTokenLength {
		t.Fatalf("len = %d, want %d", len(tok), DefaultTokenLength)
	}
	for _, r := range tok {
		if !strings.ContainsRune(TokenAlphabet, r) {
			t.Fatalf("token %q has %q outside the alphabet", tok, r)
		}
	}
	if NormalizeToken(tok) != tok {
		t.Fatalf("generated token %q is not normalized", tok)
	}
}
