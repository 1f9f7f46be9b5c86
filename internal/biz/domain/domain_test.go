package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesSentinelByKind(t *testing.T) {
	err := NewError(KindQuotaExceeded, "you already have 3 sessions")

	if !errors.Is(err, ErrQuotaExceeded) {
		t.Error("Expected error to match ErrQuotaExceeded")
	}
	if errors.Is(err, ErrInvalidFormat) {
		t.Error("Expected error not to match ErrInvalidFormat")
	}

	wrapped := fmt.Errorf("begin: %w", err)
	if !errors.Is(wrapped, ErrQuotaExceeded) {
		t.Error("Expected wrapped error to match ErrQuotaExceeded")
	}
	if KindOf(wrapped) != KindQuotaExceeded {
		t.Errorf("Expected kind quota exceeded, got %s", KindOf(wrapped))
	}
}

func TestError_MessageHidesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(KindTransport, cause, "PHONE_NUMBER_INVALID")

	if err.Message() != "PHONE_NUMBER_INVALID" {
		t.Errorf("Expected platform message, got %q", err.Message())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be reachable through Unwrap")
	}
	if MessageOf(errors.New("plain")) != "plain" {
		t.Error("Expected foreign error message to pass through")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("Expected foreign error to have unknown kind")
	}
}

func TestParseFilterKind(t *testing.T) {
	tests := []struct {
		in      string
		want    FilterKind
		wantErr bool
	}{
		{"keyword", FilterKeyword, false},
		{" REGEX ", FilterRegex, false},
		{"All", FilterAll, false},
		{"glob", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFilterKind(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidFilterKind) {
				t.Errorf("ParseFilterKind(%q): expected ErrInvalidFilterKind, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseFilterKind(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFilterKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilter_Annotation(t *testing.T) {
	kw := &Filter{Kind: FilterKeyword, Value: "a"}
	if kw.Annotation() != `keyword "a"` {
		t.Errorf("Unexpected keyword annotation: %s", kw.Annotation())
	}
	re := &Filter{Kind: FilterRegex, Value: "^urgent"}
	if re.Annotation() != `regex "^urgent"` {
		t.Errorf("Unexpected regex annotation: %s", re.Annotation())
	}
	all := &Filter{Kind: FilterAll}
	if all.Annotation() != "all" {
		t.Errorf("Unexpected all annotation: %s", all.Annotation())
	}
}

func TestCredential_Preview(t *testing.T) {
	c := &Credential{Blob: "tgw1.abcdefghij"}
	if got := c.Preview(5); got != "tgw1...." {
		t.Errorf("Expected truncated preview, got %q", got)
	}
	if got := c.Preview(100); got != c.Blob {
		t.Errorf("Expected full blob, got %q", got)
	}
}

func TestAuthPhase_Pending(t *testing.T) {
	if PhaseIdle.Pending() || PhaseSaved.Pending() || PhaseAborted.Pending() {
		t.Error("Terminal phases must not be pending")
	}
	if !PhaseAwaitingCode.Pending() || !PhaseAwaitingDeleteChoice.Pending() {
		t.Error("Awaiting phases must be pending")
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("Ann", "Lee", "ann"); got != "Ann Lee" {
		t.Errorf("Expected full name, got %q", got)
	}
	if got := DisplayName("", "", "ann"); got != "@ann" {
		t.Errorf("Expected username fallback, got %q", got)
	}
}
