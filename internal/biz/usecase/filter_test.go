package usecase

import (
	"errors"
	"sync"
	"testing"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

func mustRule(t *testing.T, kind domain.FilterKind, value string) *Rule {
	t.Helper()
	r, err := CompileFilter(&domain.Filter{Kind: kind, Value: value})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return r
}

func TestRule_KeywordIsCaseInsensitive(t *testing.T) {
	r := mustRule(t, domain.FilterKeyword, "Invoice")

	for _, text := range []string{"your INVOICE is ready", "invoice", "re: Invoice #4"} {
		if !r.Match(text) {
			t.Errorf("Expected %q to match", text)
		}
	}
	if r.Match("receipt") {
		t.Error("Expected receipt not to match")
	}
}

func TestRule_KeywordFoldsUnicode(t *testing.T) {
	r := mustRule(t, domain.FilterKeyword, "STRASSE")
	if !r.Match("Hauptstraße 5") {
		t.Error("Expected case folding to match ß against SS")
	}

	r = mustRule(t, domain.FilterKeyword, "привет")
	if !r.Match("ПРИВЕТ, друг") {
		t.Error("Expected cyrillic keyword to match case-insensitively")
	}
}

func TestRule_RegexIsCaseInsensitive(t *testing.T) {
	r := mustRule(t, domain.FilterRegex, "^urgent")
	if !r.Match("URGENT: call me") {
		t.Error("Expected anchored regex to match uppercase text")
	}
	if r.Match("not urgent") {
		t.Error("Expected anchored regex not to match mid-text")
	}
}

func TestRule_AllMatchesEverything(t *testing.T) {
	r := mustRule(t, domain.FilterAll, "")
	if !r.Match("") || !r.Match("anything") {
		t.Error("Expected all to match everything")
	}
}

func TestCompileFilter_Rejects(t *testing.T) {
	tests := []struct {
		name string
		f    domain.Filter
		want error
	}{
		{"empty keyword", domain.Filter{Kind: domain.FilterKeyword, Value: "  "}, domain.ErrInvalidFormat},
		{"empty regex", domain.Filter{Kind: domain.FilterRegex}, domain.ErrInvalidFormat},
		{"bad regex", domain.Filter{Kind: domain.FilterRegex, Value: "(unclosed"}, domain.ErrInvalidFormat},
		{"unknown kind", domain.Filter{Kind: "glob", Value: "*"}, domain.ErrInvalidFilterKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileFilter(&tt.f)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRuleSet_FirstMatchWins(t *testing.T) {
	rs, errs := NewRuleSet([]*domain.Filter{
		{ID: 1, Kind: domain.FilterKeyword, Value: "a"},
		{ID: 2, Kind: domain.FilterRegex, Value: "^urgent"},
	})
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}

	ann, ok := rs.Evaluate("urgent: pay")
	if !ok {
		t.Fatal("Expected match")
	}
	if ann != `keyword "a"` {
		t.Errorf("Expected first filter to win, got %s", ann)
	}

	ann, ok = rs.Evaluate("URGENT")
	if !ok || ann != `regex "^urgent"` {
		t.Errorf("Expected regex match, got %q ok=%v", ann, ok)
	}

	if _, ok := rs.Evaluate("hello"); ok {
		t.Error("Expected hello to be dropped")
	}
}

func TestRuleSet_EmptyForwardsEverything(t *testing.T) {
	var rs *RuleSet
	ann, ok := rs.Evaluate("anything")
	if !ok || ann != domain.NoFilterAnnotation {
		t.Errorf("Expected no filter annotation, got %q ok=%v", ann, ok)
	}

	empty, _ := NewRuleSet(nil)
	if _, ok := empty.Evaluate(""); !ok {
		t.Error("Expected empty set to forward empty text")
	}
}

func TestRuleSet_SkipsBrokenStoredFilters(t *testing.T) {
	rs, errs := NewRuleSet([]*domain.Filter{
		{ID: 1, Kind: domain.FilterRegex, Value: "("},
		{ID: 2, Kind: domain.FilterAll},
	})
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	if rs.Len() != 1 {
		t.Errorf("Expected 1 rule, got %d", rs.Len())
	}
}

func TestRuleSet_WithDoesNotMutate(t *testing.T) {
	base, _ := NewRuleSet([]*domain.Filter{{Kind: domain.FilterKeyword, Value: "x"}})
	next := base.With(mustRule(t, domain.FilterAll, ""))

	if base.Len() != 1 || next.Len() != 2 {
		t.Errorf("Expected 1 and 2 rules, got %d and %d", base.Len(), next.Len())
	}
	if _, ok := base.Evaluate("y"); ok {
		t.Error("Expected base set to remain keyword-only")
	}
}

func TestRule_ConcurrentMatch(t *testing.T) {
	r := mustRule(t, domain.FilterKeyword, "needle")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !r.Match("haystack NEEDLE haystack") {
					t.Error("Expected match")
					return
				}
			}
		}()
	}
	wg.Wait()
}
