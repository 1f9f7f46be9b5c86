package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
)

// Rule is a compiled filter
type Rule struct {
	filter domain.Filter
	needle string         // case-folded keyword
	re     *regexp.Regexp // case-insensitive pattern
}

// CompileFilter validates a filter and prepares it for matching.
// Keyword and regex filters need a non-empty value; regex must compile.
func CompileFilter(f *domain.Filter) (*Rule, error) {
	r := &Rule{filter: *f}
	switch f.Kind {
	case domain.FilterAll:
	case domain.FilterKeyword:
		if strings.TrimSpace(f.Value) == "" {
			return nil, domain.NewError(domain.KindInvalidFormat, "keyword must not be empty")
		}
		r.needle = fold(f.Value)
	case domain.FilterRegex:
		if strings.TrimSpace(f.Value) == "" {
			return nil, domain.NewError(domain.KindInvalidFormat, "regex must not be empty")
		}
		re, err := regexp.Compile("(?i)" + f.Value)
		if err != nil {
			return nil, domain.WrapError(domain.KindInvalidFormat, err, fmt.Sprintf("invalid regex %q", f.Value))
		}
		r.re = re
	default:
		return nil, domain.NewError(domain.KindInvalidFilterKind, fmt.Sprintf("unknown filter kind %q", f.Kind))
	}
	return r, nil
}

// Filter returns the filter the rule was compiled from
func (r *Rule) Filter() domain.Filter { return r.filter }

// Match reports whether text satisfies the rule
func (r *Rule) Match(text string) bool {
	switch r.filter.Kind {
	case domain.FilterAll:
		return true
	case domain.FilterKeyword:
		return strings.Contains(fold(text), r.needle)
	case domain.FilterRegex:
		return r.re.MatchString(text)
	}
	return false
}

// fold applies Unicode case folding; a Caser is not safe for concurrent use
func fold(s string) string {
	return cases.Fold().String(s)
}

// RuleSet is an immutable, ordered snapshot of a credential's rules
type RuleSet struct {
	rules []*Rule
}

// NewRuleSet compiles filters in order. Filters that fail to compile are
// skipped and reported.
func NewRuleSet(filters []*domain.Filter) (*RuleSet, []error) {
	rs := &RuleSet{rules: make([]*Rule, 0, len(filters))}
	var errs []error
	for _, f := range filters {
		r, err := CompileFilter(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("filter %d: %w", f.ID, err))
			continue
		}
		rs.rules = append(rs.rules, r)
	}
	return rs, errs
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// With returns a copy of the set with r appended
func (rs *RuleSet) With(r *Rule) *RuleSet {
	next := &RuleSet{rules: make([]*Rule, 0, rs.Len()+1)}
	if rs != nil {
		next.rules = append(next.rules, rs.rules...)
	}
	next.rules = append(next.rules, r)
	return next
}

// Evaluate returns the annotation of the first matching rule.
// An empty set forwards everything.
func (rs *RuleSet) Evaluate(text string) (string, bool) {
	if rs.Len() == 0 {
		return domain.NoFilterAnnotation, true
	}
	for _, r := range rs.rules {
		if r.Match(text) {
			return r.filter.Annotation(), true
		}
	}
	return "", false
}
