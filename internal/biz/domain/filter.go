package domain

import (
	"fmt"
	"strings"
	"time"
)

// FilterKind is the closed set of filter kinds
type FilterKind string

const (
	FilterKeyword FilterKind = "keyword"
	FilterRegex   FilterKind = "regex"
	FilterAll     FilterKind = "all"
)

// ParseFilterKind maps user input to a FilterKind
func ParseFilterKind(s string) (FilterKind, error) {
	switch FilterKind(strings.ToLower(strings.TrimSpace(s))) {
	case FilterKeyword:
		return FilterKeyword, nil
	case FilterRegex:
		return FilterRegex, nil
	case FilterAll:
		return FilterAll, nil
	}
	return "", NewError(KindInvalidFilterKind, fmt.Sprintf("unknown filter kind %q, use keyword, regex or all", s))
}

// NeedsValue reports whether the kind requires a non-empty value
func (k FilterKind) NeedsValue() bool {
	return k == FilterKeyword || k == FilterRegex
}

// Filter is a persisted monitoring rule scoped to one credential
type Filter struct {
	ID        int64
	Owner     OwnerID
	Phone     string
	Kind      FilterKind
	Value     string
	CreatedAt time.Time
}

// Ref returns the credential this filter belongs to
func (f *Filter) Ref() CredentialRef {
	return CredentialRef{Owner: f.Owner, Phone: f.Phone}
}

// Annotation describes the filter in forwarded messages
func (f *Filter) Annotation() string {
	switch f.Kind {
	case FilterAll:
		return "all"
	default:
		return fmt.Sprintf("%s %q", f.Kind, f.Value)
	}
}

// NoFilterAnnotation marks events forwarded because the credential has no filters
const NoFilterAnnotation = "no filter"
