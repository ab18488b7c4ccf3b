// Package timeparse resolves free-text start times into absolute instants.
//
// Resolution runs an ordered list of resolvers, first match wins: strict
// layout parsing comes first so unambiguous inputs never reach the phrase
// parser, and the pluggable natural-language parser is the final fallback.
package timeparse

import (
	"fmt"
	"strings"
	"time"

	"triggerd/internal/trigger"
)

// PhraseParser interprets free-form natural-language time phrases
// ("tomorrow at noon"). It is an external collaborator: the engine treats it
// as a black box that either resolves a phrase against a reference instant or
// declines.
type PhraseParser interface {
	ParsePhrase(text string, ref time.Time) (time.Time, bool)
}

// PhraseParserFunc adapts a function to the PhraseParser interface
type PhraseParserFunc func(text string, ref time.Time) (time.Time, bool)

func (f PhraseParserFunc) ParsePhrase(text string, ref time.Time) (time.Time, bool) {
	return f(text, ref)
}

// Resolver attempts to turn text into an instant, reporting whether it could
// handle the input at all
type Resolver interface {
	Name() string
	Resolve(text string, ref time.Time, loc *time.Location) (time.Time, bool)
}

// layoutResolver parses a single strict time layout in the target zone
type layoutResolver struct {
	name   string
	layout string
}

func (r *layoutResolver) Name() string { return r.name }

func (r *layoutResolver) Resolve(text string, _ time.Time, loc *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation(r.layout, text, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// clockResolver parses a bare wall-clock time as the next occurrence of that
// reading in the target zone: today if still ahead of the reference, else
// tomorrow
type clockResolver struct {
	name   string
	layout string
}

func (r *clockResolver) Name() string { return r.name }

func (r *clockResolver) Resolve(text string, ref time.Time, loc *time.Location) (time.Time, bool) {
	parsed, err := time.ParseInLocation(r.layout, text, loc)
	if err != nil {
		return time.Time{}, false
	}
	local := ref.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, loc)
	if !candidate.After(ref) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, true
}

// phraseResolver wraps the external phrase parser as the lowest-priority
// resolver
type phraseResolver struct {
	parser PhraseParser
}

func (r *phraseResolver) Name() string { return "phrase" }

func (r *phraseResolver) Resolve(text string, ref time.Time, _ *time.Location) (time.Time, bool) {
	if r.parser == nil {
		return time.Time{}, false
	}
	return r.parser.ParsePhrase(text, ref)
}

// StartTimeResolver resolves start-time text through its resolver chain
type StartTimeResolver struct {
	resolvers []Resolver
}

// New creates a resolver with the standard layout chain and an optional
// phrase parser fallback (nil disables natural-language resolution)
func New(phrase PhraseParser) *StartTimeResolver {
	resolvers := []Resolver{
		&layoutResolver{name: "rfc3339", layout: time.RFC3339},
		&layoutResolver{name: "datetime_seconds", layout: "2006-01-02 15:04:05"},
		&layoutResolver{name: "datetime", layout: "2006-01-02 15:04"},
		&layoutResolver{name: "datetime_t", layout: "2006-01-02T15:04"},
		&layoutResolver{name: "date", layout: "2006-01-02"},
		&clockResolver{name: "clock_24h", layout: "15:04"},
		&clockResolver{name: "clock_kitchen", layout: "3:04pm"},
		&phraseResolver{parser: phrase},
	}
	return &StartTimeResolver{resolvers: resolvers}
}

// Resolve walks the resolver chain in priority order and returns the first
// match. An unresolvable input is a ValidationError.
func (s *StartTimeResolver) Resolve(text string, ref time.Time, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return time.Time{}, &trigger.ValidationError{Reason: "start time cannot be empty"}
	}

	for _, r := range s.resolvers {
		if t, ok := r.Resolve(trimmed, ref, loc); ok {
			return t, nil
		}
	}

	return time.Time{}, &trigger.ValidationError{Reason: fmt.Sprintf("could not interpret start time %q", trimmed)}
}
