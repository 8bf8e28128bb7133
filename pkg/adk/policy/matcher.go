package policy

import (
	"strings"

	"golang.org/x/text/cases"
)

// TopicMatcher decides whether a recorded query covers a policy topic.
type TopicMatcher interface {
	Matches(topic string, q QueryEntry) bool
}

// MatcherFunc adapts a function to TopicMatcher.
type MatcherFunc func(topic string, q QueryEntry) bool

// Matches implements TopicMatcher.
func (f MatcherFunc) Matches(topic string, q QueryEntry) bool { return f(topic, q) }

// TagMatcher accepts queries explicitly tagged with the topic, or whose
// retrieved snippets all came from documents of that topic.
type TagMatcher struct{}

// Matches implements TopicMatcher.
func (TagMatcher) Matches(topic string, q QueryEntry) bool {
	if q.Topic != "" {
		return q.Topic == topic
	}
	if len(q.Snippets) == 0 {
		return false
	}
	for _, s := range q.Snippets {
		if s.Topic != topic {
			return false
		}
	}
	return true
}

// KeywordMatcher accepts queries whose text or snippets mention one of the
// topic's keywords, compared case-insensitively.
type KeywordMatcher struct {
	Keywords map[string][]string
}

// DefaultKeywords are the free-text keywords for the built-in topics.
var DefaultKeywords = map[string][]string{
	"refund_policy":   {"refund", "return", "money back"},
	"warranty_policy": {"warranty", "defect"},
	"shipping_policy": {"shipping", "delivery", "transit"},
}

// Matches implements TopicMatcher.
func (m KeywordMatcher) Matches(topic string, q QueryEntry) bool {
	keywords := m.Keywords[topic]
	if len(keywords) == 0 {
		return false
	}
	fold := cases.Fold()
	haystacks := []string{fold.String(q.Text)}
	for _, s := range q.Snippets {
		haystacks = append(haystacks, fold.String(s.Text))
	}
	for _, kw := range keywords {
		kw = fold.String(kw)
		for _, h := range haystacks {
			if strings.Contains(h, kw) {
				return true
			}
		}
	}
	return false
}

// AnyMatcher accepts a query when any of its matchers does.
type AnyMatcher []TopicMatcher

// Matches implements TopicMatcher.
func (m AnyMatcher) Matches(topic string, q QueryEntry) bool {
	for _, matcher := range m {
		if matcher.Matches(topic, q) {
			return true
		}
	}
	return false
}

// DefaultMatcher accepts explicit tags and falls back to keywords.
func DefaultMatcher() TopicMatcher {
	return AnyMatcher{TagMatcher{}, KeywordMatcher{Keywords: DefaultKeywords}}
}
