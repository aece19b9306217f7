// Package selector picks a canned reply for user input by keyword matching.
package selector

import (
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/xiaot623/csassistant/internal/knowledge"
)

// Kind classifies a matching rule.
type Kind string

const (
	KindMeta     Kind = "meta"
	KindTopic    Kind = "topic"
	KindFallback Kind = "fallback"
	KindDefault  Kind = "default"
)

const (
	templateStart = "{{"
	templateEnd   = "}}"
	inputTag      = "input"
)

// Rule is one entry of the ordered match table.
type Rule struct {
	Name     string
	Kind     Kind
	Topic    string
	Phrases  []string
	Response string
}

// Result describes the reply chosen for an input.
type Result struct {
	Text  string
	Rule  string
	Kind  Kind
	Topic string
}

// Selector maps input text to a reply. Safe for concurrent use.
type Selector struct {
	rules    []Rule
	template string
	tags     []knowledge.TopicTag
}

// New builds the rule table from a knowledge base.
// Rules are scanned in order: meta phrases, topic entries, keyword fallbacks.
func New(kb *knowledge.Base) *Selector {
	about := kb.About()

	rules := []Rule{{
		Name:     "meta",
		Kind:     KindMeta,
		Topic:    about.Key,
		Phrases:  lowerAll(kb.MetaPhrases()),
		Response: about.Response,
	}}
	for _, e := range kb.Entries() {
		rules = append(rules, Rule{
			Name:     e.Key,
			Kind:     KindTopic,
			Topic:    e.Key,
			Phrases:  lowerAll(append([]string{e.Key}, e.Phrases...)),
			Response: e.Response,
		})
	}
	for _, f := range kb.Fallbacks() {
		rules = append(rules, Rule{
			Name:     f.Name,
			Kind:     KindFallback,
			Phrases:  lowerAll(f.Phrases),
			Response: f.Response,
		})
	}

	tags := kb.TopicTags()
	for i := range tags {
		tags[i].Phrases = lowerAll(tags[i].Phrases)
	}

	return &Selector{
		rules:    rules,
		template: kb.DefaultTemplate(),
		tags:     tags,
	}
}

// Rules returns a copy of the match table.
func (s *Selector) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		r.Phrases = append([]string(nil), r.Phrases...)
		out[i] = r
	}
	return out
}

// Select returns the reply for text. It never returns an empty string.
func (s *Selector) Select(text string) string {
	return s.Match(text).Text
}

// Match returns the reply for text along with the rule that produced it.
func (s *Selector) Match(text string) Result {
	lower := strings.ToLower(text)
	for _, r := range s.rules {
		if containsAny(lower, r.Phrases) {
			return Result{Text: r.Response, Rule: r.Name, Kind: r.Kind, Topic: r.Topic}
		}
	}
	return Result{
		Text: fasttemplate.ExecuteString(s.template, templateStart, templateEnd, map[string]interface{}{
			inputTag: text,
		}),
		Rule: string(KindDefault),
		Kind: KindDefault,
	}
}

// DetectTopic returns a coarse topic tag for text, or "" when none applies.
func (s *Selector) DetectTopic(text string) string {
	lower := strings.ToLower(text)
	for _, t := range s.tags {
		if containsAny(lower, t.Phrases) {
			return t.Topic
		}
	}
	return ""
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
