// Package knowledge holds the static content the assistant answers from.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/csassistant/internal/domain"
)

//go:embed default.yaml
var defaultContent []byte

// Entry is one topic the assistant can answer about.
type Entry struct {
	Key      string   `yaml:"key"`
	Phrases  []string `yaml:"phrases"`
	Response string   `yaml:"response"`
}

// Fallback is a keyword group consulted when no entry matches.
type Fallback struct {
	Name     string   `yaml:"name"`
	Phrases  []string `yaml:"phrases"`
	Response string   `yaml:"response"`
}

// TopicTag maps trigger phrases to a coarse reply topic.
type TopicTag struct {
	Topic   string   `yaml:"topic"`
	Phrases []string `yaml:"phrases"`
}

type document struct {
	About           string                `yaml:"about"`
	MetaPhrases     []string              `yaml:"meta_phrases"`
	Topics          []Entry               `yaml:"topics"`
	Fallbacks       []Fallback            `yaml:"fallbacks"`
	DefaultTemplate string                `yaml:"default_template"`
	TopicTags       []TopicTag            `yaml:"topic_tags"`
	Catalog         []domain.CatalogTopic `yaml:"catalog"`
	QuickQuestions  []string              `yaml:"quick_questions"`
}

// Base is a loaded, validated knowledge base. It is read-only after load.
type Base struct {
	doc   document
	index map[string]int
}

// ErrInvalid is returned when knowledge content fails validation.
var ErrInvalid = errors.New("invalid knowledge base")

// Default returns the knowledge base compiled into the binary.
func Default() *Base {
	b, err := Parse(defaultContent)
	if err != nil {
		panic(fmt.Sprintf("embedded knowledge base: %v", err))
	}
	return b
}

// Load reads a knowledge base from a YAML file.
func Load(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return b, nil
}

// LoadOrDefault loads path when set, otherwise returns Default.
func LoadOrDefault(path string) (*Base, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes and validates YAML knowledge content.
func Parse(data []byte) (*Base, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge base: %w", err)
	}

	if len(doc.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrInvalid)
	}
	index := make(map[string]int, len(doc.Topics))
	for i, e := range doc.Topics {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			return nil, fmt.Errorf("%w: topic %d has an empty key", ErrInvalid, i)
		}
		if _, dup := index[key]; dup {
			return nil, fmt.Errorf("%w: duplicate topic %q", ErrInvalid, key)
		}
		if strings.TrimSpace(e.Response) == "" {
			return nil, fmt.Errorf("%w: topic %q has no response", ErrInvalid, key)
		}
		doc.Topics[i].Key = key
		index[key] = i
	}
	if _, ok := index[doc.About]; !ok {
		return nil, fmt.Errorf("%w: about entry %q not found", ErrInvalid, doc.About)
	}
	for _, f := range doc.Fallbacks {
		if strings.TrimSpace(f.Response) == "" {
			return nil, fmt.Errorf("%w: fallback %q has no response", ErrInvalid, f.Name)
		}
	}
	if strings.TrimSpace(doc.DefaultTemplate) == "" {
		return nil, fmt.Errorf("%w: empty default template", ErrInvalid)
	}

	return &Base{doc: doc, index: index}, nil
}

// Entries returns the topic entries in declared order.
func (b *Base) Entries() []Entry {
	out := make([]Entry, len(b.doc.Topics))
	for i, e := range b.doc.Topics {
		e.Phrases = append([]string(nil), e.Phrases...)
		out[i] = e
	}
	return out
}

// Keys returns the topic keys in declared order.
func (b *Base) Keys() []string {
	keys := make([]string, len(b.doc.Topics))
	for i, e := range b.doc.Topics {
		keys[i] = e.Key
	}
	return keys
}

// Lookup returns the entry for key.
func (b *Base) Lookup(key string) (Entry, bool) {
	i, ok := b.index[key]
	if !ok {
		return Entry{}, false
	}
	e := b.doc.Topics[i]
	e.Phrases = append([]string(nil), e.Phrases...)
	return e, true
}

// About returns the entry describing the application and its author.
func (b *Base) About() Entry {
	e, _ := b.Lookup(b.doc.About)
	return e
}

// MetaPhrases returns the phrases that route to the about entry.
func (b *Base) MetaPhrases() []string {
	return append([]string(nil), b.doc.MetaPhrases...)
}

// Fallbacks returns the keyword fallbacks in declared order.
func (b *Base) Fallbacks() []Fallback {
	out := make([]Fallback, len(b.doc.Fallbacks))
	for i, f := range b.doc.Fallbacks {
		f.Phrases = append([]string(nil), f.Phrases...)
		out[i] = f
	}
	return out
}

// DefaultTemplate returns the template used when nothing matches.
// The {{input}} placeholder receives the user's text.
func (b *Base) DefaultTemplate() string {
	return b.doc.DefaultTemplate
}

// TopicTags returns the reply-tagging rules in declared order.
func (b *Base) TopicTags() []TopicTag {
	out := make([]TopicTag, len(b.doc.TopicTags))
	for i, t := range b.doc.TopicTags {
		t.Phrases = append([]string(nil), t.Phrases...)
		out[i] = t
	}
	return out
}

func (b *Base) Catalog() []domain.CatalogTopic {
	return append([]domain.CatalogTopic(nil), b.doc.Catalog...)
}

func (b *Base) QuickQuestions() []string {
	return append([]string(nil), b.doc.QuickQuestions...)
}
