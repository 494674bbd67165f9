// Package search provides a deterministic, concurrency-safe in-memory index
// over counterpart profiles. It ranks profiles against a free-text query so
// the browse views can offer "find someone who likes hiking and coffee".
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options for stop words and document caps
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|. Interest tags are added
// as whole-phrase tokens as well, so "rock climbing" matches the tag exactly.
package search

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tbourn/go-auras-backend/internal/domain"
)

// Doc is one searchable document.
type Doc struct {
	ID   string
	Text string
	Tags []string
}

// Result is a ranked document id with its similarity score.
type Result struct {
	ID    string
	Score float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	maxDocs   int
}

func defaultConfig() config {
	return config{stopwords: defaultStopwords(), maxDocs: 0}
}

func defaultStopwords() map[string]struct{} {
	m := map[string]struct{}{}
	for _, w := range []string{"a", "an", "and", "the", "of", "to", "in", "with", "for", "who", "likes", "like", "loves", "love", "someone", "i", "my", "me"} {
		m[w] = struct{}{}
	}
	return m
}

// WithStopwords replaces the default stop-word list.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		c.stopwords = m
	}
}

func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id     string
	tokens map[string]struct{}
	tLen   int
}

type index struct {
	cfg  config
	docs []doc
}

// ProfileDocs turns profiles into documents: name, bio, interests,
// personality summary and location are searchable; interests are tags.
func ProfileDocs(profiles []domain.Profile) []Doc {
	out := make([]Doc, 0, len(profiles))
	for _, p := range profiles {
		text := strings.Join([]string{
			p.Name,
			p.Bio,
			strings.Join(p.Interests, " "),
			p.Personality.Summary,
			p.Location,
		}, " ")
		out = append(out, Doc{ID: p.ID, Text: text, Tags: p.Interests})
	}
	return out
}

// NewIndex builds an Index from docs. Documents with no tokens are skipped.
func NewIndex(docs []Doc, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(docs, cfg)
}

// NewProfileIndex is shorthand for NewIndex(ProfileDocs(profiles), opts...).
func NewProfileIndex(profiles []domain.Profile, opts ...Option) Index {
	return NewIndex(ProfileDocs(profiles), opts...)
}

func buildIndex(in []Doc, cfg config) *index {
	docs := make([]doc, 0, len(in))
	for _, d := range in {
		if strings.TrimSpace(d.ID) == "" {
			continue
		}
		toks := tokenize(d.Text, cfg.stopwords)
		for _, tag := range d.Tags {
			if phrase := phraseToken(tag); phrase != "" {
				if toks == nil {
					toks = map[string]struct{}{}
				}
				toks[phrase] = struct{}{}
			}
		}
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{id: d.ID, tokens: toks, tLen: len(toks)})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching documents by Jaccard similarity.
// Documents with no overlap are never returned.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if phrase := phraseToken(q); phrase != "" {
		if qTokens == nil {
			qTokens = map[string]struct{}{}
		}
		qTokens[phrase] = struct{}{}
	}
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	buf := make([]Result, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, Result{ID: d.id, Score: float64(over) / union})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		return buf[a].ID < buf[b].ID
	})

	if k > len(buf) {
		k = len(buf)
	}
	return buf[:k:k]
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

// phraseToken returns the lowercased multi-word phrase of s, or "" when s is
// a single word (already covered by tokenize).
func phraseToken(s string) string {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) < 2 {
		return ""
	}
	return strings.Join(words, " ")
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
