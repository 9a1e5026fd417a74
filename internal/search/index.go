// Package search holds the bot's static knowledge base: a small set of
// canned answers matched either by keyword or by Jaccard similarity between
// the user's text and each entry's sample questions.
//
// The index is immutable after construction and safe for concurrent use.
// Matching is deterministic; ties are broken by shorter text, then
// lexicographically.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Result is one ranked document.
type Result struct {
	ID      int // caller-supplied document id
	Snippet string
	Score   float64
}

// Index ranks documents against a query.
type Index interface {
	TopK(query string, k int) []Result
}

type Option func(*config)

type config struct {
	minRunes  int
	stopwords map[string]struct{}
	maxDocs   int
}

func defaultConfig() config {
	return config{minRunes: 1}
}

// WithMinRunes skips documents shorter than n runes.
func WithMinRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minRunes = n
		}
	}
}

// WithStopwords drops the given words from both documents and queries.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			if w = fold(strings.TrimSpace(w)); w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of indexed documents.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// Doc is an input document.
type Doc struct {
	ID   int
	Text string
}

type doc struct {
	id     int
	text   string
	runes  int
	tokens map[string]struct{}
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndex builds an Index over docs.
func NewIndex(docs []Doc, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	out := make([]doc, 0, len(docs))
	for _, d := range docs {
		t := strings.Join(strings.Fields(d.Text), " ")
		n := utf8.RuneCountInString(t)
		if t == "" || n < cfg.minRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		out = append(out, doc{id: d.ID, text: t, runes: n, tokens: toks})
		if cfg.maxDocs > 0 && len(out) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: out}
}

// NewIndexFromStrings indexes plain strings; each document's ID is its
// position in the slice.
func NewIndexFromStrings(texts []string, opts ...Option) Index {
	docs := make([]Doc, len(texts))
	for i, t := range texts {
		docs[i] = Doc{ID: i, Text: t}
	}
	return NewIndex(docs, opts...)
}

// TopK returns up to k documents by Jaccard similarity |Q∩D| / |Q∪D|.
// k <= 0 means 3.
func (ix *index) TopK(q string, k int) []Result {
	if len(ix.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qt := tokenize(q, ix.cfg.stopwords)
	if len(qt) == 0 {
		return nil
	}

	type scored struct {
		d     *doc
		score float64
	}
	var hits []scored
	for i := range ix.docs {
		d := &ix.docs[i]
		over := overlap(qt, d.tokens)
		if over == 0 {
			continue
		}
		hits = append(hits, scored{d: d, score: float64(over) / float64(len(qt)+len(d.tokens)-over)})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		if hits[a].d.runes != hits[b].d.runes {
			return hits[a].d.runes < hits[b].d.runes
		}
		return hits[a].d.text < hits[b].d.text
	})
	if k > len(hits) {
		k = len(hits)
	}
	out := make([]Result, k)
	for i := range out {
		out[i] = Result{ID: hits[i].d.id, Snippet: hits[i].d.text, Score: hits[i].score}
	}
	return out
}

var (
	wordRE  = regexp.MustCompile(`[\p{L}\p{N}]+`)
	lower   = cases.Lower(language.Uzbek)
	apostro = strings.NewReplacer("‘", "", "’", "", "ʻ", "", "ʼ", "", "`", "", "'", "")
)

// fold lower-cases s with Uzbek rules and drops the apostrophes of o‘ and g‘
// so "so'rov" and "so‘rov" compare equal.
func fold(s string) string {
	return apostro.Replace(lower.String(s))
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
