package search

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one canned answer.
type Entry struct {
	Keywords  []string `yaml:"keywords"`
	Questions []string `yaml:"questions"`
	Answer    string   `yaml:"answer"`
}

type knowledgeFile struct {
	Entries []Entry `yaml:"entries"`
}

// Knowledge answers from a fixed set of entries. The zero value and a nil
// *Knowledge never match.
type Knowledge struct {
	entries   []Entry
	keywords  [][]string // folded, per entry
	index     Index
	threshold float64
}

// LoadKnowledge reads a YAML knowledge file. A missing file yields an empty
// knowledge base, not an error.
func LoadKnowledge(path string, threshold float64) (*Knowledge, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewKnowledge(nil, threshold), nil
	}
	if err != nil {
		return nil, err
	}
	return ParseKnowledge(bytes.NewReader(b), threshold)
}

// ParseKnowledge decodes YAML of the form
//
//	entries:
//	  - keywords: ["narx", "tarif"]
//	    questions: ["Bot pullikmi?"]
//	    answer: "Bot bepul."
func ParseKnowledge(r io.Reader, threshold float64) (*Knowledge, error) {
	var f knowledgeFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("knowledge: %w", err)
	}
	for i, e := range f.Entries {
		if strings.TrimSpace(e.Answer) == "" {
			return nil, fmt.Errorf("knowledge: entry %d has no answer", i)
		}
	}
	return NewKnowledge(f.Entries, threshold), nil
}

// NewKnowledge builds a knowledge base. Matches below threshold are ignored.
func NewKnowledge(entries []Entry, threshold float64) *Knowledge {
	k := &Knowledge{entries: entries, threshold: threshold}
	var docs []Doc
	for i, e := range entries {
		var kws []string
		for _, w := range e.Keywords {
			if w = fold(strings.TrimSpace(w)); w != "" {
				kws = append(kws, w)
			}
		}
		k.keywords = append(k.keywords, kws)
		for _, q := range e.Questions {
			docs = append(docs, Doc{ID: i, Text: q})
		}
	}
	k.index = NewIndex(docs)
	return k
}

// Len returns the number of entries.
func (k *Knowledge) Len() int {
	if k == nil {
		return 0
	}
	return len(k.entries)
}

// Answer returns a canned answer for text. Keyword containment wins over
// similarity; entries are tried in file order.
func (k *Knowledge) Answer(text string) (string, bool) {
	if k == nil || len(k.entries) == 0 || strings.TrimSpace(text) == "" {
		return "", false
	}
	folded := fold(text)
	for i, kws := range k.keywords {
		for _, w := range kws {
			if strings.Contains(folded, w) {
				return k.entries[i].Answer, true
			}
		}
	}
	top := k.index.TopK(text, 1)
	if len(top) == 0 || top[0].Score < k.threshold {
		return "", false
	}
	return k.entries[top[0].ID].Answer, true
}
