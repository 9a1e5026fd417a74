package search

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleKB = `
entries:
  - keywords: ["kim yaratgan", "yaratuvchi"]
    questions: ["Seni kim yaratgan?"]
    answer: "Meni mustaqil dasturchilar jamoasi yaratgan. [NO_BUTTON]"
  - questions: ["Bot pullikmi?", "Xizmat narxi qancha?"]
    answer: "Bot mutlaqo bepul."
`

func TestKnowledge_KeywordThenSimilarity(t *testing.T) {
	kb, err := ParseKnowledge(strings.NewReader(sampleKB), 0.5)
	if err != nil {
		t.Fatalf("ParseKnowledge: %v", err)
	}
	if kb.Len() != 2 {
		t.Fatalf("Len = %d", kb.Len())
	}
	if a, ok := kb.Answer("Ayting-chi, sizni KIM YARATGAN?"); !ok || !strings.Contains(a, "dasturchilar") {
		t.Fatalf("keyword match failed: %q %v", a, ok)
	}
	if a, ok := kb.Answer("bot pullikmi"); !ok || a != "Bot mutlaqo bepul." {
		t.Fatalf("similarity match failed: %q %v", a, ok)
	}
	if _, ok := kb.Answer("pythonda ro'yxatni qanday saralash mumkin"); ok {
		t.Fatalf("unrelated question should not match")
	}
}

func TestKnowledge_ThresholdRespected(t *testing.T) {
	kb := NewKnowledge([]Entry{{Questions: []string{"xizmat narxi qancha"}, Answer: "bepul"}}, 0.9)
	if _, ok := kb.Answer("narxi qancha"); ok {
		t.Fatalf("partial overlap below threshold should not match")
	}
	kb = NewKnowledge(kb.entries, 0.5)
	if _, ok := kb.Answer("narxi qancha"); !ok {
		t.Fatalf("2/3 overlap should pass a 0.5 threshold")
	}
}

func TestKnowledge_NilAndEmpty(t *testing.T) {
	var kb *Knowledge
	if _, ok := kb.Answer("anything"); ok || kb.Len() != 0 {
		t.Fatalf("nil knowledge must not match")
	}
	kb, err := ParseKnowledge(strings.NewReader(""), 0.5)
	if err != nil || kb.Len() != 0 {
		t.Fatalf("empty document: %v %d", err, kb.Len())
	}
}

func TestParseKnowledge_Rejects(t *testing.T) {
	if _, err := ParseKnowledge(strings.NewReader("entries:\n  - questions: [a]\n"), 0.5); err == nil {
		t.Fatalf("entry without answer should fail")
	}
	if _, err := ParseKnowledge(strings.NewReader("entries:\n  - answr: x\n"), 0.5); err == nil {
		t.Fatalf("unknown field should fail")
	}
}

func TestLoadKnowledge_File(t *testing.T) {
	dir := t.TempDir()
	kb, err := LoadKnowledge(filepath.Join(dir, "missing.yaml"), 0.5)
	if err != nil || kb.Len() != 0 {
		t.Fatalf("missing file should give empty kb: %v", err)
	}
	p := filepath.Join(dir, "kb.yaml")
	if err := os.WriteFile(p, []byte(sampleKB), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	kb, err = LoadKnowledge(p, 0.5)
	if err != nil || kb.Len() != 2 {
		t.Fatalf("LoadKnowledge: %v %d", err, kb.Len())
	}
}
