package phonetic_test

import (
	"testing"

	"github.com/tinred-labs/jack/internal/transcript/phonetic"
)

func TestMatcher_SingleWordMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// A voice note transcribed "leptop" should phonetically resolve to the
	// catalogue entry "Laptop".
	entities := []string{"Laptop", "Monitor", "Teclado inalámbrico"}

	corrected, conf, matched := m.Match("leptop", entities)
	if !matched {
		t.Fatalf("Match(%q, entities): matched=false, want true", "leptop")
	}
	if corrected != "Laptop" {
		t.Errorf("Match(%q): corrected=%q, want %q", "leptop", corrected, "Laptop")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "leptop", conf)
	}
}

func TestMatcher_MultiWordEntityMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	entities := []string{"Teclado inalámbrico", "Laptop", "Monitor"}

	// "teclado inalambrico" (accent dropped by the transcriber) should still
	// resolve to the accented catalogue entry.
	corrected, conf, matched := m.Match("teclado inalambrico", entities)
	if !matched {
		t.Fatalf("Match(%q, entities): matched=false, want true", "teclado inalambrico")
	}
	if corrected != "Teclado inalámbrico" {
		t.Errorf("Match(%q): corrected=%q, want %q", "teclado inalambrico", corrected, "Teclado inalámbrico")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "teclado inalambrico", conf)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	entities := []string{"Laptop", "Monitor"}

	corrected, conf, matched := m.Match("hola", entities)
	if matched {
		t.Fatalf("Match(%q, entities): matched=true, want false", "hola")
	}
	if corrected != "hola" {
		t.Errorf("Match(%q): corrected=%q, want original word %q", "hola", corrected, "hola")
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "hola", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	entities := []string{"Laptop"}

	corrected, _, matched := m.Match("LAPTOP", entities)
	if !matched {
		t.Fatalf("Match(%q, entities): matched=false, want true", "LAPTOP")
	}
	if corrected != "Laptop" {
		t.Errorf("Match(%q): corrected=%q, want %q", "LAPTOP", corrected, "Laptop")
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	entities := []string{"Monitor", "Laptop"}

	corrected, conf, matched := m.Match("monitor", entities)
	if !matched {
		t.Fatalf("Match(%q, entities): matched=false, want true", "monitor")
	}
	if corrected != "Monitor" {
		t.Errorf("Match(%q): corrected=%q, want %q", "monitor", corrected, "Monitor")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9 for near-exact match", "monitor", conf)
	}
}

func TestMatcher_PhoneticThresholdFiltering(t *testing.T) {
	t.Parallel()

	// Set a very high phonetic threshold so near-matches are rejected.
	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	entities := []string{"Laptop"}

	_, _, matched := m.Match("leptop", entities)
	if matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatcher_EmptyEntities(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("laptop", nil)
	if matched {
		t.Fatal("Match with nil entities should return matched=false")
	}
	if corrected != "laptop" {
		t.Errorf("corrected=%q, want original", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestMatcher_EmptyWord(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("", []string{"Laptop"})
	if matched {
		t.Fatal("Match with empty word should return matched=false")
	}
	if corrected != "" {
		t.Errorf("corrected=%q, want empty string", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	// Verify that options are applied without panicking.
	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.75),
		phonetic.WithFuzzyThreshold(0.90),
	)
	if m == nil {
		t.Fatal("New returned nil")
	}
}
