package phrase

import "testing"

func TestMatch_ExactContainment(t *testing.T) {
	m := New([]string{"that's all, thanks", "goodbye"})

	phrase, score, ok := m.Match("Okay, that's all thanks for the help")
	if !ok {
		t.Fatal("no match for exact phrase")
	}
	if phrase != "that's all, thanks" {
		t.Errorf("phrase = %q, want %q", phrase, "that's all, thanks")
	}
	if score != 1.0 {
		t.Errorf("score = %v, want 1.0", score)
	}
}

func TestMatch_IgnoresCaseAndPunctuation(t *testing.T) {
	m := New([]string{"goodbye"})

	for _, tr := range []string{
		"GOODBYE!",
		"goodbye.",
		"well... Goodbye, then",
	} {
		if !m.Contains(tr) {
			t.Errorf("Contains(%q) = false, want true", tr)
		}
	}
}

func TestMatch_FuzzyASRVariant(t *testing.T) {
	m := New([]string{"goodbye"})

	// Common recognizer splits and near-misses.
	for _, tr := range []string{
		"good bye now",
		"goodby",
	} {
		if !m.Contains(tr) {
			t.Errorf("Contains(%q) = false, want fuzzy match", tr)
		}
	}
}

func TestMatch_NoFalsePositive(t *testing.T) {
	m := New([]string{"that's all, thanks"})

	for _, tr := range []string{
		"what time is it",
		"tell me about the weather",
		"",
	} {
		if m.Contains(tr) {
			t.Errorf("Contains(%q) = true, want false", tr)
		}
	}
}

func TestMatch_PhoneticWindow(t *testing.T) {
	// "thats all thanks" misheard with a lower-similarity token should
	// still clear the phonetic threshold.
	m := New([]string{"thats all thanks"})

	if !m.Contains("ok thats al thanks bye") {
		t.Error("phonetic window did not match ASR variant")
	}
}

func TestMatch_MultiplePhrases(t *testing.T) {
	m := New([]string{"goodbye", "see you later", "that's all"})

	phrase, _, ok := m.Match("alright see you later alligator")
	if !ok {
		t.Fatal("no match")
	}
	if phrase != "see you later" {
		t.Errorf("phrase = %q, want %q", phrase, "see you later")
	}
}

func TestEmpty(t *testing.T) {
	if !New(nil).Empty() {
		t.Error("Empty() = false for nil phrase list")
	}
	if !New([]string{"", "   "}).Empty() {
		t.Error("Empty() = false for blank phrases")
	}
	if New([]string{"bye"}).Empty() {
		t.Error("Empty() = true for configured phrase")
	}
	if New(nil).Contains("anything") {
		t.Error("empty matcher matched")
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("That's ALL, thanks!")
	want := []string{"thats", "all", "thanks"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokenize = %v, want %v", got, want)
		}
	}
}
