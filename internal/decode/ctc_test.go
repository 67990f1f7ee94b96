package decode

import (
	"errors"
	"math/rand"
	"testing"
)

func testVocab(t *testing.T) *Vocabulary {
	t.Helper()
	v, err := NewVocabulary([]string{"▁hel", "lo", "▁world", "<blk>"})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// oneHot builds [len(ids) x size] logits where each frame peaks at its id
func oneHot(size int, ids ...int) []float32 {
	logits := make([]float32, len(ids)*size)
	for t, id := range ids {
		for k := 0; k < size; k++ {
			logits[t*size+k] = -1
		}
		logits[t*size+id] = 5
	}
	return logits
}

func TestCTCGreedy_Basic(t *testing.T) {
	v := testVocab(t)
	text, err := CTCGreedy(oneHot(4, 0, 1, 3, 2), 4, 4, v)
	if err != nil {
		t.Fatalf("CTCGreedy failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", text)
	}
}

func TestCTCGreedy_CollapsesRepeats(t *testing.T) {
	v := testVocab(t)

	text, _ := CTCGreedy(oneHot(4, 1, 1, 1), 3, 4, v)
	if text != "lo" {
		t.Errorf("Expected repeats to collapse to 'lo', got %q", text)
	}

	text, _ = CTCGreedy(oneHot(4, 1, 3, 1), 3, 4, v)
	if text != "lolo" {
		t.Errorf("Expected blank to separate repeats into 'lolo', got %q", text)
	}
}

func TestCTCGreedy_BlankInsertionInvariance(t *testing.T) {
	v := testVocab(t)
	blank := v.BlankID()
	base := []int{0, 1, 1, 3, 1, 2, 2, 0}

	want, err := CTCGreedy(oneHot(4, base...), len(base), 4, v)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 50; trial++ {
		seq := append([]int(nil), base...)
		for n := 0; n < 5; n++ {
			// Only positions that do not split a run of the same token
			var allowed []int
			for i := 0; i <= len(seq); i++ {
				if i == 0 || i == len(seq) || seq[i-1] != seq[i] || seq[i] == blank {
					allowed = append(allowed, i)
				}
			}
			pos := allowed[rng.Intn(len(allowed))]
			seq = append(seq[:pos], append([]int{blank}, seq[pos:]...)...)
		}

		got, err := CTCGreedy(oneHot(4, seq...), len(seq), 4, v)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Blank insertion changed output: %v decoded to %q, want %q", seq, got, want)
		}
	}
}

func TestCTCGreedy_WiderLogits(t *testing.T) {
	v := testVocab(t)

	// Extra trailing classes beyond the vocabulary are ignored
	logits := oneHot(6, 0, 5, 1)
	logits[6+2] = 4

	text, err := CTCGreedy(logits, 3, 6, v)
	if err != nil {
		t.Fatalf("CTCGreedy failed: %v", err)
	}
	if text != "hel worldlo" {
		t.Errorf("Expected 'hel worldlo', got %q", text)
	}
}

func TestCTCGreedy_ShapeMismatch(t *testing.T) {
	v := testVocab(t)

	if _, err := CTCGreedy(oneHot(3, 0, 1), 2, 3, v); !errors.Is(err, ErrDecodeShapeMismatch) {
		t.Errorf("Expected ErrDecodeShapeMismatch for narrow logits, got %v", err)
	}
	if _, err := CTCGreedy(oneHot(4, 0), 2, 4, v); !errors.Is(err, ErrDecodeShapeMismatch) {
		t.Errorf("Expected ErrDecodeShapeMismatch for missing frames, got %v", err)
	}
}
