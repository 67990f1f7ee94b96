package decode

import (
	"errors"
	"fmt"
)

// ErrDecodeShapeMismatch is returned when logits are narrower than the
// vocabulary or shorter than the declared number of frames.
var ErrDecodeShapeMismatch = errors.New("decode: logits shape does not match vocabulary")

// argmax returns the index of the first maximum in row
func argmax(row []float32) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

// CTCGreedy decodes row-major [steps x vocabSize] logits. Each frame's arg-max
// is taken over the vocabulary; blanks are dropped and reset repeat tracking,
// and contiguous repeats of the same token collapse to one.
func CTCGreedy(logits []float32, steps, vocabSize int, v *Vocabulary) (string, error) {
	if vocabSize < v.Size() {
		return "", fmt.Errorf("%w: %d logits per frame for %d tokens", ErrDecodeShapeMismatch, vocabSize, v.Size())
	}
	if len(logits) < steps*vocabSize {
		return "", fmt.Errorf("%w: %d logits for %d frames of %d", ErrDecodeShapeMismatch, len(logits), steps, vocabSize)
	}

	blank := v.BlankID()
	prev := -1
	var ids []int

	for t := 0; t < steps; t++ {
		row := logits[t*vocabSize : t*vocabSize+v.Size()]
		id := argmax(row)

		if id == blank {
			prev = -1
			continue
		}
		if id == prev {
			continue
		}

		prev = id
		ids = append(ids, id)
	}

	return v.Detokenize(ids), nil
}
