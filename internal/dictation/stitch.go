package dictation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lexiqai/dictation/internal/engine"
)

// State accumulates chunk results for one recording session
type State struct {
	CompletedText   string           `json:"completed_text"`
	ChunksCompleted int              `json:"chunks_completed"`
	LockedLanguage  string           `json:"locked_language,omitempty"`
	TotalDurationMS uint64           `json:"total_duration_ms"`
	Segments        []engine.Segment `json:"segments,omitempty"`
}

// Add merges one chunk result that started offsetMS into the session.
// The first non-empty language wins; segments are moved onto the session
// timeline.
func (s *State) Add(res engine.Result, offsetMS uint64) {
	s.CompletedText = appendChunkText(s.CompletedText, res.Text)
	s.ChunksCompleted++

	if s.LockedLanguage == "" && res.Language != "" {
		s.LockedLanguage = res.Language
	}

	for _, seg := range res.Segments {
		seg.StartMS += offsetMS
		seg.EndMS += offsetMS
		s.Segments = append(s.Segments, seg)
	}
}

// Result returns the accumulated transcript
func (s *State) Result() engine.Result {
	var segments []engine.Segment
	if len(s.Segments) > 0 {
		segments = make([]engine.Segment, len(s.Segments))
		copy(segments, s.Segments)
	}
	return engine.Result{
		Text:       s.CompletedText,
		Language:   s.LockedLanguage,
		DurationMS: s.TotalDurationMS,
		Segments:   segments,
	}
}

// appendChunkText joins next onto acc with a single space. A sentence-final
// mark on acc is dropped when next continues in lowercase, since a chunked
// model ends every window as if it were a sentence.
func appendChunkText(acc, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return acc
	}
	acc = strings.TrimRightFunc(acc, unicode.IsSpace)
	if acc == "" {
		return next
	}

	first, _ := utf8.DecodeRuneInString(next)
	if unicode.IsLower(first) {
		switch acc[len(acc)-1] {
		case '.', '!', '?':
			acc = acc[:len(acc)-1]
		}
	}
	return acc + " " + next
}
