package decode

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrBadVocabulary is returned when a vocabulary source is missing or malformed
var ErrBadVocabulary = errors.New("decode: bad vocabulary")

// WordBoundary is the SentencePiece marker that starts a new word
const WordBoundary = "▁"

// Vocabulary maps dense token ids to token strings. The blank token is the
// last id, following the NeMo convention. A Vocabulary is immutable once built.
type Vocabulary struct {
	tokens  []string
	blankID int
}

// NewVocabulary builds a vocabulary from tokens ordered by id
func NewVocabulary(tokens []string) (*Vocabulary, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrBadVocabulary)
	}
	owned := make([]string, len(tokens))
	copy(owned, tokens)
	return &Vocabulary{tokens: owned, blankID: len(owned) - 1}, nil
}

// Size returns the number of token classes including blank
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// BlankID returns the id meaning "no emission"
func (v *Vocabulary) BlankID() int {
	return v.blankID
}

// Token returns the string for id, or "" when id is out of range
func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Detokenize concatenates token ids into text, turning word-boundary markers
// into spaces.
func (v *Vocabulary) Detokenize(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(v.Token(id))
	}
	return strings.TrimSpace(strings.ReplaceAll(sb.String(), WordBoundary, " "))
}

// LoadVocabulary reads vocab.txt from dir, falling back to tokenizer.json
func LoadVocabulary(dir string) (*Vocabulary, error) {
	txt := filepath.Join(dir, "vocab.txt")
	if f, err := os.Open(txt); err == nil {
		defer f.Close()
		return LoadVocabTxt(f)
	}

	js := filepath.Join(dir, "tokenizer.json")
	if f, err := os.Open(js); err == nil {
		defer f.Close()
		return LoadTokenizerJSON(f)
	}

	return nil, fmt.Errorf("%w: no vocab.txt or tokenizer.json in %s", ErrBadVocabulary, dir)
}

// LoadVocabTxt parses "token id" lines. The id is everything after the last
// space, so tokens may themselves contain spaces. Unused ids below the
// highest one become empty tokens.
func LoadVocabTxt(r io.Reader) (*Vocabulary, error) {
	type entry struct {
		token string
		id    int
	}

	var entries []entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ' ')
		if idx < 0 {
			continue
		}
		id, err := strconv.Atoi(line[idx+1:])
		if err != nil || id < 0 {
			continue
		}
		entries = append(entries, entry{token: line[:idx], id: id})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read vocab.txt: %v", ErrBadVocabulary, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: vocab.txt is empty or has invalid format", ErrBadVocabulary)
	}

	maxID := 0
	for _, e := range entries {
		if e.id > maxID {
			maxID = e.id
		}
	}

	tokens := make([]string, maxID+1)
	for _, e := range entries {
		tokens[e.id] = e.token
	}

	return NewVocabulary(tokens)
}

type tokenizerDoc struct {
	Model *struct {
		Vocab json.RawMessage `json:"vocab"`
	} `json:"model"`
	Vocab map[string]int `json:"vocab"`
}

// LoadTokenizerJSON reads a HuggingFace style tokenizer.json. model.vocab may
// be an array of strings, an array of [token, score] pairs or a token->id
// map; a top-level vocab map is used as a fallback.
func LoadTokenizerJSON(r io.Reader) (*Vocabulary, error) {
	var doc tokenizerDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse tokenizer.json: %v", ErrBadVocabulary, err)
	}

	var tokens []string
	if doc.Model != nil && len(doc.Model.Vocab) > 0 {
		tokens = parseModelVocab(doc.Model.Vocab)
	}
	if len(tokens) == 0 && len(doc.Vocab) > 0 {
		tokens = tokensFromMap(doc.Vocab)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: could not find vocabulary in tokenizer.json", ErrBadVocabulary)
	}

	return NewVocabulary(tokens)
}

func parseModelVocab(raw json.RawMessage) []string {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		tokens := make([]string, 0, len(list))
		for _, item := range list {
			var s string
			if json.Unmarshal(item, &s) == nil {
				tokens = append(tokens, s)
				continue
			}
			var pair []json.RawMessage
			if json.Unmarshal(item, &pair) == nil && len(pair) > 0 {
				if json.Unmarshal(pair[0], &s) == nil {
					tokens = append(tokens, s)
				}
			}
		}
		return tokens
	}

	var m map[string]int
	if err := json.Unmarshal(raw, &m); err == nil {
		return tokensFromMap(m)
	}
	return nil
}

func tokensFromMap(m map[string]int) []string {
	type pair struct {
		token string
		id    int
	}
	pairs := make([]pair, 0, len(m))
	for token, id := range m {
		pairs = append(pairs, pair{token, id})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	tokens := make([]string, len(pairs))
	for i, p := range pairs {
		tokens[i] = p.token
	}
	return tokens
}
