// Package moderation decides whether live chat text may be posted.
package moderation

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/nantokaworks/triad-arena/internal/env"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Matched string `json:"matched,omitempty"`
}

// Moderator checks one piece of text.
type Moderator interface {
	Moderate(ctx context.Context, text string) (Decision, error)
}

// Check asks m and applies failMode when m errors: "allow" lets the text
// through, anything else blocks it.
func Check(ctx context.Context, m Moderator, text, failMode string) Decision {
	if m == nil {
		return Decision{Allowed: true}
	}
	d, err := m.Moderate(ctx, text)
	if err == nil {
		return d
	}
	allowed := failMode == env.ModerationFailAllow
	logger.Warn("Moderation failed, applying fail mode",
		zap.Error(err), zap.String("fail_mode", failMode), zap.Bool("allowed", allowed))
	return Decision{Allowed: allowed}
}

// WordFilter blocks text containing a word from the bad list. A token is bad
// when it starts with a bad word, unless the token itself is on the good list.
// Multi-word bad entries match as phrases.
type WordFilter struct {
	mu      sync.RWMutex
	loaded  bool
	bad     []string
	phrases []string
	good    map[string]struct{}
}

func NewWordFilter() *WordFilter {
	return &WordFilter{}
}

// Reload drops the cached lists; the next check reads them again.
func (f *WordFilter) Reload() {
	f.mu.Lock()
	f.loaded = false
	f.mu.Unlock()
}

func (f *WordFilter) load() error {
	f.mu.RLock()
	loaded := f.loaded
	f.mu.RUnlock()
	if loaded {
		return nil
	}

	words, err := localdb.GetWordFilterWords()
	if err != nil {
		return err
	}

	bad := []string{}
	phrases := []string{}
	good := map[string]struct{}{}
	for _, w := range words {
		switch w.Type {
		case "good":
			good[w.Word] = struct{}{}
		case "bad":
			if strings.Contains(w.Word, " ") {
				phrases = append(phrases, w.Word)
			} else {
				bad = append(bad, w.Word)
			}
		}
	}

	f.mu.Lock()
	f.bad, f.phrases, f.good, f.loaded = bad, phrases, good, true
	f.mu.Unlock()
	return nil
}

func (f *WordFilter) Moderate(_ context.Context, text string) (Decision, error) {
	if err := f.load(); err != nil {
		return Decision{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	normalized := " " + strings.Join(tokens, " ") + " "

	for _, phrase := range f.phrases {
		if strings.Contains(normalized, " "+phrase+" ") {
			return Decision{Allowed: false, Matched: phrase}, nil
		}
	}

	for _, token := range tokens {
		if _, ok := f.good[token]; ok {
			continue
		}
		for _, b := range f.bad {
			if strings.HasPrefix(token, b) {
				return Decision{Allowed: false, Matched: b}, nil
			}
		}
	}
	return Decision{Allowed: true}, nil
}
