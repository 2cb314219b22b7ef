// Package analysis derives sentiment, tags, word count and language for chat
// messages. It is local and never fails.
package analysis

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

const maxTags = 3

type Result struct {
	Sentiment float64  `json:"sentiment"`
	Tags      []string `json:"tags"`
	WordCount int      `json:"word_count"`
	Language  string   `json:"language"`
}

var (
	hashtagRegex = regexp.MustCompile(`#([\p{L}\p{N}_]{2,32})`)
	urlRegex     = regexp.MustCompile(`https?://\S+`)
)

var positiveWords = map[string]struct{}{
	"agree": {}, "good": {}, "great": {}, "right": {}, "true": {}, "love": {}, "like": {},
	"better": {}, "best": {}, "fair": {}, "helpful": {}, "benefit": {}, "benefits": {},
	"support": {}, "yes": {}, "exactly": {}, "convincing": {}, "excellent": {}, "valid": {},
	"improve": {}, "improves": {}, "progress": {}, "safe": {}, "smart": {}, "thanks": {},
}

var negativeWords = map[string]struct{}{
	"disagree": {}, "bad": {}, "wrong": {}, "false": {}, "hate": {}, "worse": {}, "worst": {},
	"unfair": {}, "harmful": {}, "harm": {}, "no": {}, "never": {}, "terrible": {}, "awful": {},
	"risk": {}, "risky": {}, "dangerous": {}, "fail": {}, "fails": {}, "nonsense": {},
	"ridiculous": {}, "useless": {}, "against": {}, "problem": {}, "problems": {},
}

var negators = map[string]struct{}{
	"not": {}, "don't": {}, "dont": {}, "isn't": {}, "isnt": {}, "can't": {}, "cant": {},
	"won't": {}, "wont": {}, "never": {},
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "because": {}, "been": {}, "being": {},
	"could": {}, "does": {}, "doing": {}, "even": {}, "every": {}, "from": {}, "have": {},
	"here": {}, "into": {}, "just": {}, "like": {}, "make": {}, "more": {}, "most": {},
	"much": {}, "only": {}, "other": {}, "over": {}, "really": {}, "same": {}, "should": {},
	"some": {}, "such": {}, "than": {}, "that": {}, "their": {}, "them": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "thing": {}, "things": {}, "think": {}, "this": {},
	"those": {}, "very": {}, "want": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "will": {}, "with": {}, "would": {}, "your": {}, "yours": {},
	"people": {}, "agree": {}, "disagree": {}, "point": {},
}

// Analyze inspects a chat message.
func Analyze(text string) Result {
	words := tokenize(text)
	return Result{
		Sentiment: sentiment(words),
		Tags:      tags(text, words),
		WordCount: len(words),
		Language:  DetectLanguage(text),
	}
}

func tokenize(text string) []string {
	text = urlRegex.ReplaceAllString(text, " ")
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	words := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

// sentiment is the lexicon balance in [-1, 1]. A negator flips the next
// scored word.
func sentiment(words []string) float64 {
	var score, hits float64
	negate := false
	for _, w := range words {
		if _, ok := negators[w]; ok {
			negate = true
			continue
		}
		value := 0.0
		if _, ok := positiveWords[w]; ok {
			value = 1
		} else if _, ok := negativeWords[w]; ok {
			value = -1
		}
		if value != 0 {
			if negate {
				value = -value
			}
			score += value
			hits++
		}
		negate = false
	}
	if hits == 0 {
		return 0
	}
	return score / hits
}

// tags returns hashtags first, then the most frequent content words.
func tags(text string, words []string) []string {
	out := []string{}
	seen := map[string]struct{}{}

	for _, m := range hashtagRegex.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == maxTags {
			return out
		}
	}

	counts := map[string]int{}
	order := []string{}
	for _, w := range words {
		if len([]rune(w)) < 5 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	for _, w := range order {
		if len(out) == maxTags {
			break
		}
		out = append(out, w)
	}
	return out
}

// DetectLanguage returns an ISO 639-3 code, or "und" when unsure.
func DetectLanguage(text string) string {
	text = strings.TrimSpace(urlRegex.ReplaceAllString(text, " "))
	if text == "" {
		return "und"
	}

	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6393()
	if code == "" {
		return "und"
	}
	if info.IsReliable() || info.Confidence >= 0.3 || hasNonASCIILetter(text) {
		return code
	}
	return "und"
}

func hasNonASCIILetter(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) && r > unicode.MaxASCII {
			return true
		}
	}
	return false
}
