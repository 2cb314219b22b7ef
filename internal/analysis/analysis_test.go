package analysis

import "testing"

func TestAnalyzeWordCountAndSentiment(t *testing.T) {
	got := Analyze("I agree, that is a great point and a fair benefit.")
	if got.WordCount != 11 {
		t.Fatalf("unexpected word count: got=%d want=11", got.WordCount)
	}
	if got.Sentiment <= 0 {
		t.Fatalf("expected positive sentiment: %v", got.Sentiment)
	}

	neg := Analyze("That is wrong and harmful, a terrible idea.")
	if neg.Sentiment >= 0 {
		t.Fatalf("expected negative sentiment: %v", neg.Sentiment)
	}

	if s := Analyze("This is not good").Sentiment; s >= 0 {
		t.Fatalf("negated positive should be negative: %v", s)
	}
	if s := Analyze("The meeting starts at noon").Sentiment; s != 0 {
		t.Fatalf("neutral text should score 0: %v", s)
	}
}

func TestAnalyzeTags(t *testing.T) {
	got := Analyze("#Transit matters. Public transit funding beats highway funding, funding wins. #transit")
	if len(got.Tags) == 0 || got.Tags[0] != "transit" {
		t.Fatalf("hashtag should lead tags: %v", got.Tags)
	}
	if len(got.Tags) < 2 || got.Tags[1] != "funding" {
		t.Fatalf("most frequent word should follow hashtags: %v", got.Tags)
	}
	if len(got.Tags) > maxTags {
		t.Fatalf("too many tags: %v", got.Tags)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	got := Analyze("   ")
	if got.WordCount != 0 || got.Sentiment != 0 || len(got.Tags) != 0 {
		t.Fatalf("unexpected result for empty text: %+v", got)
	}
	if got.Language != "und" {
		t.Fatalf("unexpected language: %q", got.Language)
	}
}

func TestDetectLanguage(t *testing.T) {
	if got := DetectLanguage("The government should invest far more money into public transportation systems in every major city."); got != "eng" {
		t.Fatalf("unexpected language: %q", got)
	}
	if got := DetectLanguage("https://example.com"); got != "und" {
		t.Fatalf("url-only text should be undetermined: %q", got)
	}
}
