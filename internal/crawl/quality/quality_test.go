package quality

import (
	"strings"
	"testing"
)

func TestScore_HighQualityDocsPage(t *testing.T) {
	markdown := "# Getting Started\n\n## Installation\n\nSee the [guide](https://x/guide) and [reference](https://x/ref) and [api docs](https://x/api).\n\n" +
		strings.Repeat("This is documentation reference guide tutorial text explaining usage and configuration with examples. ", 10) +
		"\n\n- item one\n- item two\n\n```go\nfunc main() {}\n```\n"

	in := Input{
		URL:        "https://docs.example.com/docs/getting-started",
		HTTPStatus: 200,
		Body:       markdown,
		Markdown:   markdown,
		Title:      "Getting Started",
	}
	score := Score(in)
	if score < 80 {
		t.Errorf("score = %d, want excellent (>=80) for a rich docs page", score)
	}
	if BandFor(score) != BandExcellent {
		t.Errorf("band = %q, want excellent", BandFor(score))
	}
}

func TestScore_ErrorPageIsPenalized(t *testing.T) {
	in := Input{
		URL:        "https://x.com/missing",
		HTTPStatus: 404,
		Body:       "Page Not Found",
		Markdown:   "Page Not Found",
		Title:      "404 Not Found",
	}
	score := Score(in)
	if score != 0 {
		t.Errorf("score = %d, want 0 (status fails threshold and error penalty clamps at 0)", score)
	}
}

func TestScore_ThinPageScoresLow(t *testing.T) {
	in := Input{
		URL:        "https://x.com/a",
		HTTPStatus: 200,
		Body:       "hi",
		Markdown:   "hi",
	}
	score := Score(in)
	if score >= 40 {
		t.Errorf("score = %d, want poor/reject for near-empty page", score)
	}
}

func TestScore_NeverNegativeOrAboveHundred(t *testing.T) {
	in := Input{URL: "https://x.com/docs/api/reference/", HTTPStatus: 500, Body: "error forbidden", Markdown: "error forbidden", Title: "Forbidden"}
	score := Score(in)
	if score < 0 || score > 100 {
		t.Errorf("score = %d out of bounds", score)
	}
}

func TestScore_CodeEvidenceViaFencedBlock(t *testing.T) {
	markdown := "Some text.\n\n```python\nprint('hi')\n```\n"
	in := Input{URL: "https://x.com/a", HTTPStatus: 200, Body: markdown, Markdown: markdown}
	if !hasCodeEvidence(in.Markdown) {
		t.Error("expected fenced code block to count as code evidence")
	}
}

func TestBandFor_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Band
	}{
		{0, BandReject}, {19, BandReject}, {20, BandPoor}, {39, BandPoor},
		{40, BandAcceptable}, {59, BandAcceptable}, {60, BandGood}, {79, BandGood},
		{80, BandExcellent}, {100, BandExcellent},
	}
	for _, c := range cases {
		if got := BandFor(c.score); got != c.want {
			t.Errorf("BandFor(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}
