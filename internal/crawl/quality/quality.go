// Package quality implements the deterministic, additive 0-100 scorer for
// extracted page content (spec §4.3). The score is a function of (status,
// body, markdown, title, url) alone — same inputs always produce the same score.
package quality

import (
	"regexp"
	"strings"
)

// Band is the human-readable recommendation band for a score.
type Band string

const (
	BandReject     Band = "reject"
	BandPoor       Band = "poor"
	BandAcceptable Band = "acceptable"
	BandGood       Band = "good"
	BandExcellent  Band = "excellent"
)

// BandFor returns the recommendation band for a score (spec §4.3).
func BandFor(score int) Band {
	switch {
	case score < 20:
		return BandReject
	case score < 40:
		return BandPoor
	case score < 60:
		return BandAcceptable
	case score < 80:
		return BandGood
	default:
		return BandExcellent
	}
}

var (
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s`)
	listItemRe   = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s`)
	linkRe       = regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`)
	inlineCodeRe = regexp.MustCompile("`[^`\n]+`")
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	codePatternRe = regexp.MustCompile(`(?m)^\s*(func|def|class|import|package|public|private|const|let|var|return)\b`)
	errorPhraseRe = regexp.MustCompile(`(?i)\b(404|page not found|not found|access denied|forbidden|internal server error)\b`)
	docKeywordRe  = regexp.MustCompile(`(?i)\b(documentation|reference|guide|tutorial|api|install|configuration|usage|example|getting started)\b`)
)

// Input is everything the scorer needs to evaluate one crawled page.
type Input struct {
	URL        string
	HTTPStatus int
	Body       string // raw fetched body (for length/error-page checks)
	Markdown   string // extracted Markdown; used for signal/code detection, with code stripped for the non-code length check
	Title      string
}

// Score computes the deterministic additive score, clamped to [0,100].
func Score(in Input) int {
	score := 0

	if (in.HTTPStatus >= 200 && in.HTTPStatus <= 299) || in.HTTPStatus == 304 {
		score += 20
	}

	if len(strings.TrimSpace(in.Body)) > 100 {
		score += 20
	}

	nonCode := fencedCodeRe.ReplaceAllString(in.Markdown, "")
	nonCode = inlineCodeRe.ReplaceAllString(nonCode, "")
	if len(strings.TrimSpace(nonCode)) > 200 {
		score += 25
	}

	if signalCount(in.Markdown) >= 4 {
		score += 20
	}

	if hasCodeEvidence(in.Markdown) {
		score += 10
	}

	tokenEstimate := len(in.Markdown) / 4
	if tokenEstimate > 100 && tokenEstimate < 8000 {
		score += 5
	}

	lowerURL := strings.ToLower(in.URL)
	if strings.Contains(lowerURL, "/docs/") {
		score += 5
	}
	if strings.Contains(lowerURL, "/api/") || strings.Contains(lowerURL, "/reference/") {
		score += 5
	}

	if isErrorPage(in.Title, in.Body, in.HTTPStatus) {
		score -= 50
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// signalCount reports how many heading/list/link/keyword signals fire.
// links and doc-keyword matches have a stronger tier that counts twice.
func signalCount(markdown string) int {
	count := 0

	if len(headingRe.FindAllStringIndex(markdown, -1)) >= 2 {
		count++
	}
	if len(listItemRe.FindAllStringIndex(markdown, -1)) >= 1 {
		count++
	}

	links := len(linkRe.FindAllStringIndex(markdown, -1))
	switch {
	case links >= 8:
		count += 2
	case links >= 3:
		count++
	}

	keywords := len(docKeywordRe.FindAllStringIndex(markdown, -1))
	switch {
	case keywords >= 4:
		count += 2
	case keywords >= 2:
		count++
	}

	return count
}

func hasCodeEvidence(markdown string) bool {
	if fencedCodeRe.MatchString(markdown) {
		return true
	}
	if len(inlineCodeRe.FindAllStringIndex(markdown, -1)) >= 3 {
		return true
	}
	return codePatternRe.MatchString(markdown)
}

func isErrorPage(title, body string, httpStatus int) bool {
	if httpStatus >= 400 {
		return true
	}
	return errorPhraseRe.MatchString(title) || errorPhraseRe.MatchString(body)
}
