// internal/answer/validator.go
package answer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Match types reported by Validate.
const (
	MatchExact       = "exact"
	MatchTypo        = "typo"
	MatchWordOverlap = "word-overlap"
	MatchNone        = "none"
)

// Result describes the outcome of validating one submitted answer.
type Result struct {
	IsCorrect     bool    `json:"isCorrect"`
	MatchType     string  `json:"matchType,omitempty"`
	UserAnswer    string  `json:"userAnswer"`
	CorrectAnswer string  `json:"correctAnswer"`
	Distance      int     `json:"distance,omitempty"`
	AllowedDist   int     `json:"allowedDistance,omitempty"`
	OverlapRatio  float64 `json:"overlapRatio,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

var (
	acceptRe      = regexp.MustCompile(`(?i)\(ACCEPT:\s*([^)]+)\)`)
	punctuationRe = regexp.MustCompile("[.,/#!$%^&*;:{}=\\-_`~()?'\"]")
	whitespaceRe  = regexp.MustCompile(`\s+`)
	articleRe     = regexp.MustCompile(`\b(a|an|the)\b`)
)

// ExtractAlternates splits a canonical answer into its main answer and any
// alternates embedded as "(ACCEPT: ...)" directives. The directives are
// stripped from the main answer.
func ExtractAlternates(correct string) (main string, alternates []string) {
	for _, m := range acceptRe.FindAllStringSubmatch(correct, -1) {
		alternates = append(alternates, strings.TrimSpace(m[1]))
	}
	main = strings.TrimSpace(acceptRe.ReplaceAllString(correct, ""))
	return main, alternates
}

// Normalize lowercases, strips punctuation, collapses whitespace and removes
// the articles "a", "an" and "the". Article removal is word-bounded, so
// "theater" is left alone.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = punctuationRe.ReplaceAllString(s, "")
	s = articleRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// damerauLevenshtein computes edit distance where substitution, insertion,
// deletion and adjacent transposition each cost 1.
func damerauLevenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	lenA, lenB := len(ra), len(rb)
	inf := lenA + lenB

	score := make([][]int, lenA+2)
	for i := range score {
		score[i] = make([]int, lenB+2)
	}
	score[0][0] = inf
	for i := 0; i <= lenA; i++ {
		score[i+1][0] = inf
		score[i+1][1] = i
	}
	for j := 0; j <= lenB; j++ {
		score[0][j+1] = inf
		score[1][j+1] = j
	}

	lastRow := make(map[rune]int)
	for i := 1; i <= lenA; i++ {
		lastCol := 0
		for j := 1; j <= lenB; j++ {
			i1 := lastRow[rb[j-1]]
			j1 := lastCol
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
				lastCol = j
			}
			score[i+1][j+1] = min4(
				score[i][j]+cost,
				score[i+1][j]+1,
				score[i][j+1]+1,
				score[i1][j1]+(i-i1-1)+1+(j-j1-1),
			)
		}
		lastRow[ra[i-1]] = i
	}
	return score[lenA+1][lenB+1]
}

func min4(a, b, c, d int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if d < m {
		m = d
	}
	return m
}

// TypoThreshold returns how many edits are tolerated for a candidate of the
// given length. Strictness (0-20) tightens the tolerance: every full 10
// points removes one allowed edit.
func TypoThreshold(length, strictness int) int {
	if strictness < 0 {
		strictness = 0
	} else if strictness > 20 {
		strictness = 20
	}
	base := 3
	switch {
	case length <= 4:
		base = 1
	case length <= 10:
		base = 2
	}
	penalty := strictness / 10
	if base-penalty < 0 {
		return 0
	}
	return base - penalty
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// Validate checks a submitted answer against the canonical answer string,
// which may embed "(ACCEPT: ...)" alternates and semicolon-separated
// sub-answers. Strictness (0-20) controls typo tolerance and whether the
// word-overlap fallback applies.
//
// Single-character and numeric answers are matched exactly; fuzzy matching
// never applies to them.
func Validate(userAnswer, correctAnswer string, strictness int) Result {
	res := Result{UserAnswer: userAnswer, CorrectAnswer: correctAnswer}
	if userAnswer == "" || correctAnswer == "" {
		res.Reason = "missing answer"
		return res
	}

	main, alternates := ExtractAlternates(correctAnswer)

	if utf8.RuneCountInString(userAnswer) == 1 && utf8.RuneCountInString(main) == 1 {
		ok := strings.EqualFold(userAnswer, main)
		for _, alt := range alternates {
			if utf8.RuneCountInString(alt) == 1 && strings.EqualFold(userAnswer, alt) {
				ok = true
			}
		}
		res.IsCorrect = ok
		res.MatchType = MatchNone
		if ok {
			res.MatchType = MatchExact
		}
		return res
	}

	if isNumeric(userAnswer) && isNumeric(main) {
		ok := userAnswer == main
		for _, alt := range alternates {
			if isNumeric(alt) && userAnswer == alt {
				ok = true
			}
		}
		res.IsCorrect = ok
		res.MatchType = MatchNone
		if ok {
			res.MatchType = MatchExact
		}
		return res
	}

	normUser := Normalize(userAnswer)
	normMain := Normalize(main)

	candidates := []string{normMain}
	for _, alt := range alternates {
		candidates = append(candidates, Normalize(alt))
	}
	// Split before normalizing; Normalize strips the semicolons.
	for _, clause := range strings.Split(main, ";") {
		if c := Normalize(clause); c != "" {
			candidates = append(candidates, c)
		}
	}

	for _, cand := range candidates {
		if normUser == cand {
			res.IsCorrect = true
			res.MatchType = MatchExact
			return res
		}
	}

	seen := make(map[string]bool)
	for _, cand := range candidates {
		if cand == "" || seen[cand] {
			continue
		}
		seen[cand] = true
		threshold := TypoThreshold(len(cand), strictness)
		if threshold == 0 {
			continue
		}
		dist := damerauLevenshtein(normUser, cand)
		if dist <= threshold {
			res.IsCorrect = true
			res.MatchType = MatchTypo
			res.Distance = dist
			res.AllowedDist = threshold
			return res
		}
	}

	if strictness < 5 {
		userWords := wordSet(normUser)
		correctWords := wordSet(normMain)
		common := 0
		for w := range userWords {
			if correctWords[w] {
				common++
			}
		}
		denom := len(userWords)
		if len(correctWords) > denom {
			denom = len(correctWords)
		}
		if denom > 0 {
			ratio := float64(common) / float64(denom)
			if ratio > 0.7 {
				res.IsCorrect = true
				res.MatchType = MatchWordOverlap
				res.OverlapRatio = ratio
				return res
			}
		}
	}

	res.MatchType = MatchNone
	return res
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
