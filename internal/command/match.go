// Package command intercepts recognized utterances that the device can
// answer locally, such as volume changes and leaving the conversation.
package command

import (
	"strconv"
	"strings"
	"unicode"
)

// Rule selects how keywords are matched against the utterance.
type Rule int

const (
	// RuleExact requires the whole utterance to equal a keyword.
	RuleExact Rule = iota
	// RulePartial accepts any keyword appearing as a substring.
	RulePartial
	// RuleValueExtract requires a keyword and then looks for a value or direction.
	RuleValueExtract
)

// Result reports how much of the utterance matched.
type Result int

const (
	ResultNone Result = iota
	ResultKeywordOnly
	ResultWithValue
)

// Direction is the adjustment requested by a ValueExtract match.
type Direction int

const (
	DirNone Direction = iota
	DirUp
	DirDown
	DirMax
	DirMin
	DirExactValue
	DirModifyValue
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirMax:
		return "max"
	case DirMin:
		return "min"
	case DirExactValue:
		return "exact_value"
	case DirModifyValue:
		return "modify_value"
	default:
		return "none"
	}
}

// Match is the outcome of matching one registration.
type Match struct {
	Result    Result
	Value     int
	Direction Direction
}

var (
	maxWords      = []string{"最大", "最高", "最响"}
	minWords      = []string{"最小", "最低", "最轻"}
	increaseWords = []string{"增加", "提高", "调高", "加"}
	decreaseWords = []string{"减少", "降低", "调低", "减"}
	upWords       = []string{"大", "高", "响亮"}
	downWords     = []string{"小", "低", "轻"}
)

// MatchText matches text against keywords under rule. upPhrase and downPhrase
// extend the built-in direction vocabulary; empty phrases add nothing.
func MatchText(text string, keywords []string, upPhrase, downPhrase string, rule Rule) Match {
	text = normalize(text)
	if text == "" {
		return Match{}
	}

	switch rule {
	case RuleExact:
		for _, kw := range keywords {
			if kw != "" && text == kw {
				return Match{Result: ResultKeywordOnly}
			}
		}
		return Match{}
	case RulePartial:
		if _, ok := findKeyword(text, keywords); ok {
			return Match{Result: ResultKeywordOnly}
		}
		return Match{}
	case RuleValueExtract:
		kw, ok := findKeyword(text, keywords)
		if !ok {
			return Match{}
		}
		return extract(strings.Replace(text, kw, " ", 1), upPhrase, downPhrase)
	default:
		return Match{}
	}
}

func extract(rest, upPhrase, downPhrase string) Match {
	if value, ok := firstNumber(rest); ok {
		switch {
		case containsAny(rest, decreaseWords):
			return Match{Result: ResultWithValue, Value: -value, Direction: DirModifyValue}
		case containsAny(rest, increaseWords):
			return Match{Result: ResultWithValue, Value: value, Direction: DirModifyValue}
		default:
			return Match{Result: ResultWithValue, Value: value, Direction: DirExactValue}
		}
	}

	switch {
	case containsAny(rest, maxWords):
		return Match{Result: ResultKeywordOnly, Direction: DirMax}
	case containsAny(rest, minWords):
		return Match{Result: ResultKeywordOnly, Direction: DirMin}
	case downPhrase != "" && strings.Contains(rest, downPhrase),
		containsAny(rest, downWords), containsAny(rest, decreaseWords):
		return Match{Result: ResultKeywordOnly, Direction: DirDown}
	case upPhrase != "" && strings.Contains(rest, upPhrase),
		containsAny(rest, upWords), containsAny(rest, increaseWords):
		return Match{Result: ResultKeywordOnly, Direction: DirUp}
	default:
		return Match{Result: ResultKeywordOnly}
	}
}

func findKeyword(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// firstNumber returns the first run of decimal digits, accepting full-width digits.
func firstNumber(text string) (int, bool) {
	var digits strings.Builder
	for _, r := range text {
		if r >= '０' && r <= '９' {
			r = '0' + (r - '０')
		}
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		if digits.Len() > 0 {
			break
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// normalize trims whitespace and punctuation the recognizer appends.
func normalize(text string) string {
	return strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}
