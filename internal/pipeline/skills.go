package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Routes a turn can take through the pipeline.
const (
	RouteMath = "math"
	RouteLLM  = "llm"
)

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	"hundred": 100, "thousand": 1000,
}

// operatorWords maps spoken operator phrases to canonical operations. Longer
// phrases are listed before their prefixes so matching picks the most
// specific one.
var operatorWords = []struct {
	word string
	op   string
}{
	{"added to", "add"},
	{"plus", "add"},
	{"add", "add"},
	{"and", "add"},
	{"take away", "subtract"},
	{"minus", "subtract"},
	{"subtract", "subtract"},
	{"less", "subtract"},
	{"multiplied by", "multiply"},
	{"times", "multiply"},
	{"multiply", "multiply"},
	{"divided by", "divide"},
	{"divided", "divide"},
	{"divide", "divide"},
}

var responseTemplates = map[string]string{
	"add":      "%s plus %s is %s.",
	"subtract": "%s minus %s is %s.",
	"multiply": "%s times %s is %s.",
	"divide":   "%s divided by %s is %s.",
}

var (
	questionWordsRe = regexp.MustCompile(`\b(what is|what's|whats|tell me|calculate)\b`)
	digitRe         = regexp.MustCompile(`-?\d+\.?\d*`)
)

// MathSkill answers simple arithmetic questions deterministically so they
// never round-trip through the LLM.
type MathSkill struct{}

// NewMathSkill creates the math skill.
func NewMathSkill() *MathSkill {
	return &MathSkill{}
}

// Try answers the transcript if it is an arithmetic question. Returns ok
// false when the question should go to the LLM instead.
func (m *MathSkill) Try(transcript string) (response string, ok bool) {
	if !isMathQuery(transcript) {
		return "", false
	}

	op, a, b, parsed := parseMathExpression(transcript)
	if !parsed {
		// Looked like math but did not parse; let the LLM handle it.
		return "", false
	}

	result, err := computeMath(op, a, b)
	if err != nil {
		// Kid-friendly refusal, still a math answer.
		return err.Error(), true
	}
	return formatMathResponse(op, a, b, result), true
}

func isMathQuery(text string) bool {
	text = strings.ToLower(text)

	hasOperator := false
	for _, o := range operatorWords {
		if strings.Contains(text, o.word) {
			hasOperator = true
			break
		}
	}
	if hasOperator {
		return true
	}

	if strings.Contains(text, "what is") || strings.Contains(text, "what's") {
		if digitRe.MatchString(text) {
			return true
		}
	}
	return false
}

func parseMathExpression(text string) (op string, a, b float64, ok bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.TrimSpace(questionWordsRe.ReplaceAllString(text, ""))

	var opWord string
	for _, o := range operatorWords {
		if strings.Contains(text, o.word) {
			op, opWord = o.op, o.word
			break
		}
	}
	if op == "" {
		return "", 0, 0, false
	}

	left, right, found := strings.Cut(text, opWord)
	if !found {
		return "", 0, 0, false
	}

	a, okA := extractNumber(left)
	b, okB := extractNumber(right)
	if !okA || !okB {
		return "", 0, 0, false
	}
	return op, a, b, true
}

func extractNumber(text string) (float64, bool) {
	text = strings.TrimSpace(text)

	if m := digitRe.FindString(text); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return v, true
		}
	}

	for _, word := range strings.Fields(text) {
		if v, ok := wordToNumber(word); ok {
			return v, true
		}
	}

	// Compound numbers like "twenty three".
	if v, ok := wordToNumber(text); ok {
		return v, true
	}
	return 0, false
}

func wordToNumber(text string) (float64, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "a" || text == "an" {
		return 1, true
	}
	if v, ok := numberWords[text]; ok {
		return float64(v), true
	}
	parts := strings.Fields(text)
	if len(parts) == 2 {
		v1, ok1 := numberWords[parts[0]]
		v2, ok2 := numberWords[parts[1]]
		if ok1 && ok2 {
			return float64(v1 + v2), true
		}
	}
	return 0, false
}

func computeMath(op string, a, b float64) (float64, error) {
	switch op {
	case "add":
		return a + b, nil
	case "subtract":
		return a - b, nil
	case "multiply":
		return a * b, nil
	case "divide":
		if b == 0 {
			return 0, fmt.Errorf("I can't divide by zero. Try another number.")
		}
		return a / b, nil
	default:
		return 0, fmt.Errorf("unknown operator %q", op)
	}
}

func formatMathResponse(op string, a, b, result float64) string {
	template, ok := responseTemplates[op]
	if !ok {
		template = "%s %s equals %s."
	}
	aStr := numberToWords(a)
	return fmt.Sprintf(template, strings.ToUpper(aStr[:1])+aStr[1:], numberToWords(b), numberToWords(result))
}

// numberToWords spells small whole numbers; anything else stays numeric.
func numberToWords(v float64) string {
	if v == float64(int(v)) {
		n := int(v)
		if n >= 0 && n <= 20 {
			for word, val := range numberWords {
				if val == n {
					return word
				}
			}
		}
		return strconv.Itoa(n)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
