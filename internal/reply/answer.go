// ABOUTME: Normalizes knowledge-agent replies used for knowledge base test queries
// ABOUTME: Extracts answer, confidence and sources with display fallbacks

package reply

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NoAnswerText is used when a knowledge reply carries no answer
const NoAnswerText = "No answer found"

// notAvailable renders a missing confidence or sources value
const notAvailable = "N/A"

// Answer is a normalized knowledge base answer.
type Answer struct {
	Answer     string `json:"answer"`
	Confidence string `json:"confidence"`
	Sources    string `json:"sources"`
}

// String renders the answer the way the console's test panel shows it.
func (a Answer) String() string {
	return fmt.Sprintf("Answer: %s\n\nConfidence: %s\nSources: %s", a.Answer, a.Confidence, a.Sources)
}

type answerData struct {
	Answer     any `json:"answer"`
	Confidence any `json:"confidence"`
	Sources    any `json:"sources"`
}

// NormalizeAnswer resolves a knowledge-agent payload. The answer comes from
// the data object's answer, then result.summary, then message, then NoAnswerText.
func NormalizeAnswer(raw json.RawMessage) Answer {
	p := decode(raw)

	var env envelope
	var data answerData
	if decodeObject(raw, &env) {
		var res resultBody
		if decodeObject(env.Result, &res) {
			dataRaw := env.Result
			if isObject(res.Data) {
				dataRaw = res.Data
			}
			decodeObject(dataRaw, &data)
		}
	}

	a := Answer{
		Answer:     NoAnswerText,
		Confidence: displayValue(data.Confidence),
		Sources:    displayValue(data.Sources),
	}
	switch {
	case nonEmpty(data.Answer) != "":
		a.Answer = nonEmpty(data.Answer)
	case p.summary != "":
		a.Answer = p.summary
	case p.message != "":
		a.Answer = p.message
	}
	return a
}

// displayValue renders strings, numbers and lists of them; anything else is N/A.
func displayValue(v any) string {
	switch val := v.(type) {
	case string:
		if val != "" {
			return val
		}
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := displayValue(item); s != notAvailable {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	case map[string]any:
		for _, key := range []string{"title", "name", "source", "file_name"} {
			if s, ok := val[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return notAvailable
}
