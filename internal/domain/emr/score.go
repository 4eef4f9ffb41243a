package emr

import (
	"encoding/json"
	"fmt"
)

type band struct {
	upTo     int
	severity string
}

// instrument describes a scored questionnaire: items answered 0..3 each.
type instrument struct {
	items int
	bands []band
}

var instruments = map[string]instrument{
	InstrumentPHQ9: {items: 9, bands: []band{
		{4, "minimal"}, {9, "mild"}, {14, "moderate"}, {19, "moderately_severe"}, {27, "severe"},
	}},
	InstrumentGAD7: {items: 7, bands: []band{
		{4, "minimal"}, {9, "mild"}, {14, "moderate"}, {21, "severe"},
	}},
}

func (in instrument) maxScore() int { return in.items * 3 }

func (in instrument) severity(score int) string {
	for _, b := range in.bands {
		if score <= b.upTo {
			return b.severity
		}
	}
	return in.bands[len(in.bands)-1].severity
}

// Severity maps a PHQ-9 or GAD-7 score to its band. ok is false for unknown
// instruments and out-of-range scores.
func Severity(assessmentType string, score int) (string, bool) {
	in, known := instruments[assessmentType]
	if !known || score < 0 || score > in.maxScore() {
		return "", false
	}
	return in.severity(score), true
}

// scoreResponses sums item answers given as a JSON array of integers.
func (in instrument) scoreResponses(raw json.RawMessage) (int, error) {
	var answers []int
	if err := json.Unmarshal(raw, &answers); err != nil {
		return 0, fmt.Errorf("%w: responses must be an array of %d integers", ErrInvalidScore, in.items)
	}
	if len(answers) != in.items {
		return 0, fmt.Errorf("%w: expected %d responses, got %d", ErrInvalidScore, in.items, len(answers))
	}
	total := 0
	for i, a := range answers {
		if a < 0 || a > 3 {
			return 0, fmt.Errorf("%w: response %d must be between 0 and 3", ErrInvalidScore, i+1)
		}
		total += a
	}
	return total, nil
}

// score fills Score and Severity of a for known instruments. A given score
// wins over responses; a given severity is kept.
func score(a *Assessment) error {
	in, known := instruments[a.AssessmentType]
	if !known {
		return nil
	}
	if a.Score == nil {
		if len(a.Responses) == 0 || string(a.Responses) == "[]" {
			return nil
		}
		total, err := in.scoreResponses(a.Responses)
		if err != nil {
			return err
		}
		a.Score = &total
	}
	if *a.Score > in.maxScore() {
		return fmt.Errorf("%w: %s scores range 0-%d", ErrInvalidScore, a.AssessmentType, in.maxScore())
	}
	if a.Severity == nil {
		sev := in.severity(*a.Score)
		a.Severity = &sev
	}
	return nil
}
