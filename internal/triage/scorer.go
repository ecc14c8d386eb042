// Package triage holds the pure decision logic of the engine: severity
// scoring and action resolution. Nothing in this package performs I/O or
// holds state; both entry points are deterministic for identical inputs.
package triage

import (
	"sort"
	"strings"

	"github.com/carewire/triage/model"
)

// criticalTerms maps red-flag synonyms to a canonical term. Flags or
// symptoms matching any synonym contribute once per canonical term, so
// repeated synonyms do not double count.
var criticalTerms = map[string]string{
	"chest pain":            "chest pain",
	"chest tightness":       "chest pain",
	"difficulty breathing":  "difficulty breathing",
	"shortness of breath":   "difficulty breathing",
	"cannot breathe":        "difficulty breathing",
	"severe bleeding":       "severe bleeding",
	"uncontrolled bleeding": "severe bleeding",
	"loss of consciousness": "loss of consciousness",
	"unconscious":           "loss of consciousness",
	"fainted":               "loss of consciousness",
	"stroke":                "stroke symptoms",
	"face drooping":         "stroke symptoms",
	"slurred speech":        "stroke symptoms",
	"anaphylaxis":           "anaphylaxis",
	"throat swelling":       "anaphylaxis",
	"suicidal":              "self-harm risk",
	"self harm":             "self-harm risk",
}

// moderateTerms lists symptom tokens that indicate more than routine
// discomfort but short of an emergency.
var moderateTerms = []string{
	"fever", "vomiting", "nausea", "dehydration", "dizziness",
	"persistent pain", "pain", "migraine", "headache", "rash",
	"swelling", "infection", "wheezing", "palpitations", "fatigue",
}

const (
	criticalFlagPoints = 3
	moderatePoints     = 2
	unmatchedPoints    = 1
	maxScore           = 10
)

// Score thresholds for priority mapping.
const (
	criticalThreshold     = 9
	urgentThreshold       = 7
	moderateHighThreshold = 5
	moderateLowThreshold  = 3
)

// Result is the outcome of one scoring pass.
type Result struct {
	Score int
	Level string
	// RedFlags holds the canonical critical terms that matched, sorted.
	// The orchestrator compares consecutive assessments' sets to decide
	// whether a repeated critical result is a genuine re-escalation.
	RedFlags []string
	// RecommendedAction is the coarse care pathway for the level.
	RecommendedAction string
}

// Input is one classification signal in either shape: a pre-classified
// hint, or raw symptoms with optional self-reported severity.
type Input struct {
	Symptoms []string
	RedFlags []string
	// PriorityHint is RED, AMBER, or GREEN. When set it takes precedence
	// and the symptom-scoring path is skipped.
	PriorityHint string
	// ReportedSeverity is the subject's own 1..5 rating; 0 means absent.
	ReportedSeverity int
}

// Score computes the triage score and priority level for an input. It is
// pure and total: empty input yields score 0 and a mild level.
func Score(in Input) Result {
	if in.PriorityHint != "" {
		if r, ok := scoreFromHint(strings.ToUpper(in.PriorityHint), in.RedFlags); ok {
			return r
		}
	}

	score := 0
	if in.ReportedSeverity >= 1 && in.ReportedSeverity <= 5 {
		score = in.ReportedSeverity * 2
	}

	matched := matchCriticalTerms(append(append([]string{}, in.RedFlags...), in.Symptoms...))
	score += len(matched) * criticalFlagPoints

	for _, symptom := range in.Symptoms {
		switch {
		case matchesCritical(symptom):
			// Acute symptoms count at least as moderate on top of their
			// red-flag contribution.
			score += moderatePoints
		case matchesModerate(symptom):
			score += moderatePoints
		default:
			score += unmatchedPoints
		}
	}

	if score > maxScore {
		score = maxScore
	}

	level := levelForScore(score)
	return Result{
		Score:             score,
		Level:             level,
		RedFlags:          matched,
		RecommendedAction: recommendedAction(level),
	}
}

// scoreFromHint short-circuits scoring when the upstream classifier already
// banded the input.
func scoreFromHint(hint string, redFlags []string) (Result, bool) {
	var score int
	switch hint {
	case model.HintRed:
		score = 10
	case model.HintAmber:
		score = 7
	case model.HintGreen:
		score = 2
	default:
		return Result{}, false
	}
	level := levelForScore(score)
	return Result{
		Score:             score,
		Level:             level,
		RedFlags:          matchCriticalTerms(redFlags),
		RecommendedAction: recommendedAction(level),
	}, true
}

func levelForScore(score int) string {
	switch {
	case score >= criticalThreshold:
		return model.PriorityCritical
	case score >= urgentThreshold:
		return model.PriorityUrgent
	case score >= moderateHighThreshold:
		return model.PriorityModerateHigh
	case score >= moderateLowThreshold:
		return model.PriorityModerateLow
	default:
		return model.PriorityMild
	}
}

func recommendedAction(level string) string {
	switch level {
	case model.PriorityCritical:
		return "emergency"
	case model.PriorityUrgent:
		return "referral"
	default:
		return "self_care"
	}
}

// matchCriticalTerms returns the sorted set of canonical critical terms
// matched by any of the given tokens.
func matchCriticalTerms(tokens []string) []string {
	seen := make(map[string]bool)
	for _, token := range tokens {
		lower := strings.ToLower(token)
		for synonym, canonical := range criticalTerms {
			if strings.Contains(lower, synonym) {
				seen[canonical] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	result := make([]string, 0, len(seen))
	for term := range seen {
		result = append(result, term)
	}
	sort.Strings(result)
	return result
}

func matchesCritical(symptom string) bool {
	lower := strings.ToLower(symptom)
	for synonym := range criticalTerms {
		if strings.Contains(lower, synonym) {
			return true
		}
	}
	return false
}

func matchesModerate(symptom string) bool {
	lower := strings.ToLower(symptom)
	for _, term := range moderateTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// NewRedFlags returns the canonical flags in next that are absent from prev.
// A repeated critical assessment only re-escalates when this is non-empty.
func NewRedFlags(prev, next []string) []string {
	prevSet := make(map[string]bool, len(prev))
	for _, f := range prev {
		prevSet[f] = true
	}
	var added []string
	for _, f := range next {
		if !prevSet[f] {
			added = append(added, f)
		}
	}
	return added
}
