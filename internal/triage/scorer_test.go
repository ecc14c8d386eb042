package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewire/triage/model"
)

func TestScore_emptyInput(t *testing.T) {
	r := Score(Input{})
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, model.PriorityMild, r.Level)
	assert.Empty(t, r.RedFlags)
}

func TestScore_acuteSymptomsEscalate(t *testing.T) {
	r := Score(Input{Symptoms: []string{"severe chest pain", "shortness of breath"}})

	require.Equal(t, model.PriorityCritical, r.Level)
	assert.GreaterOrEqual(t, r.Score, 9)
	assert.Equal(t, []string{"chest pain", "difficulty breathing"}, r.RedFlags)
	assert.Equal(t, "emergency", r.RecommendedAction)
}

func TestScore_hintPrecedence(t *testing.T) {
	tests := []struct {
		hint  string
		level string
	}{
		{"RED", model.PriorityCritical},
		{"AMBER", model.PriorityUrgent},
		{"amber", model.PriorityUrgent},
		{"GREEN", model.PriorityMild},
	}
	for _, tt := range tests {
		r := Score(Input{PriorityHint: tt.hint, Symptoms: []string{"headache"}})
		assert.Equal(t, tt.level, r.Level, "hint %s", tt.hint)
	}
}

func TestScore_hintIgnoresReportedSeverity(t *testing.T) {
	// A GREEN hint wins even when the subject self-reports maximum severity.
	r := Score(Input{PriorityHint: "GREEN", ReportedSeverity: 5})
	assert.Equal(t, model.PriorityMild, r.Level)
}

func TestScore_reportedSeverityBase(t *testing.T) {
	tests := []struct {
		severity int
		level    string
	}{
		{1, model.PriorityMild},          // 2
		{2, model.PriorityModerateLow},   // 4
		{3, model.PriorityModerateHigh},  // 6
		{4, model.PriorityUrgent},        // 8
		{5, model.PriorityCritical},      // 10
	}
	for _, tt := range tests {
		r := Score(Input{ReportedSeverity: tt.severity})
		assert.Equal(t, tt.severity*2, r.Score, "severity %d", tt.severity)
		assert.Equal(t, tt.level, r.Level, "severity %d", tt.severity)
	}
}

func TestScore_moderateAndUnmatchedSymptoms(t *testing.T) {
	r := Score(Input{Symptoms: []string{"fever", "vomiting"}})
	assert.Equal(t, 4, r.Score)
	assert.Equal(t, model.PriorityModerateLow, r.Level)

	r = Score(Input{Symptoms: []string{"itchy elbow"}})
	assert.Equal(t, 1, r.Score)
	assert.Equal(t, model.PriorityMild, r.Level)
}

func TestScore_synonymsCountOnce(t *testing.T) {
	single := Score(Input{RedFlags: []string{"difficulty breathing"}})
	doubled := Score(Input{RedFlags: []string{"difficulty breathing", "shortness of breath"}})

	assert.Equal(t, single.Score, doubled.Score)
	assert.Equal(t, []string{"difficulty breathing"}, doubled.RedFlags)
}

func TestScore_cappedAtTen(t *testing.T) {
	r := Score(Input{
		ReportedSeverity: 5,
		Symptoms:         []string{"chest pain", "severe bleeding", "fever", "vomiting"},
		RedFlags:         []string{"loss of consciousness"},
	})
	assert.Equal(t, 10, r.Score)
	assert.Equal(t, model.PriorityCritical, r.Level)
}

func TestScore_addingRedFlagNeverLowers(t *testing.T) {
	inputs := []Input{
		{},
		{Symptoms: []string{"headache"}},
		{Symptoms: []string{"fever", "cough"}, ReportedSeverity: 2},
		{Symptoms: []string{"chest pain"}},
	}
	for i, in := range inputs {
		before := Score(in)
		in.RedFlags = append(in.RedFlags, "severe bleeding")
		after := Score(in)
		assert.GreaterOrEqual(t, after.Score, before.Score, "input %d", i)
		assert.LessOrEqual(t, model.PriorityRank(after.Level), model.PriorityRank(before.Level), "input %d", i)
	}
}

func TestScore_deterministic(t *testing.T) {
	in := Input{Symptoms: []string{"fever", "chest pain"}, RedFlags: []string{"unconscious"}, ReportedSeverity: 3}
	first := Score(in)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Score(in))
	}
}

func TestNewRedFlags(t *testing.T) {
	assert.Empty(t, NewRedFlags([]string{"chest pain"}, []string{"chest pain"}))
	assert.Equal(t, []string{"severe bleeding"},
		NewRedFlags([]string{"chest pain"}, []string{"chest pain", "severe bleeding"}))
	assert.Equal(t, []string{"chest pain"}, NewRedFlags(nil, []string{"chest pain"}))
	assert.Empty(t, NewRedFlags([]string{"chest pain"}, nil))
}
