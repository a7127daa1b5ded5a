package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiagnosisRejectsOutOfRangeScores(t *testing.T) {
	for _, score := range []int{-1, 0, 11, 100} {
		_, err := NewDiagnosis(DiagnosisInput{Classification: "disk full", Criticality: score})
		assert.True(t, errors.Is(err, ErrCriticalityOutOfRange), "score %d", score)
	}
	for score := MinCriticality; score <= MaxCriticality; score++ {
		_, err := NewDiagnosis(DiagnosisInput{Classification: "disk full", Criticality: score})
		assert.NoError(t, err, "score %d", score)
	}
}

func TestNewDiagnosisIsAllOrNothing(t *testing.T) {
	d, err := NewDiagnosis(DiagnosisInput{Classification: "   ", Criticality: 5})
	require.ErrorIs(t, err, ErrEmptyClassification)
	assert.Equal(t, Diagnosis{}, d)
}

func TestDiagnosisAnswerFallsBackToClassification(t *testing.T) {
	d, err := NewDiagnosis(DiagnosisInput{TicketID: "7", Classification: "password reset", Criticality: 2})
	require.NoError(t, err)
	assert.Equal(t, "password reset", d.Answer())
	assert.Equal(t, TicketTypeUnclassified, d.Type())

	d, err = NewDiagnosis(DiagnosisInput{Classification: "password reset", Answer: "Use the self-service portal.", Criticality: 2})
	require.NoError(t, err)
	assert.Equal(t, "Use the self-service portal.", d.Answer())
}

func TestDelegationTaskTransitionsForwardOnly(t *testing.T) {
	task := &DelegationTask{ID: "t1", TicketID: "42", Status: DelegationPending}

	require.NoError(t, task.Transition(DelegationRunning))
	assert.NotNil(t, task.StartedAt)
	assert.Error(t, task.Transition(DelegationPending))
	assert.Error(t, task.Transition(DelegationRunning))

	require.NoError(t, task.Transition(DelegationCompleted))
	assert.NotNil(t, task.FinishedAt)
	assert.True(t, task.Status.Terminal())
	assert.Error(t, task.Transition(DelegationFailed))
	assert.Error(t, task.Transition(DelegationPending))
}

func TestParseTicketType(t *testing.T) {
	cases := map[string]TicketType{
		"Incident":        TicketTypeIncident,
		"incidente":       TicketTypeIncident,
		"10":              TicketTypeIncident,
		"Service Request": TicketTypeServiceRequest,
		"14":              TicketTypeServiceRequest,
		"requerimiento":   TicketTypeRequirement,
		"question":        TicketTypeQuestion,
		"":                TicketTypeUnclassified,
		"RfC":             TicketTypeUnclassified,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseTicketType(raw), raw)
	}
	assert.Equal(t, 10, TicketTypeIncident.TypeID())
	assert.Equal(t, TicketTypeRequirement, TicketTypeFromID(19))
	assert.Equal(t, 0, TicketTypeQuestion.TypeID())
}

func TestTicketHasArticle(t *testing.T) {
	ticket := &Ticket{Articles: []Article{{Subject: "a", Body: "b"}}}
	assert.True(t, ticket.HasArticle("a", "b"))
	assert.False(t, ticket.HasArticle("a", "c"))
	assert.True(t, ticket.HasArticleSubject(" a "))
	assert.False(t, ticket.HasArticleSubject("b"))
}
