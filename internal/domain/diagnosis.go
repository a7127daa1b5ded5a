package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Criticality score bounds.
const (
	MinCriticality = 1
	MaxCriticality = 10
)

// ErrCriticalityOutOfRange is returned when a score falls outside [1,10].
var ErrCriticalityOutOfRange = errors.New("criticality out of range")

// ErrEmptyClassification is returned when the diagnosis carries no classification text.
var ErrEmptyClassification = errors.New("classification is empty")

// DiagnosisInput is the raw material a gateway collects before building a Diagnosis.
type DiagnosisInput struct {
	TicketID       string
	Type           TicketType
	Classification string
	Answer         string
	Criticality    int
	SecurityAlert  bool
	AffectedEntity string
}

// Diagnosis is the immutable outcome of one triage pass.
type Diagnosis struct {
	ticketID       string
	ticketType     TicketType
	classification string
	answer         string
	criticality    int
	securityAlert  bool
	affectedEntity string
	createdAt      time.Time
}

// NewDiagnosis validates the input and returns a complete Diagnosis, or an error and
// no Diagnosis at all.
func NewDiagnosis(in DiagnosisInput) (Diagnosis, error) {
	if in.Criticality < MinCriticality || in.Criticality > MaxCriticality {
		return Diagnosis{}, fmt.Errorf("%w: %d", ErrCriticalityOutOfRange, in.Criticality)
	}
	classification := strings.TrimSpace(in.Classification)
	if classification == "" {
		return Diagnosis{}, ErrEmptyClassification
	}
	ticketType := in.Type
	if ticketType == "" {
		ticketType = TicketTypeUnclassified
	}
	return Diagnosis{
		ticketID:       in.TicketID,
		ticketType:     ticketType,
		classification: classification,
		answer:         strings.TrimSpace(in.Answer),
		criticality:    in.Criticality,
		securityAlert:  in.SecurityAlert,
		affectedEntity: strings.TrimSpace(in.AffectedEntity),
		createdAt:      time.Now().UTC(),
	}, nil
}

func (d Diagnosis) TicketID() string       { return d.ticketID }
func (d Diagnosis) Type() TicketType       { return d.ticketType }
func (d Diagnosis) Classification() string { return d.classification }
func (d Diagnosis) Criticality() int       { return d.criticality }
func (d Diagnosis) SecurityAlert() bool    { return d.securityAlert }
func (d Diagnosis) AffectedEntity() string { return d.affectedEntity }
func (d Diagnosis) CreatedAt() time.Time   { return d.createdAt }

// Answer returns the knowledge-base answer, falling back to the classification text.
func (d Diagnosis) Answer() string {
	if d.answer != "" {
		return d.answer
	}
	return d.classification
}

// Criticality is the evaluator's verdict for a Diagnosis.
type Criticality struct {
	Score         int
	SecurityAlert bool
}
