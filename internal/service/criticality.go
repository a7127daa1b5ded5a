package service

import (
	"regexp"
	"strings"

	"github.com/spec-kit/triage-service/internal/domain"
)

// securityMarkers match incident descriptions that always warrant a security alert.
var securityMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\bunauthori[sz]ed\s+(access|login|logon|entry)\b`),
	regexp.MustCompile(`\b(data\s+)?exfiltrat(ion|ed|ing)\b`),
	regexp.MustCompile(`\bransomware\b`),
	regexp.MustCompile(`\b(files?|disks?|servers?)\s+(were\s+|have\s+been\s+)?encrypted\b.*\bransom\b`),
	regexp.MustCompile(`\b(data|security)\s+breach\b`),
	regexp.MustCompile(`\b(compromised|stolen|leaked)\s+(account|credentials?|passwords?)\b`),
	regexp.MustCompile(`\bcredential\s+(theft|stuffing)\b`),
	regexp.MustCompile(`\bprivilege\s+escalation\b`),
	regexp.MustCompile(`\bacceso\s+no\s+autorizado\b`),
	regexp.MustCompile(`\bexfiltraci[oó]n\b`),
	regexp.MustCompile(`\bbrecha\s+de\s+seguridad\b`),
	regexp.MustCompile(`\bsecuestro\s+de\s+(datos|informaci[oó]n)\b`),
}

// CriticalityEvaluator turns a Diagnosis into a score and a security-alert flag. It holds
// no mutable state.
type CriticalityEvaluator struct {
	threshold int
}

func NewCriticalityEvaluator(threshold int) *CriticalityEvaluator {
	return &CriticalityEvaluator{threshold: threshold}
}

// Evaluate raises a security alert when the backend flagged one, when the diagnosis text
// matches a known high-severity marker, or when the score reaches the threshold.
func (e *CriticalityEvaluator) Evaluate(d domain.Diagnosis) domain.Criticality {
	score := d.Criticality()
	alert := d.SecurityAlert() || score >= e.threshold || matchesSecurityMarker(d.Classification()+"\n"+d.Answer())
	return domain.Criticality{Score: score, SecurityAlert: alert}
}

func matchesSecurityMarker(text string) bool {
	text = strings.ToLower(text)
	for _, marker := range securityMarkers {
		if marker.MatchString(text) {
			return true
		}
	}
	return false
}
