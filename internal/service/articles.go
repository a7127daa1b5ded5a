package service

import (
	"fmt"
	"strings"

	"github.com/spec-kit/triage-service/internal/domain"
)

const (
	// CriticalMarker prefixes the subject of emergency-escalated tickets.
	CriticalMarker = "[CRITICAL SECURITY ALERT]"

	emergencyProtocolSubject = "Emergency Protocol"

	processedByTag    = "[Processed by: triage-service]"
	processedByReport = "[Processed by: Error Log Monitor]"
	maxReportFindings = 5
	maxFindingMessage = 200
	ruler             = "======================================================="
	subRuler          = "---"
)

// EmergencyProtocol is prepended to the visible response of emergency-escalated tickets.
const EmergencyProtocol = `EMERGENCY PROTOCOL ACTIVATED
` + ruler + `
1. Page the on-call security engineer immediately; do not wait for the automated analysis.
2. Isolate the affected systems from the network where it is safe to do so.
3. Preserve evidence: do not reboot, wipe or restore affected hosts before forensics.
4. Revoke or rotate credentials that may be compromised.
5. Notify the incident manager and record every action taken in this ticket.
` + ruler

func markSubject(subject string) string {
	if strings.Contains(subject, CriticalMarker) {
		return subject
	}
	return strings.TrimSpace(CriticalMarker + " " + subject)
}

func inlineArticle(answer string) *domain.Article {
	return &domain.Article{
		Subject: "Automatic Diagnosis (AI)",
		Body:    processedByTag + "\n\n" + answer,
	}
}

func emergencyArticle(d domain.Diagnosis, crit domain.Criticality, entity string) *domain.Article {
	var b strings.Builder
	b.WriteString(processedByTag)
	b.WriteString("\n\n")
	b.WriteString(EmergencyProtocol)
	fmt.Fprintf(&b, "\n\nAffected entity: %s\nCriticality: %d/10\nSecurity alert: %t\n\n", entity, crit.Score, crit.SecurityAlert)
	b.WriteString("Initial diagnosis:\n")
	b.WriteString(d.Classification())
	b.WriteString("\n\nA detailed log analysis has been scheduled and will be appended to this ticket.")
	return &domain.Article{Subject: emergencyProtocolSubject, Body: b.String()}
}

func fallbackArticle(upstreamDown bool) *domain.Article {
	reason := "The automatic diagnosis could not interpret this ticket."
	if upstreamDown {
		reason = "The automatic diagnosis service is temporarily unavailable."
	}
	return &domain.Article{
		Subject: "Ticket received",
		Body: processedByTag + "\n\n" + reason +
			"\nYour request has been registered and will be reviewed by a support agent.",
	}
}

func manualFollowUpArticle(entity string) *domain.Article {
	return &domain.Article{
		Subject: "Manual follow-up required",
		Body: processedByTag + "\n\n" +
			"Automatic incident analysis is at capacity and could not be scheduled for " + entity + ".\n" +
			"This ticket has been flagged for manual follow-up by a support agent.",
	}
}

func reportArticle(task domain.DelegationTask, report *domain.AnalysisReport) *domain.Article {
	if report.LogsFound == 0 && len(report.Findings) == 0 {
		return &domain.Article{Subject: "Incident Diagnosis (Error Log)", Body: formatNoLogsFound(task)}
	}
	return &domain.Article{Subject: "Incident Diagnosis (Error Log)", Body: formatReport(task.Entity, report)}
}

func formatReport(entity string, report *domain.AnalysisReport) string {
	lines := []string{
		processedByReport,
		"",
		ruler,
		"INCIDENT DIAGNOSIS - " + entity,
		ruler,
		"",
		fmt.Sprintf("[INFO] %d fatal errors found in the last 2 hours.", report.LogsFound),
		"",
	}
	for i, f := range report.Findings {
		if i == maxReportFindings {
			break
		}
		lines = append(lines,
			fmt.Sprintf("%s Error %d %s", subRuler, i+1, subRuler),
			"Type: "+orNA(f.ErrorType, "Unknown"),
			"Severity: "+orNA(f.Severity, "N/A"),
			"Message: "+truncate(orNA(f.Message, "N/A"), maxFindingMessage),
			"Diagnosis: "+orNA(f.Summary, "N/A"),
			"Recommendation: "+orNA(f.Recommendation, "N/A"),
			"",
		)
	}
	if extra := len(report.Findings) - maxReportFindings; extra > 0 {
		lines = append(lines, fmt.Sprintf("... and %d additional errors.", extra), "")
	}
	lines = append(lines, ruler, "SUMMARY AND NEXT STEPS", ruler, report.Summary)
	return strings.Join(lines, "\n")
}

func formatNoLogsFound(task domain.DelegationTask) string {
	return strings.Join([]string{
		processedByReport,
		"",
		ruler,
		"INCIDENT DIAGNOSIS - " + task.Entity,
		ruler,
		"",
		fmt.Sprintf("[INFO] No fatal errors related to '%s' were found in the last 2 hours.", task.Entity),
		"",
		subRuler + " Initial Diagnosis " + subRuler,
		task.InitialDiagnosis,
		"",
		ruler,
		"NEXT STEPS",
		ruler,
		"- Check the server logs manually.",
		"- Contact the requester for more details about the problem.",
		"- Escalate to level 2 if the problem persists.",
	}, "\n")
}

func failureArticle(task domain.DelegationTask, cause error) *domain.Article {
	var b strings.Builder
	b.WriteString(processedByTag)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Automatic log analysis for %s could not be completed after %d attempt(s).\n", task.Entity, task.Attempts)
	if cause != nil {
		fmt.Fprintf(&b, "Last error: %s\n", truncate(cause.Error(), 300))
	}
	b.WriteString("\nInitial diagnosis:\n")
	b.WriteString(task.InitialDiagnosis)
	b.WriteString("\n\nA support agent must review this incident manually.")
	return &domain.Article{Subject: "Incident analysis failed", Body: b.String()}
}

func orNA(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
