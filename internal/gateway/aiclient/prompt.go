package aiclient

import (
	"fmt"
	"strings"

	"github.com/spec-kit/triage-service/internal/domain"
)

const systemPrompt = `You are the first-line triage agent of an IT support desk.
Read the ticket and answer with a single JSON object and nothing else:
{
  "type": "Incident" | "ServiceRequest" | "Requirement" | "Question",
  "classification": "one paragraph diagnosis of the problem",
  "answer": "reply for the requester, using the reference cases when they apply",
  "criticality": integer from 1 (cosmetic) to 10 (business stopped or security breach),
  "security_alert": true when the ticket suggests unauthorized access, data exfiltration, ransomware or similar,
  "affected_entity": "client, system or service affected, empty when unknown"
}
An Incident is something that used to work and is now broken. Requests for new access,
equipment or information are ServiceRequest. Requests for new functionality are Requirement.`

const maxReferenceChars = 1500

func buildUserPrompt(ticket *domain.Ticket, references []domain.KnowledgeArticle) string {
	var b strings.Builder
	if len(references) > 0 {
		b.WriteString("Reference cases from the knowledge base:\n")
		for i, ref := range references {
			content := ref.Content
			if len(content) > maxReferenceChars {
				content = content[:maxReferenceChars] + "..."
			}
			fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, ref.Title, content)
		}
		b.WriteString("\n---\n\n")
	}
	if ticket.CustomerID != "" {
		fmt.Fprintf(&b, "Customer: %s\n", ticket.CustomerID)
	}
	if ticket.Queue != "" {
		fmt.Fprintf(&b, "Queue: %s\n", ticket.Queue)
	}
	b.WriteString(ticket.Text())
	return b.String()
}

// stripCodeFence removes a surrounding markdown fence some models add even in JSON mode.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
}
