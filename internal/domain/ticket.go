package domain

import (
	"strings"
	"time"
)

// TicketType enumerates the ticket classes the triage pipeline distinguishes.
type TicketType string

const (
	TicketTypeIncident       TicketType = "Incident"
	TicketTypeServiceRequest TicketType = "ServiceRequest"
	TicketTypeRequirement    TicketType = "Requirement"
	TicketTypeQuestion       TicketType = "Question"
	TicketTypeUnclassified   TicketType = "Unclassified"
)

// Znuny type identifiers used by the support desk.
var ticketTypeIDs = map[TicketType]int{
	TicketTypeIncident:       10,
	TicketTypeServiceRequest: 14,
	TicketTypeRequirement:    19,
}

// TypeID returns the ticketing platform identifier for the type, or 0 when the type has
// no platform counterpart.
func (t TicketType) TypeID() int {
	return ticketTypeIDs[t]
}

// TicketTypeFromID maps a platform type identifier back to a TicketType.
func TicketTypeFromID(id int) TicketType {
	for t, candidate := range ticketTypeIDs {
		if candidate == id {
			return t
		}
	}
	return TicketTypeUnclassified
}

// ParseTicketType normalizes free-form type names from the platform or the AI backend.
func ParseTicketType(raw string) TicketType {
	switch normalizeToken(raw) {
	case "incident", "incidente", "10":
		return TicketTypeIncident
	case "servicerequest", "request", "peticion", "petición", "14":
		return TicketTypeServiceRequest
	case "requirement", "requerimiento", "featurerequest", "19":
		return TicketTypeRequirement
	case "question", "pregunta", "inquiry":
		return TicketTypeQuestion
	default:
		return TicketTypeUnclassified
	}
}

func normalizeToken(raw string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(raw)))
}

// TicketPriority mirrors the five platform priority levels.
type TicketPriority int

const (
	TicketPriorityVeryLow  TicketPriority = 1
	TicketPriorityLow      TicketPriority = 2
	TicketPriorityNormal   TicketPriority = 3
	TicketPriorityHigh     TicketPriority = 4
	TicketPriorityVeryHigh TicketPriority = 5
)

// Valid reports whether the priority is one of the platform levels.
func (p TicketPriority) Valid() bool {
	return p >= TicketPriorityVeryLow && p <= TicketPriorityVeryHigh
}

// Ticket is a read-only snapshot of a ticket owned by the ticketing platform.
type Ticket struct {
	ID         string
	Number     string
	Subject    string
	Body       string
	Type       TicketType
	Priority   TicketPriority
	CustomerID string
	Queue      string
	State      string
	Articles   []Article
	CreatedAt  time.Time
}

// Text renders the ticket content handed to the diagnosis backend.
func (t *Ticket) Text() string {
	return "Subject: " + t.Subject + "\n---\nBody:\n" + t.Body
}

// HasArticle reports whether an article with identical subject and body already exists.
// Surrounding whitespace is ignored.
func (t *Ticket) HasArticle(subject, body string) bool {
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	for _, art := range t.Articles {
		if strings.TrimSpace(art.Subject) == subject && strings.TrimSpace(art.Body) == body {
			return true
		}
	}
	return false
}

// HasArticleSubject reports whether any article carries the given subject.
func (t *Ticket) HasArticleSubject(subject string) bool {
	subject = strings.TrimSpace(subject)
	for _, art := range t.Articles {
		if strings.TrimSpace(art.Subject) == subject {
			return true
		}
	}
	return false
}

// Article is one entry of the ticket thread.
type Article struct {
	ID        string
	Subject   string
	Body      string
	CreatedAt time.Time
}

// TicketUpdate lists the fields the pipeline writes back. Nil fields are left untouched.
type TicketUpdate struct {
	Subject  *string
	Priority *TicketPriority
	Type     *TicketType
	Article  *Article
}

// Empty reports whether the update carries no change.
func (u TicketUpdate) Empty() bool {
	return u.Subject == nil && u.Priority == nil && u.Type == nil && u.Article == nil
}
