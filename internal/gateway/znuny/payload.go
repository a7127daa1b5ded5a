package znuny

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/triage-service/internal/domain"
)

// flexString accepts JSON strings, numbers and null. Znuny returns identifiers in either
// form depending on the webservice mapping.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

type apiError struct {
	ErrorCode    string `json:"ErrorCode"`
	ErrorMessage string `json:"ErrorMessage"`
}

type sessionRequest struct {
	UserLogin string `json:"UserLogin"`
	Password  string `json:"Password"`
}

type sessionResponse struct {
	SessionID string    `json:"SessionID"`
	Error     *apiError `json:"Error"`
}

type articlePayload struct {
	ArticleID  flexString `json:"ArticleID"`
	Subject    string     `json:"Subject"`
	Body       string     `json:"Body"`
	CreateTime string     `json:"CreateTime"`
}

type ticketPayload struct {
	TicketID     flexString       `json:"TicketID"`
	TicketNumber flexString       `json:"TicketNumber"`
	Title        string           `json:"Title"`
	Type         string           `json:"Type"`
	TypeID       flexString       `json:"TypeID"`
	Priority     string           `json:"Priority"`
	PriorityID   flexString       `json:"PriorityID"`
	CustomerID   string           `json:"CustomerID"`
	Queue        string           `json:"Queue"`
	State        string           `json:"State"`
	Created      string           `json:"Created"`
	Article      []articlePayload `json:"Article"`
}

// ticketGetResponse tolerates Ticket as either a list or a single object.
type ticketGetResponse struct {
	Ticket json.RawMessage `json:"Ticket"`
	Error  *apiError       `json:"Error"`
}

func (r ticketGetResponse) first() (*ticketPayload, error) {
	raw := bytes.TrimSpace(r.Ticket)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []ticketPayload
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}
	var single ticketPayload
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return &single, nil
}

type articleRequest struct {
	Subject     string `json:"Subject"`
	Body        string `json:"Body"`
	ContentType string `json:"ContentType"`
}

type ticketUpdateRequest struct {
	SessionID string          `json:"SessionID"`
	TicketID  string          `json:"TicketID"`
	Ticket    map[string]any  `json:"Ticket,omitempty"`
	Article   *articleRequest `json:"Article,omitempty"`
}

type ticketUpdateResponse struct {
	TicketID  flexString `json:"TicketID"`
	ArticleID flexString `json:"ArticleID"`
	Error     *apiError  `json:"Error"`
}

const timeLayout = "2006-01-02 15:04:05"

func (p *ticketPayload) toDomain() *domain.Ticket {
	ticket := &domain.Ticket{
		ID:         string(p.TicketID),
		Number:     string(p.TicketNumber),
		Subject:    p.Title,
		CustomerID: p.CustomerID,
		Queue:      p.Queue,
		State:      p.State,
		Type:       parseType(p),
		Priority:   parsePriority(p),
		CreatedAt:  parseTime(p.Created),
	}
	for _, art := range p.Article {
		ticket.Articles = append(ticket.Articles, domain.Article{
			ID:        string(art.ArticleID),
			Subject:   art.Subject,
			Body:      art.Body,
			CreatedAt: parseTime(art.CreateTime),
		})
	}
	// The first article holds the requester's original message.
	if len(ticket.Articles) > 0 {
		ticket.Body = ticket.Articles[0].Body
		if ticket.Subject == "" {
			ticket.Subject = ticket.Articles[0].Subject
		}
	}
	return ticket
}

func parseType(p *ticketPayload) domain.TicketType {
	if id, err := strconv.Atoi(string(p.TypeID)); err == nil {
		if t := domain.TicketTypeFromID(id); t != domain.TicketTypeUnclassified {
			return t
		}
	}
	return domain.ParseTicketType(p.Type)
}

// parsePriority reads PriorityID, falling back to the leading digit of names like "3 normal".
func parsePriority(p *ticketPayload) domain.TicketPriority {
	if id, err := strconv.Atoi(string(p.PriorityID)); err == nil && domain.TicketPriority(id).Valid() {
		return domain.TicketPriority(id)
	}
	name := strings.TrimSpace(p.Priority)
	if name != "" {
		if id, err := strconv.Atoi(name[:1]); err == nil && domain.TicketPriority(id).Valid() {
			return domain.TicketPriority(id)
		}
	}
	return domain.TicketPriorityNormal
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.ParseInLocation(timeLayout, raw, time.UTC); err == nil {
		return ts
	}
	return time.Time{}
}
