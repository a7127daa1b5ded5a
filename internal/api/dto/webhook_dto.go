package dto

import (
	"bytes"
	"encoding/json"
	"strings"
)

// TicketRef is a ticket identifier sent either as a JSON string or a number.
type TicketRef string

func (r *TicketRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = TicketRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = TicketRef(n.String())
	return nil
}

type ticketHolder struct {
	TicketID TicketRef `json:"TicketID"`
}

// WebhookRequest accepts the shapes Znuny's GenericInterface invoker produces:
// {"TicketID":..}, {"Ticket":{"TicketID":..}} and {"Event":{"TicketID":..}}.
type WebhookRequest struct {
	TicketID TicketRef     `json:"TicketID"`
	Ticket   *ticketHolder `json:"Ticket"`
	Event    *ticketHolder `json:"Event"`
}

// ResolveTicketID returns the first identifier found, preferring the event envelope.
func (r WebhookRequest) ResolveTicketID() string {
	if r.Event != nil && r.Event.TicketID != "" {
		return string(r.Event.TicketID)
	}
	if r.Ticket != nil && r.Ticket.TicketID != "" {
		return string(r.Ticket.TicketID)
	}
	return string(r.TicketID)
}

// ValidTicketID reports whether id looks like a platform ticket identifier.
func ValidTicketID(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
