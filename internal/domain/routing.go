package domain

// RouteKind tags the RoutingDecision variant.
type RouteKind string

const (
	RouteRespondInline     RouteKind = "respond_inline"
	RouteDelegateAsync     RouteKind = "delegate_async"
	RouteEmergencyEscalate RouteKind = "emergency_escalate"
)

// Urgency orders delegated work inside the worker pool.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// RoutingDecision is the outcome of the escalation policy. Text is set for
// RouteRespondInline; Entity and TaskRef are set for the asynchronous variants.
type RoutingDecision struct {
	Kind    RouteKind
	Text    string
	Entity  string
	TaskRef string
	Urgency Urgency
}

// RespondInline builds the inline variant.
func RespondInline(text string) RoutingDecision {
	return RoutingDecision{Kind: RouteRespondInline, Text: text, Urgency: UrgencyNormal}
}

// DelegateAsync builds the asynchronous analysis variant.
func DelegateAsync(entity, taskRef string) RoutingDecision {
	return RoutingDecision{Kind: RouteDelegateAsync, Entity: entity, TaskRef: taskRef, Urgency: UrgencyNormal}
}

// EmergencyEscalate builds the emergency variant.
func EmergencyEscalate(entity, taskRef string) RoutingDecision {
	return RoutingDecision{Kind: RouteEmergencyEscalate, Entity: entity, TaskRef: taskRef, Urgency: UrgencyHigh}
}

// Delegates reports whether the decision requires a DelegationTask.
func (r RoutingDecision) Delegates() bool {
	return r.Kind == RouteDelegateAsync || r.Kind == RouteEmergencyEscalate
}
