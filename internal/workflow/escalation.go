package workflow

// DefaultEscalationReason is used when no reason was given.
const DefaultEscalationReason = "request requires human judgment"

// Escalate marks a run for human review. It has no failure path and never
// touches the task store.
func Escalate(reason string, routingDefault bool) *EscalatedResult {
	if reason == "" {
		reason = DefaultEscalationReason
	}
	return &EscalatedResult{Reason: reason, RoutingDefault: routingDefault}
}
