// Package audit records what the service decided without keeping who it
// decided about: subjects appear only as keyed pseudonyms.
package audit

import "time"

// Action names the audited step.
type Action string

const (
	ActionVerificationRequested Action = "verification.requested"
	ActionVerificationCompleted Action = "verification.completed"
	ActionVerificationRejected  Action = "verification.rejected"
	ActionCredentialVerified    Action = "credential.verified"
	ActionBindingVerified       Action = "binding.verified"
)

// Event is emitted from domain logic. It is transport-agnostic so sinks can
// fan out, and it never carries a raw subject identifier.
type Event struct {
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id,omitempty"`
	Action           Action    `json:"action"`
	SubjectHash      string    `json:"subject_hash,omitempty"`
	Jurisdiction     string    `json:"jurisdiction,omitempty"`
	ClientID         string    `json:"client_id,omitempty"`
	ClientKind       string    `json:"client_kind,omitempty"`
	Outcome          string    `json:"outcome,omitempty"`
	MatchedRule      string    `json:"matched_rule,omitempty"`
	Default          bool      `json:"default,omitempty"`
	FactsResolved    int       `json:"facts_resolved,omitempty"`
	ConnectorsFailed []string  `json:"connectors_failed,omitempty"`
	TimedOut         bool      `json:"timed_out,omitempty"`
	SecurityCheck    string    `json:"security_check,omitempty"`
	Failure          string    `json:"failure,omitempty"`
	DurationMS       int64     `json:"duration_ms,omitempty"`
}
