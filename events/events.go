// Package events defines the tenant-scoped event fabric: the closed union of
// typed events carried from background producers to live subscribers, the
// channel naming scheme that enforces tenant isolation, and the Hub contract
// implemented by transports (see events/redis).
//
// Events are client-facing updates. They are not an observability surface:
// internal diagnostics go through logging and telemetry, never through the
// fabric. All event types embed Base so hubs can marshal them generically;
// consumers type-assert when they need structured field access.
package events

import (
	"encoding/json"
	"fmt"
)

// EventType tags a member of the closed event union. The tag is the wire value
// written to the `event:` line of each frame.
type EventType string

// Conversation stream events.
const (
	EventAgentStart          EventType = "agent-start"
	EventAgentProgress       EventType = "agent-progress"
	EventAgentComplete       EventType = "agent-complete"
	EventContentDelta        EventType = "content-delta"
	EventLegalSource         EventType = "legal-source"
	EventCaseLawSource       EventType = "case-law-source"
	EventCompanyPolicySource EventType = "company-policy-source"
	EventConfidenceUpdate    EventType = "confidence-update"
	EventUsageMetrics        EventType = "usage-metrics"
	EventVerificationResult  EventType = "verification-result"
	EventMessageState        EventType = "message-state"
	EventMessageComplete     EventType = "message-complete"
	EventConversationState   EventType = "conversation-state"
	EventConversationCancel  EventType = "conversation-cancelled"
	EventError               EventType = "error"
)

// Policy review stream events.
const (
	EventPolicyReviewStatus           EventType = "policy-review-status"
	EventPolicyReviewCitationProgress EventType = "policy-review-citation-progress"
	EventPolicyReviewComplete         EventType = "policy-review-complete"
	EventPolicyReviewFailed           EventType = "policy-review-failed"
)

// User push events.
const (
	EventConversationTitleUpdating EventType = "conversation-title-updating"
	EventConversationTitleUpdated  EventType = "conversation-title-updated"
	EventPolicyReviewCreated       EventType = "policy-review-created"
	EventRegulatoryChangeAlert     EventType = "regulatory-change-alert"
	EventCreditUsageWarning        EventType = "credit-usage-warning"
	EventIngestionStarted          EventType = "ingestion-started"
	EventIngestionProgress         EventType = "ingestion-progress"
	EventIngestionCompleted        EventType = "ingestion-completed"
	EventIngestionFailed           EventType = "ingestion-failed"
)

type (
	// Event is a member of the closed event union. Implementations are
	// immutable after construction and safe to publish concurrently.
	Event interface {
		// Type returns the event type tag written to the wire.
		Type() EventType
		// Payload returns the event-specific data in a JSON-serializable
		// form. Hubs marshal this into the frame's data line.
		Payload() any
	}

	// Base provides the standard Event implementation embedded by every
	// concrete event type.
	Base struct {
		eventType EventType
		payload   any
	}

	// AgentStart announces that a named pipeline stage began work.
	AgentStart struct {
		Base
		Data AgentStartPayload
	}

	// AgentStartPayload names the stage and describes its task.
	AgentStartPayload struct {
		Name string `json:"name"`
		Task string `json:"task,omitempty"`
	}

	// AgentProgress reports intermediate status from a running stage.
	AgentProgress struct {
		Base
		Data AgentProgressPayload
	}

	// AgentProgressPayload carries the stage name and a status string.
	AgentProgressPayload struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}

	// AgentComplete announces that a named stage finished. When the stage
	// failed, Error describes the failure; consumers treat a non-nil Error as
	// a terminal outcome for the stage.
	AgentComplete struct {
		Base
		Data AgentCompletePayload
	}

	// AgentCompletePayload carries the stage name, its duration, and an
	// optional error for failed stages.
	AgentCompletePayload struct {
		Name       string        `json:"name"`
		DurationMS int64         `json:"duration_ms"`
		Error      *ErrorPayload `json:"error,omitempty"`
	}

	// ContentDelta streams an incremental fragment of generated assistant
	// text. Clients concatenate Text from sequential deltas to reconstruct
	// the full message.
	ContentDelta struct {
		Base
		Data ContentDeltaPayload
	}

	// ContentDeltaPayload carries one text fragment.
	ContentDeltaPayload struct {
		Text string `json:"text"`
	}

	// LegalSource announces a retrieved UK legislation source.
	LegalSource struct {
		Base
		Data LegalSourcePayload
	}

	// LegalSourcePayload identifies the act and section backing a source.
	// Status distinguishes current from historical (pre-1963) instruments.
	LegalSourcePayload struct {
		Act     string `json:"act"`
		Section string `json:"section,omitempty"`
		URI     string `json:"uri,omitempty"`
		Status  string `json:"status,omitempty"`
	}

	// CaseLawSource announces a retrieved case-law source.
	CaseLawSource struct {
		Base
		Data CaseLawSourcePayload
	}

	// CaseLawSourcePayload identifies the case and its neutral citation.
	CaseLawSourcePayload struct {
		Case     string `json:"case"`
		Citation string `json:"citation,omitempty"`
		URI      string `json:"uri,omitempty"`
	}

	// CompanyPolicySource announces a retrieved internal policy source.
	CompanyPolicySource struct {
		Base
		Data CompanyPolicySourcePayload
	}

	// CompanyPolicySourcePayload identifies the policy document and chunk.
	CompanyPolicySourcePayload struct {
		Name     string `json:"name"`
		Category string `json:"category,omitempty"`
		URI      string `json:"uri,omitempty"`
	}

	// ConfidenceUpdate reports the confidence level assigned to the
	// assistant message under construction.
	ConfidenceUpdate struct {
		Base
		Data ConfidenceUpdatePayload
	}

	// ConfidenceUpdatePayload carries the level (low/medium/high) and the
	// reason the scorer chose it.
	ConfidenceUpdatePayload struct {
		Level  string `json:"level"`
		Reason string `json:"reason,omitempty"`
	}

	// UsageMetrics reports token usage for a model invocation.
	UsageMetrics struct {
		Base
		Data UsageMetricsPayload
	}

	// UsageMetricsPayload attributes token counts to a model identifier.
	UsageMetricsPayload struct {
		Model        string `json:"model"`
		InputTokens  int    `json:"in_tokens"`
		OutputTokens int    `json:"out_tokens"`
	}

	// VerificationResult summarises a citation verification pass.
	VerificationResult struct {
		Base
		Data VerificationResultPayload
	}

	// VerificationResultPayload carries the aggregate counts and the
	// human-readable issue list for unverified and removed citations.
	VerificationResultPayload struct {
		Checked  int      `json:"checked"`
		Verified int      `json:"verified"`
		Issues   []string `json:"issues,omitempty"`
	}

	// MessageState reports a message state transition.
	MessageState struct {
		Base
		Data MessageStatePayload
	}

	// MessageStatePayload identifies the message and its new state.
	MessageStatePayload struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}

	// MessageComplete marks an assistant message as finalised.
	MessageComplete struct {
		Base
		Data MessageCompletePayload
	}

	// MessageCompletePayload identifies the completed message.
	MessageCompletePayload struct {
		ID string `json:"id"`
	}

	// ConversationState reports a conversation state transition.
	ConversationState struct {
		Base
		Data ConversationStatePayload
	}

	// ConversationStatePayload carries the new conversation state.
	ConversationStatePayload struct {
		State string `json:"state"`
	}

	// ConversationCancelled signals that the active invocation was cancelled
	// at the user's request.
	ConversationCancelled struct {
		Base
		Data ConversationCancelledPayload
	}

	// ConversationCancelledPayload identifies the cancelled invocation.
	ConversationCancelledPayload struct {
		InvocationID string `json:"invocation_id,omitempty"`
	}

	// Error terminates a stream or reports a recoverable fault. Recoverable
	// errors invite the client to reconnect with its last event identifier;
	// non-recoverable errors indicate the stream will not resume.
	Error struct {
		Base
		Data ErrorPayload
	}

	// ErrorPayload carries the stable error code, message, and whether the
	// client should retry.
	ErrorPayload struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		Recoverable bool   `json:"recoverable"`
	}

	// PolicyReviewStatus reports review progress as human-readable text
	// alongside the machine state.
	PolicyReviewStatus struct {
		Base
		Data PolicyReviewStatusPayload
	}

	// PolicyReviewStatusPayload carries the review state and status text.
	PolicyReviewStatusPayload struct {
		State string `json:"state"`
		Text  string `json:"text,omitempty"`
	}

	// PolicyReviewCitationProgress reports per-criterion evaluation progress.
	PolicyReviewCitationProgress struct {
		Base
		Data PolicyReviewCitationProgressPayload
	}

	// PolicyReviewCitationProgressPayload counts evaluated criteria.
	PolicyReviewCitationProgressPayload struct {
		SoFar int `json:"so_far"`
		Total int `json:"total"`
	}

	// PolicyReviewComplete announces that a review reached the complete
	// state and its result is persisted.
	PolicyReviewComplete struct {
		Base
		Data PolicyReviewCompletePayload
	}

	// PolicyReviewCompletePayload identifies the completed review.
	PolicyReviewCompletePayload struct {
		ID string `json:"id"`
	}

	// PolicyReviewFailed announces that a review transitioned to error.
	PolicyReviewFailed struct {
		Base
		Data PolicyReviewFailedPayload
	}

	// PolicyReviewFailedPayload carries the mapped error code and message.
	PolicyReviewFailedPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	// ConversationTitleUpdating signals that title generation started.
	ConversationTitleUpdating struct {
		Base
		Data ConversationTitleUpdatingPayload
	}

	// ConversationTitleUpdatingPayload identifies the conversation.
	ConversationTitleUpdatingPayload struct {
		ConversationID string `json:"conversation_id"`
	}

	// ConversationTitleUpdated delivers the generated conversation title.
	ConversationTitleUpdated struct {
		Base
		Data ConversationTitleUpdatedPayload
	}

	// ConversationTitleUpdatedPayload carries the new title.
	ConversationTitleUpdatedPayload struct {
		ConversationID string `json:"conversation_id"`
		Title          string `json:"title"`
	}

	// PolicyReviewCreated notifies the user that a review was enqueued.
	PolicyReviewCreated struct {
		Base
		Data PolicyReviewCreatedPayload
	}

	// PolicyReviewCreatedPayload identifies the new review.
	PolicyReviewCreatedPayload struct {
		ID string `json:"id"`
	}

	// RegulatoryChangeAlert notifies the user of detected legislation
	// dataset changes.
	RegulatoryChangeAlert struct {
		Base
		Data RegulatoryChangeAlertPayload
	}

	// RegulatoryChangeAlertPayload summarises detected changes.
	RegulatoryChangeAlertPayload struct {
		Summary string   `json:"summary"`
		Changes []string `json:"changes,omitempty"`
	}

	// CreditUsageWarning notifies the user of approaching usage limits.
	CreditUsageWarning struct {
		Base
		Data CreditUsageWarningPayload
	}

	// CreditUsageWarningPayload carries used/limit counters.
	CreditUsageWarningPayload struct {
		Used  int64 `json:"used"`
		Limit int64 `json:"limit"`
	}

	// IngestionUpdate reports document ingestion lifecycle transitions. The
	// same payload backs the started/progress/completed/failed tags.
	IngestionUpdate struct {
		Base
		Data IngestionUpdatePayload
	}

	// IngestionUpdatePayload identifies the document and its processing
	// stage. Error is set only for the failed tag.
	IngestionUpdatePayload struct {
		DocumentID string `json:"document_id"`
		Stage      string `json:"stage,omitempty"`
		Progress   int    `json:"progress,omitempty"`
		Error      string `json:"error,omitempty"`
	}
)

// NewBase constructs the embedded Base for a concrete event type.
func NewBase(t EventType, payload any) Base {
	return Base{eventType: t, payload: payload}
}

// Type returns the event type tag.
func (b Base) Type() EventType { return b.eventType }

// Payload returns the event payload.
func (b Base) Payload() any { return b.payload }

// NewAgentStart constructs an agent-start event.
func NewAgentStart(name, task string) AgentStart {
	p := AgentStartPayload{Name: name, Task: task}
	return AgentStart{Base: NewBase(EventAgentStart, p), Data: p}
}

// NewAgentProgress constructs an agent-progress event.
func NewAgentProgress(name, status string) AgentProgress {
	p := AgentProgressPayload{Name: name, Status: status}
	return AgentProgress{Base: NewBase(EventAgentProgress, p), Data: p}
}

// NewAgentComplete constructs an agent-complete event.
func NewAgentComplete(name string, durationMS int64) AgentComplete {
	p := AgentCompletePayload{Name: name, DurationMS: durationMS}
	return AgentComplete{Base: NewBase(EventAgentComplete, p), Data: p}
}

// NewAgentCompleteError constructs an agent-complete event carrying a stage
// failure.
func NewAgentCompleteError(name string, durationMS int64, code, message string) AgentComplete {
	p := AgentCompletePayload{
		Name:       name,
		DurationMS: durationMS,
		Error:      &ErrorPayload{Code: code, Message: message},
	}
	return AgentComplete{Base: NewBase(EventAgentComplete, p), Data: p}
}

// NewContentDelta constructs a content-delta event.
func NewContentDelta(text string) ContentDelta {
	p := ContentDeltaPayload{Text: text}
	return ContentDelta{Base: NewBase(EventContentDelta, p), Data: p}
}

// NewLegalSource constructs a legal-source event.
func NewLegalSource(act, section, uri, status string) LegalSource {
	p := LegalSourcePayload{Act: act, Section: section, URI: uri, Status: status}
	return LegalSource{Base: NewBase(EventLegalSource, p), Data: p}
}

// NewCaseLawSource constructs a case-law-source event.
func NewCaseLawSource(caseName, citation, uri string) CaseLawSource {
	p := CaseLawSourcePayload{Case: caseName, Citation: citation, URI: uri}
	return CaseLawSource{Base: NewBase(EventCaseLawSource, p), Data: p}
}

// NewCompanyPolicySource constructs a company-policy-source event.
func NewCompanyPolicySource(name, category, uri string) CompanyPolicySource {
	p := CompanyPolicySourcePayload{Name: name, Category: category, URI: uri}
	return CompanyPolicySource{Base: NewBase(EventCompanyPolicySource, p), Data: p}
}

// NewConfidenceUpdate constructs a confidence-update event.
func NewConfidenceUpdate(level, reason string) ConfidenceUpdate {
	p := ConfidenceUpdatePayload{Level: level, Reason: reason}
	return ConfidenceUpdate{Base: NewBase(EventConfidenceUpdate, p), Data: p}
}

// NewUsageMetrics constructs a usage-metrics event.
func NewUsageMetrics(model string, in, out int) UsageMetrics {
	p := UsageMetricsPayload{Model: model, InputTokens: in, OutputTokens: out}
	return UsageMetrics{Base: NewBase(EventUsageMetrics, p), Data: p}
}

// NewVerificationResult constructs a verification-result event.
func NewVerificationResult(checked, verified int, issues []string) VerificationResult {
	p := VerificationResultPayload{Checked: checked, Verified: verified, Issues: issues}
	return VerificationResult{Base: NewBase(EventVerificationResult, p), Data: p}
}

// NewMessageState constructs a message-state event.
func NewMessageState(id, state string) MessageState {
	p := MessageStatePayload{ID: id, State: state}
	return MessageState{Base: NewBase(EventMessageState, p), Data: p}
}

// NewMessageComplete constructs a message-complete event.
func NewMessageComplete(id string) MessageComplete {
	p := MessageCompletePayload{ID: id}
	return MessageComplete{Base: NewBase(EventMessageComplete, p), Data: p}
}

// NewConversationState constructs a conversation-state event.
func NewConversationState(state string) ConversationState {
	p := ConversationStatePayload{State: state}
	return ConversationState{Base: NewBase(EventConversationState, p), Data: p}
}

// NewConversationCancelled constructs a conversation-cancelled event.
func NewConversationCancelled(invocationID string) ConversationCancelled {
	p := ConversationCancelledPayload{InvocationID: invocationID}
	return ConversationCancelled{Base: NewBase(EventConversationCancel, p), Data: p}
}

// NewError constructs an error event.
func NewError(code, message string, recoverable bool) Error {
	p := ErrorPayload{Code: code, Message: message, Recoverable: recoverable}
	return Error{Base: NewBase(EventError, p), Data: p}
}

// NewPolicyReviewStatus constructs a policy-review-status event.
func NewPolicyReviewStatus(state, text string) PolicyReviewStatus {
	p := PolicyReviewStatusPayload{State: state, Text: text}
	return PolicyReviewStatus{Base: NewBase(EventPolicyReviewStatus, p), Data: p}
}

// NewPolicyReviewCitationProgress constructs a citation progress event.
func NewPolicyReviewCitationProgress(soFar, total int) PolicyReviewCitationProgress {
	p := PolicyReviewCitationProgressPayload{SoFar: soFar, Total: total}
	return PolicyReviewCitationProgress{Base: NewBase(EventPolicyReviewCitationProgress, p), Data: p}
}

// NewPolicyReviewComplete constructs a policy-review-complete event.
func NewPolicyReviewComplete(id string) PolicyReviewComplete {
	p := PolicyReviewCompletePayload{ID: id}
	return PolicyReviewComplete{Base: NewBase(EventPolicyReviewComplete, p), Data: p}
}

// NewPolicyReviewFailed constructs a policy-review-failed event.
func NewPolicyReviewFailed(code, message string) PolicyReviewFailed {
	p := PolicyReviewFailedPayload{Code: code, Message: message}
	return PolicyReviewFailed{Base: NewBase(EventPolicyReviewFailed, p), Data: p}
}

// NewConversationTitleUpdating constructs a conversation-title-updating event.
func NewConversationTitleUpdating(conversationID string) ConversationTitleUpdating {
	p := ConversationTitleUpdatingPayload{ConversationID: conversationID}
	return ConversationTitleUpdating{Base: NewBase(EventConversationTitleUpdating, p), Data: p}
}

// NewConversationTitleUpdated constructs a conversation-title-updated event.
func NewConversationTitleUpdated(conversationID, title string) ConversationTitleUpdated {
	p := ConversationTitleUpdatedPayload{ConversationID: conversationID, Title: title}
	return ConversationTitleUpdated{Base: NewBase(EventConversationTitleUpdated, p), Data: p}
}

// NewPolicyReviewCreated constructs a policy-review-created event.
func NewPolicyReviewCreated(id string) PolicyReviewCreated {
	p := PolicyReviewCreatedPayload{ID: id}
	return PolicyReviewCreated{Base: NewBase(EventPolicyReviewCreated, p), Data: p}
}

// NewRegulatoryChangeAlert constructs a regulatory-change-alert event.
func NewRegulatoryChangeAlert(summary string, changes []string) RegulatoryChangeAlert {
	p := RegulatoryChangeAlertPayload{Summary: summary, Changes: changes}
	return RegulatoryChangeAlert{Base: NewBase(EventRegulatoryChangeAlert, p), Data: p}
}

// NewCreditUsageWarning constructs a credit-usage-warning event.
func NewCreditUsageWarning(used, limit int64) CreditUsageWarning {
	p := CreditUsageWarningPayload{Used: used, Limit: limit}
	return CreditUsageWarning{Base: NewBase(EventCreditUsageWarning, p), Data: p}
}

// NewIngestionUpdate constructs an ingestion lifecycle event. The type must be
// one of the ingestion tags.
func NewIngestionUpdate(t EventType, documentID, stage string, progress int, errMsg string) (IngestionUpdate, error) {
	switch t {
	case EventIngestionStarted, EventIngestionProgress, EventIngestionCompleted, EventIngestionFailed:
	default:
		return IngestionUpdate{}, fmt.Errorf("events: %q is not an ingestion event type", t)
	}
	p := IngestionUpdatePayload{DocumentID: documentID, Stage: stage, Progress: progress, Error: errMsg}
	return IngestionUpdate{Base: NewBase(t, p), Data: p}, nil
}

// MarshalPayload serializes an event payload to JSON for the wire.
func MarshalPayload(ev Event) (json.RawMessage, error) {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s payload: %w", ev.Type(), err)
	}
	return data, nil
}
