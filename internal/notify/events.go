// Package notify persists user notifications and hands them to the push pipeline.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"pipeline/internal/database"
)

// Type is the closed set of notification kinds.
type Type string

const (
	TypeMessageReceived         Type = "message_received"
	TypeStatusChange            Type = "status_change"
	TypeNextStepsAdded          Type = "next_steps_added"
	TypeNextStepsUpdated        Type = "next_steps_updated"
	TypeInterviewScheduled      Type = "interview_scheduled"
	TypeApplicationAccepted     Type = "application_accepted"
	TypeApplicationRejected     Type = "application_rejected"
	TypeApplicationSubmitted    Type = "application_submitted"
	TypeApplicationConfirmation Type = "application_confirmation"
)

// Types lists every valid Type.
var Types = []Type{
	TypeMessageReceived,
	TypeStatusChange,
	TypeNextStepsAdded,
	TypeNextStepsUpdated,
	TypeInterviewScheduled,
	TypeApplicationAccepted,
	TypeApplicationRejected,
	TypeApplicationSubmitted,
	TypeApplicationConfirmation,
}

// Event is the metadata of one notification. Each Type has exactly one implementation.
type Event interface {
	Type() Type
	// Summary is a one-line human readable text for push clients.
	Summary() string
}

// ApplicationRef identifies the application an event is about.
type ApplicationRef struct {
	ApplicationID uint   `json:"applicationId"`
	JobID         uint   `json:"jobId"`
	JobTitle      string `json:"jobTitle"`
	Company       string `json:"company"`
}

func (r ApplicationRef) label() string {
	if r.Company == "" {
		return r.JobTitle
	}
	return r.JobTitle + " at " + r.Company
}

type MessageReceived struct {
	ApplicationRef
	MessageID      uint   `json:"messageId"`
	SenderUsername string `json:"senderUsername"`
	Preview        string `json:"preview"`
}

func (MessageReceived) Type() Type { return TypeMessageReceived }
func (e MessageReceived) Summary() string {
	return fmt.Sprintf("New message from %s about %s", e.SenderUsername, e.label())
}

type StatusChanged struct {
	ApplicationRef
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
}

func (StatusChanged) Type() Type { return TypeStatusChange }
func (e StatusChanged) Summary() string {
	return fmt.Sprintf("Your application for %s is now %s", e.label(), e.NewStatus)
}

type NextStepsAdded struct {
	ApplicationRef
	NextStep string     `json:"nextStep"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
}

func (NextStepsAdded) Type() Type { return TypeNextStepsAdded }
func (e NextStepsAdded) Summary() string {
	return fmt.Sprintf("Next step for %s: %s", e.label(), e.NextStep)
}

type NextStepsUpdated struct {
	ApplicationRef
	PreviousStep string     `json:"previousStep"`
	NextStep     string     `json:"nextStep"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
}

func (NextStepsUpdated) Type() Type { return TypeNextStepsUpdated }
func (e NextStepsUpdated) Summary() string {
	return fmt.Sprintf("Next step for %s changed: %s", e.label(), e.NextStep)
}

type InterviewScheduled struct {
	ApplicationRef
	ScheduledAt time.Time `json:"scheduledAt"`
	Details     string    `json:"details,omitempty"`
}

func (InterviewScheduled) Type() Type { return TypeInterviewScheduled }
func (e InterviewScheduled) Summary() string {
	return fmt.Sprintf("Interview for %s scheduled at %s", e.label(), e.ScheduledAt.UTC().Format(time.RFC3339))
}

type ApplicationAccepted struct {
	ApplicationRef
	NewStatus string `json:"newStatus"`
}

func (ApplicationAccepted) Type() Type { return TypeApplicationAccepted }
func (e ApplicationAccepted) Summary() string {
	return fmt.Sprintf("Congratulations, your application for %s was accepted", e.label())
}

type ApplicationRejected struct {
	ApplicationRef
	NewStatus string `json:"newStatus"`
}

func (ApplicationRejected) Type() Type { return TypeApplicationRejected }
func (e ApplicationRejected) Summary() string {
	return fmt.Sprintf("Your application for %s was not successful", e.label())
}

// ApplicationSubmitted tells admins a user applied.
type ApplicationSubmitted struct {
	ApplicationRef
	ApplicantID       uint   `json:"applicantId"`
	ApplicantUsername string `json:"applicantUsername"`
}

func (ApplicationSubmitted) Type() Type { return TypeApplicationSubmitted }
func (e ApplicationSubmitted) Summary() string {
	return fmt.Sprintf("%s applied to %s", e.ApplicantUsername, e.label())
}

// ApplicationConfirmation tells the applicant which credit paid for the application.
type ApplicationConfirmation struct {
	ApplicationRef
	CreditSource string `json:"creditSource"`
}

func (ApplicationConfirmation) Type() Type { return TypeApplicationConfirmation }
func (e ApplicationConfirmation) Summary() string {
	return fmt.Sprintf("Application to %s submitted", e.label())
}

// ParseType validates a type name.
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Decode restores the concrete Event stored for type t.
func Decode(t Type, raw []byte) (Event, error) {
	switch t {
	case TypeMessageReceived:
		return decodeInto[MessageReceived](t, raw)
	case TypeStatusChange:
		return decodeInto[StatusChanged](t, raw)
	case TypeNextStepsAdded:
		return decodeInto[NextStepsAdded](t, raw)
	case TypeNextStepsUpdated:
		return decodeInto[NextStepsUpdated](t, raw)
	case TypeInterviewScheduled:
		return decodeInto[InterviewScheduled](t, raw)
	case TypeApplicationAccepted:
		return decodeInto[ApplicationAccepted](t, raw)
	case TypeApplicationRejected:
		return decodeInto[ApplicationRejected](t, raw)
	case TypeApplicationSubmitted:
		return decodeInto[ApplicationSubmitted](t, raw)
	case TypeApplicationConfirmation:
		return decodeInto[ApplicationConfirmation](t, raw)
	default:
		return nil, fmt.Errorf("unknown notification type %q", t)
	}
}

// Summarize renders the display line for a stored notification, or "" when
// its metadata cannot be decoded.
func Summarize(n database.Notification) string {
	t, ok := ParseType(n.Type)
	if !ok {
		return ""
	}
	ev, err := Decode(t, n.Metadata)
	if err != nil {
		return ""
	}
	return ev.Summary()
}

func decodeInto[T Event](t Type, raw []byte) (Event, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", t, err)
	}
	return v, nil
}

// StatusEvent picks the notification for a status transition:
// Accepted and Rejected have their own types, everything else is status_change.
func StatusEvent(ref ApplicationRef, oldStatus, newStatus string) Event {
	switch newStatus {
	case database.StatusAccepted:
		return ApplicationAccepted{ApplicationRef: ref, NewStatus: newStatus}
	case database.StatusRejected:
		return ApplicationRejected{ApplicationRef: ref, NewStatus: newStatus}
	default:
		return StatusChanged{ApplicationRef: ref, OldStatus: oldStatus, NewStatus: newStatus}
	}
}
