// Package notification turns appointment state changes into the
// notification rows written alongside them. The fan-out policy is a
// declarative table so it can be tested without touching storage; the
// package itself does no I/O.
package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const TypeAppointment = "APPOINTMENT"

// Event identifies the state change a notification describes.
type Event string

const (
	EventCreated     Event = "APPOINTMENT_CREATED"
	EventConfirmed   Event = "APPOINTMENT_CONFIRMED"
	EventCancelled   Event = "APPOINTMENT_CANCELLED"
	EventCompleted   Event = "APPOINTMENT_COMPLETED"
	EventRescheduled Event = "APPOINTMENT_RESCHEDULED"
)

type Notification struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Title       string
	Message     string
	Type        string
	ReferenceID uuid.UUID
	IsRead      bool
	CreatedAt   time.Time
}

// Participants carries the two parties of an appointment plus their display
// names. Names may be empty when the profile lookup failed; Build falls
// back to a generic label rather than refusing to notify.
type Participants struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	PatientName string
	DoctorName  string
}

type recipient int

const (
	toPatient recipient = iota
	toDoctor
)

// template renders one notification for one recipient. The format string
// receives the counterparty's display name, the date and the time.
type template struct {
	to     recipient
	title  string
	format string
}

// policy maps each event to the recipients it notifies: created and
// cancelled and rescheduled fan out to both parties, confirmed and
// completed go to the patient only.
var policy = map[Event][]template{
	EventCreated: {
		{toPatient, "Appointment Requested", "Your appointment with %s on %s at %s is pending confirmation."},
		{toDoctor, "New Appointment Request", "You have a new appointment request from %s on %s at %s."},
	},
	EventConfirmed: {
		{toPatient, "Appointment Confirmed", "Your appointment with %s on %s at %s has been confirmed."},
	},
	EventCancelled: {
		{toPatient, "Appointment Cancelled", "Your appointment with %s on %s at %s has been cancelled."},
		{toDoctor, "Appointment Cancelled", "Your appointment with %s on %s at %s has been cancelled."},
	},
	EventCompleted: {
		{toPatient, "Appointment Completed", "Your appointment with %s on %s at %s has been completed."},
	},
	EventRescheduled: {
		{toPatient, "Appointment Rescheduled", "Your appointment with %s has been moved to %s at %s."},
		{toDoctor, "Appointment Rescheduled", "Your appointment with %s has been moved to %s at %s."},
	},
}

// Build renders the notification rows for an event. referenceID may be
// uuid.Nil when the appointment id is not assigned yet; the store fills it
// in before writing. The returned rows carry fresh ids and are meant to be
// persisted in the same transaction as the appointment change.
func Build(ev Event, referenceID uuid.UUID, date, timeOfDay string, p Participants) []Notification {
	templates := policy[ev]
	out := make([]Notification, 0, len(templates))

	for _, t := range templates {
		var userID uuid.UUID
		var counterparty string

		switch t.to {
		case toPatient:
			userID = p.PatientID
			counterparty = displayName(p.DoctorName, "your doctor")
		case toDoctor:
			userID = p.DoctorID
			counterparty = displayName(p.PatientName, "a patient")
		}

		out = append(out, Notification{
			ID:          uuid.New(),
			UserID:      userID,
			Title:       t.title,
			Message:     fmt.Sprintf(t.format, counterparty, date, timeOfDay),
			Type:        TypeAppointment,
			ReferenceID: referenceID,
		})
	}

	return out
}

func displayName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
