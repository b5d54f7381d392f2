package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medisched/scheduling/internal/notification"
	"github.com/medisched/scheduling/internal/schedule"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrSlotConflict means the (doctor, date, time) tuple already holds an
	// active appointment. Callers should re-query availability and retry
	// with a different slot.
	ErrSlotConflict = errors.New("slot already has an active appointment")

	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyCancelled  = errors.New("appointment is already cancelled")
)

// CreateParams carries the caller-supplied fields of a new appointment.
type CreateParams struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      schedule.TimeOfDay
	Type      Type
	Notes     string
}

// Repository contains all DB interactions needed by the service.
//
// The three write operations each run inside a single transaction that
// also persists the given notification rows: either the appointment change
// and every notification land together, or none of them do. Conflict
// checks happen inside that same transaction, serialized against racing
// writers by the persistence layer rather than by the application.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error)

	// BookedTimes returns the non-cancelled booking times of a doctor on a
	// date, for availability computation.
	BookedTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.TimeOfDay, error)

	// CreateAppointment inserts a pending appointment after re-checking the
	// slot for conflicts, and stamps the new appointment id onto the
	// notification rows before writing them.
	CreateAppointment(ctx context.Context, p CreateParams, notifs []notification.Notification) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-swap from one status to
	// another. ErrInvalidTransition is returned when the row exists but no
	// longer holds the expected status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, notifs []notification.Notification) (*Appointment, error)

	// RescheduleAppointment moves an active appointment to a new date and
	// time after re-checking the target slot, excluding the appointment's
	// own row from the conflict query.
	RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, t schedule.TimeOfDay, notifs []notification.Notification) (*Appointment, error)

	// FindStalePending returns pending appointments whose scheduled time is
	// already behind now. Used by the sweep worker.
	FindStalePending(ctx context.Context, now time.Time) ([]Appointment, error)

	ListNotifications(ctx context.Context, userID uuid.UUID) ([]notification.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error
}
