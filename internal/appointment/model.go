package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisched/scheduling/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// Active reports whether the status occupies its slot. Cancelled and
// completed appointments free the slot for new bookings.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(s), true
	}
	return "", false
}

type Type string

const (
	TypeInPerson     Type = "IN_PERSON"
	TypeTelemedicine Type = "TELEMEDICINE"
)

func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeInPerson, TypeTelemedicine:
		return Type(s), true
	}
	return "", false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	// WorkingHours is a "HH:MM-HH:MM" range; nil means the default
	// 09:00-17:00 window applies.
	WorkingHours *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WorkingHoursRange resolves the doctor's working hours, falling back to
// the default window when unset or unparseable.
func (d *Doctor) WorkingHoursRange() schedule.Range {
	if d.WorkingHours == nil {
		return schedule.DefaultWorkingHours
	}
	r, err := schedule.ParseRange(*d.WorkingHours)
	if err != nil {
		return schedule.DefaultWorkingHours
	}
	return r
}

// Appointment is one booking of a doctor's slot by a patient. The
// (DoctorID, Date, Time) tuple is the booking key: at most one active
// appointment may hold it at a time. Parties and type are immutable after
// creation; date and time change only through a reschedule.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time // calendar date, UTC midnight
	Time      schedule.TimeOfDay
	Type      Type
	Status    Status
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartsAt is the scheduled instant of the appointment.
func (a *Appointment) StartsAt() time.Time {
	return a.Time.At(a.Date)
}
