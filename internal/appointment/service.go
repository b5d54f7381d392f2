package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medisched/scheduling/internal/config"
	"github.com/medisched/scheduling/internal/notification"
	"github.com/medisched/scheduling/internal/schedule"
)

// AvailabilityCache is a best-effort cache of free-slot lists keyed by
// doctor and date. Implementations must degrade to a miss on any failure;
// availability is always recomputable from the store.
type AvailabilityCache interface {
	Get(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.TimeOfDay, bool)
	Set(ctx context.Context, doctorID uuid.UUID, date time.Time, slots []schedule.TimeOfDay)
	Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time)
}

type nopCache struct{}

func (nopCache) Get(context.Context, uuid.UUID, time.Time) ([]schedule.TimeOfDay, bool) {
	return nil, false
}
func (nopCache) Set(context.Context, uuid.UUID, time.Time, []schedule.TimeOfDay) {}
func (nopCache) Invalidate(context.Context, uuid.UUID, time.Time)                {}

// Service is the appointment store: every mutation goes through one of its
// operations, each of which commits the appointment change and its
// notifications atomically via the repository.
type Service struct {
	repo  Repository
	cache AvailabilityCache
	cfg   config.Config
	log   zerolog.Logger
	now   func() time.Time
}

func NewService(repo Repository, cache AvailabilityCache, cfg config.Config, log zerolog.Logger) *Service {
	if cache == nil {
		cache = nopCache{}
	}
	return &Service{
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Create books a slot for a patient. The conflict check runs inside the
// same transaction as the insert, so of two racing creates for one slot
// exactly one succeeds and the other gets ErrSlotConflict.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, error) {
	if _, ok := ParseType(string(p.Type)); !ok {
		return nil, fmt.Errorf("%w: unknown appointment type %q", ErrInvalidInput, p.Type)
	}
	if p.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if p.Time.At(p.Date).Before(s.now().UTC()) {
		return nil, fmt.Errorf("%w: appointment time is in the past", ErrInvalidInput)
	}

	patient, err := s.repo.GetPatientByID(ctx, p.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, p.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if !schedule.OnGrid(doctor.WorkingHoursRange(), s.cfg.SlotGranularity, p.Time) {
		return nil, fmt.Errorf("%w: %s is outside the doctor's bookable slots", ErrInvalidInput, p.Time)
	}

	parties := notification.Participants{
		PatientID:   patient.ID,
		DoctorID:    doctor.ID,
		PatientName: patient.Name,
		DoctorName:  doctor.Name,
	}
	notifs := notification.Build(notification.EventCreated, uuid.Nil, p.Date.Format(time.DateOnly), p.Time.String(), parties)

	appt, err := s.repo.CreateAppointment(ctx, p, notifs)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, appt.DoctorID, appt.Date)

	return appt, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListByDoctor(ctx, doctorID)
}

// UpdateStatus applies a state-machine transition and emits its
// notifications in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if _, ok := ParseStatus(string(to)); !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	parties := s.participants(ctx, appt.PatientID, appt.DoctorID)
	notifs := notification.Build(transitionEvent(to), id, appt.Date.Format(time.DateOnly), appt.Time.String(), parties)

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to, notifs)
	if err != nil {
		return nil, err
	}

	if to == StatusCancelled {
		s.cache.Invalidate(ctx, updated.DoctorID, updated.Date)
	}

	return updated, nil
}

// Cancel is UpdateStatus to CANCELLED with an idempotency guard: a second
// cancel reports ErrAlreadyCancelled instead of re-emitting notifications.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	return s.UpdateStatus(ctx, id, StatusCancelled)
}

// Reschedule moves an active appointment to a new slot. The conflict check
// excludes the appointment's own row and runs inside the same transaction
// as the update.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, t schedule.TimeOfDay) (*Appointment, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if t.At(date).Before(s.now().UTC()) {
		return nil, fmt.Errorf("%w: appointment time is in the past", ErrInvalidInput)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.Active() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !schedule.OnGrid(doctor.WorkingHoursRange(), s.cfg.SlotGranularity, t) {
		return nil, fmt.Errorf("%w: %s is outside the doctor's bookable slots", ErrInvalidInput, t)
	}

	parties := s.participants(ctx, appt.PatientID, appt.DoctorID)
	notifs := notification.Build(notification.EventRescheduled, id, date.Format(time.DateOnly), t.String(), parties)

	oldDate := appt.Date

	updated, err := s.repo.RescheduleAppointment(ctx, id, date, t, notifs)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, updated.DoctorID, oldDate)
	s.cache.Invalidate(ctx, updated.DoctorID, updated.Date)

	return updated, nil
}

// AvailableSlots computes the free slots of a doctor on a date: the
// working-hours grid minus every non-cancelled booking.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.TimeOfDay, error) {
	if slots, ok := s.cache.Get(ctx, doctorID, date); ok {
		return slots, nil
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	booked, err := s.repo.BookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}

	slots := schedule.FreeSlots(doctor.WorkingHoursRange(), s.cfg.SlotGranularity, booked)
	s.cache.Set(ctx, doctorID, date, slots)

	return slots, nil
}

// SweepStalePending cancels pending appointments whose scheduled time has
// passed, emitting the usual cancellation notifications. Intended to be
// called periodically by the sweep worker. Returns the number swept.
func (s *Service) SweepStalePending(ctx context.Context) (int, error) {
	stale, err := s.repo.FindStalePending(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	swept := 0
	for _, appt := range stale {
		parties := s.participants(ctx, appt.PatientID, appt.DoctorID)
		notifs := notification.Build(notification.EventCancelled, appt.ID, appt.Date.Format(time.DateOnly), appt.Time.String(), parties)

		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled, notifs)
		if err != nil {
			// Lost a race with a confirm or a manual cancel; skip.
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("sweep cancel failed")
			continue
		}

		s.cache.Invalidate(ctx, appt.DoctorID, appt.Date)
		swept++
	}

	return swept, nil
}

func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID) ([]notification.Notification, error) {
	return s.repo.ListNotifications(ctx, userID)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, id, userID)
}

// participants resolves display names best-effort. A failed lookup leaves
// the name empty and the notification falls back to a generic label; a
// profile outage must never block a state transition.
func (s *Service) participants(ctx context.Context, patientID, doctorID uuid.UUID) notification.Participants {
	p := notification.Participants{PatientID: patientID, DoctorID: doctorID}

	if patient, err := s.repo.GetPatientByID(ctx, patientID); err == nil {
		p.PatientName = patient.Name
	} else {
		s.log.Debug().Err(err).Stringer("patient_id", patientID).Msg("patient name lookup failed")
	}

	if doctor, err := s.repo.GetDoctorByID(ctx, doctorID); err == nil {
		p.DoctorName = doctor.Name
	} else {
		s.log.Debug().Err(err).Stringer("doctor_id", doctorID).Msg("doctor name lookup failed")
	}

	return p
}
