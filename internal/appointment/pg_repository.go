package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisched/scheduling/internal/notification"
	"github.com/medisched/scheduling/internal/schedule"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, date, time, type, status, notes, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var timeStr string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&timeStr,
		&a.Type,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	t, err := schedule.ParseTimeOfDay(timeStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt time column: %w", err)
	}
	a.Time = t

	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockSlot serializes writers racing for the same (doctor, date, time)
// tuple so the conflict check and the subsequent write observe each other.
// The lock is transaction scoped and released on commit or rollback.
func lockSlot(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date time.Time, t schedule.TimeOfDay) error {
	key := fmt.Sprintf("slot:%s:%s:%s", doctorID, date.Format(time.DateOnly), t)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("acquire slot lock: %w", err)
	}
	return nil
}

// slotTaken is the conflict query: any active appointment holding the
// tuple, optionally excluding one appointment id (for reschedules).
func slotTaken(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, date time.Time, t schedule.TimeOfDay, excludeID uuid.UUID) (bool, error) {
	var taken bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND date = $2
			  AND time = $3
			  AND status IN ('PENDING', 'CONFIRMED')
			  AND id != $4
		)
	`, doctorID, date, t.String(), excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot conflict: %w", err)
	}
	return taken, nil
}

func insertNotifications(ctx context.Context, tx pgx.Tx, notifs []notification.Notification) error {
	for _, n := range notifs {
		_, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, user_id, title, message, notification_type, reference_id, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, false, now())
		`, n.ID, n.UserID, n.Title, n.Message, n.Type, n.ReferenceID)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, working_hours, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialty, &d.WorkingHours, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, time ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY date ASC, time ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) BookedTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.TimeOfDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT time FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status != 'CANCELLED'
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var booked []schedule.TimeOfDay
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		t, err := schedule.ParseTimeOfDay(s)
		if err != nil {
			return nil, fmt.Errorf("corrupt time column: %w", err)
		}
		booked = append(booked, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return booked, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, p CreateParams, notifs []notification.Notification) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockSlot(ctx, tx, p.DoctorID, p.Date, p.Time); err != nil {
		return nil, err
	}

	taken, err := slotTaken(ctx, tx, p.DoctorID, p.Date, p.Time, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotConflict
	}

	id := uuid.New()

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, time, type, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, p.PatientID, p.DoctorID, p.Date, p.Time.String(), p.Type, p.Notes)

	appt, err := scanAppointment(row)
	if err != nil {
		// The partial unique index backstops the advisory lock.
		if isUniqueViolation(err) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	for i := range notifs {
		notifs[i].ReferenceID = appt.ID
	}
	if err := insertNotifications(ctx, tx, notifs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, notifs []notification.Notification) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Distinguish a missing row from one whose status moved since
			// the caller read it.
			var exists bool
			if chkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); chkErr != nil {
				return nil, chkErr
			}
			if exists {
				return nil, ErrInvalidTransition
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	if err := insertNotifications(ctx, tx, notifs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, t schedule.TimeOfDay, notifs []notification.Notification) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reschedule: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if !cur.Status.Active() {
		return nil, ErrInvalidTransition
	}

	if err := lockSlot(ctx, tx, cur.DoctorID, date, t); err != nil {
		return nil, err
	}

	taken, err := slotTaken(ctx, tx, cur.DoctorID, date, t, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotConflict
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    time = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, date, t.String())

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("update date/time: %w", err)
	}

	if err := insertNotifications(ctx, tx, notifs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reschedule: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, now time.Time) ([]Appointment, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	tod := schedule.TimeOfDay(now.Hour()*60 + now.Minute())

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PENDING'
		  AND (date < $1 OR (date = $1 AND time < $2))
	`, day, tod.String())
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListNotifications(ctx context.Context, userID uuid.UUID) ([]notification.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, message, notification_type, reference_id, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notification.Notification
	for rows.Next() {
		var n notification.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.ReferenceID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1
		  AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
