package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisched/scheduling/internal/appointment"
	"github.com/medisched/scheduling/internal/config"
	"github.com/medisched/scheduling/internal/notification"
	"github.com/medisched/scheduling/internal/schedule"
)

// stubRepo backs the router tests with an in-memory appointment store that
// honors the same transactional contract as the real repository.
type stubRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*appointment.Patient
	doctors      map[uuid.UUID]*appointment.Doctor
	appointments map[uuid.UUID]*appointment.Appointment
	notifs       []notification.Notification
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		patients:     make(map[uuid.UUID]*appointment.Patient),
		doctors:      make(map[uuid.UUID]*appointment.Doctor),
		appointments: make(map[uuid.UUID]*appointment.Appointment),
	}
}

func (s *stubRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *stubRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *stubRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *stubRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.DoctorID == doctorID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *stubRepo) BookedTimes(_ context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.TimeOfDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schedule.TimeOfDay
	for _, a := range s.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status != appointment.StatusCancelled {
			out = append(out, a.Time)
		}
	}
	return out, nil
}

func (s *stubRepo) slotTakenLocked(doctorID uuid.UUID, date time.Time, t schedule.TimeOfDay, excludeID uuid.UUID) bool {
	for _, a := range s.appointments {
		if a.ID != excludeID && a.DoctorID == doctorID && a.Date.Equal(date) && a.Time == t && a.Status.Active() {
			return true
		}
	}
	return false
}

func (s *stubRepo) CreateAppointment(_ context.Context, p appointment.CreateParams, notifs []notification.Notification) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slotTakenLocked(p.DoctorID, p.Date, p.Time, uuid.Nil) {
		return nil, appointment.ErrSlotConflict
	}

	now := time.Now()
	a := &appointment.Appointment{
		ID:        uuid.New(),
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Date:      p.Date,
		Time:      p.Time,
		Type:      p.Type,
		Status:    appointment.StatusPending,
		Notes:     p.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.appointments[a.ID] = a

	for i := range notifs {
		notifs[i].ReferenceID = a.ID
		notifs[i].CreatedAt = now
		s.notifs = append(s.notifs, notifs[i])
	}

	cp := *a
	return &cp, nil
}

func (s *stubRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.Status, notifs []notification.Notification) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, appointment.ErrInvalidTransition
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	for _, n := range notifs {
		n.CreatedAt = a.UpdatedAt
		s.notifs = append(s.notifs, n)
	}

	cp := *a
	return &cp, nil
}

func (s *stubRepo) RescheduleAppointment(_ context.Context, id uuid.UUID, date time.Time, t schedule.TimeOfDay, notifs []notification.Notification) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if !a.Status.Active() {
		return nil, appointment.ErrInvalidTransition
	}
	if s.slotTakenLocked(a.DoctorID, date, t, id) {
		return nil, appointment.ErrSlotConflict
	}

	a.Date = date
	a.Time = t
	a.UpdatedAt = time.Now()
	for _, n := range notifs {
		n.CreatedAt = a.UpdatedAt
		s.notifs = append(s.notifs, n)
	}

	cp := *a
	return &cp, nil
}

func (s *stubRepo) FindStalePending(_ context.Context, now time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.Status == appointment.StatusPending && a.StartsAt().Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *stubRepo) ListNotifications(_ context.Context, userID uuid.UUID) ([]notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notification.Notification
	for i := len(s.notifs) - 1; i >= 0; i-- {
		if s.notifs[i].UserID == userID {
			out = append(out, s.notifs[i])
		}
	}
	return out, nil
}

func (s *stubRepo) MarkNotificationRead(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifs {
		if s.notifs[i].ID == id && s.notifs[i].UserID == userID {
			s.notifs[i].IsRead = true
			return nil
		}
	}
	return appointment.ErrNotificationNotFound
}

type apiFixture struct {
	handler http.Handler
	repo    *stubRepo
	patient uuid.UUID
	doctor  uuid.UUID
	date    string // a week out, always bookable
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := newStubRepo()

	hours := "09:00-17:00"
	doctorID := uuid.New()
	patientID := uuid.New()
	repo.doctors[doctorID] = &appointment.Doctor{ID: doctorID, Name: "Dr. Miranda Bailey", WorkingHours: &hours}
	repo.patients[patientID] = &appointment.Patient{ID: patientID, Name: "John Carter"}

	cfg := config.Config{SlotGranularity: 30 * time.Minute}
	svc := appointment.NewService(repo, nil, cfg, zerolog.Nop())

	handler := NewRouter(RouterConfig{
		Service:           svc,
		Logger:            zerolog.Nop(),
		Env:               "test",
		Version:           "test",
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	})

	return &apiFixture{
		handler: handler,
		repo:    repo,
		patient: patientID,
		doctor:  doctorID,
		date:    time.Now().UTC().AddDate(0, 0, 7).Format(time.DateOnly),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) book(t *testing.T, tod string) AppointmentResponse {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: f.patient.String(),
		DoctorID:  f.doctor.String(),
		Date:      f.date,
		Time:      tod,
		Type:      "IN_PERSON",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.book(t, "10:00")
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, f.patient, resp.PatientID)
	assert.Equal(t, f.doctor, resp.DoctorID)
	assert.Equal(t, f.date, resp.Date)
	assert.Equal(t, "10:00", resp.Time)
	assert.NotEqual(t, uuid.Nil, resp.ID)
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("malformed json", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/appointments", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_input", decodeError(t, rec).Error)
	})

	t.Run("bad date format", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
			PatientID: f.patient.String(),
			DoctorID:  f.doctor.String(),
			Date:      "06/01/2026",
			Time:      "10:00",
			Type:      "IN_PERSON",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
			PatientID: f.patient.String(),
			DoctorID:  f.doctor.String(),
			Date:      f.date,
			Time:      "10:00",
			Type:      "HOME_VISIT",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("off-grid time", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
			PatientID: f.patient.String(),
			DoctorID:  f.doctor.String(),
			Date:      f.date,
			Time:      "10:10",
			Type:      "IN_PERSON",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown patient", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
			PatientID: uuid.New().String(),
			DoctorID:  f.doctor.String(),
			Date:      f.date,
			Time:      "10:00",
			Type:      "IN_PERSON",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCreateAppointmentConflict(t *testing.T) {
	f := newAPIFixture(t)

	f.book(t, "10:00")

	rec := f.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: f.patient.String(),
		DoctorID:  f.doctor.String(),
		Date:      f.date,
		Time:      "10:00",
		Type:      "TELEMEDICINE",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decodeError(t, rec).Error)
}

func TestGetAppointmentEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.book(t, "10:00")

	rec := f.do(t, http.MethodGet, "/appointments/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)

	rec = f.do(t, http.MethodGet, "/appointments/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.book(t, "10:00")
	path := "/appointments/" + created.ID.String()

	rec := f.do(t, http.MethodPut, path, UpdateStatusRequest{Status: "CONFIRMED"})
	require.Equal(t, http.StatusOK, rec.Code)

	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "CONFIRMED", got.Status)

	// Repeating the transition conflicts with the state machine.
	rec = f.do(t, http.MethodPut, path, UpdateStatusRequest{Status: "CONFIRMED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)

	// Statuses outside the enum never reach the service.
	rec = f.do(t, http.MethodPut, path, UpdateStatusRequest{Status: "SCHEDULED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.book(t, "10:00")
	path := fmt.Sprintf("/appointments/%s/cancel", created.ID)

	rec := f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "CANCELLED", got.Status)

	rec = f.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_cancelled", decodeError(t, rec).Error)
}

func TestRescheduleEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	created := f.book(t, "10:00")
	f.book(t, "11:00")

	path := fmt.Sprintf("/appointments/%s/reschedule", created.ID)

	t.Run("into occupied slot", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, RescheduleRequest{Date: f.date, Time: "11:00"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("success", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, RescheduleRequest{Date: f.date, Time: "14:00"})
		require.Equal(t, http.StatusOK, rec.Code)

		var got AppointmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "14:00", got.Time)
		assert.Equal(t, "PENDING", got.Status)
	})

	t.Run("missing time", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, path, RescheduleRequest{Date: f.date})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAvailableSlotsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.book(t, "09:00")
	f.book(t, "10:00")

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/appointments/available/%s/%s", f.doctor, f.date), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var slots []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))

	assert.NotContains(t, slots, "09:00")
	assert.NotContains(t, slots, "10:00")
	assert.Contains(t, slots, "09:30")
	assert.Contains(t, slots, "16:30")
	assert.NotContains(t, slots, "17:00")

	t.Run("bad date", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/appointments/available/%s/tomorrow", f.doctor), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown doctor", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/appointments/available/%s/%s", uuid.New(), f.date), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	f.book(t, "10:00")
	f.book(t, "11:00")

	rec := f.do(t, http.MethodGet, "/appointments/patient/"+f.patient.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byPatient []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byPatient))
	assert.Len(t, byPatient, 2)

	rec = f.do(t, http.MethodGet, "/appointments/doctor/"+f.doctor.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byDoctor []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byDoctor))
	assert.Len(t, byDoctor, 2)

	// Unknown user is an empty list, not an error.
	rec = f.do(t, http.MethodGet, "/appointments/patient/"+uuid.New().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestNotificationEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	f.book(t, "10:00")

	rec := f.do(t, http.MethodGet, "/notifications/"+f.patient.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var notifs []NotificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifs))
	require.Len(t, notifs, 1)
	assert.False(t, notifs[0].IsRead)

	readPath := fmt.Sprintf("/notifications/%s/read?user_id=%s", notifs[0].ID, f.patient)
	rec = f.do(t, http.MethodPost, readPath, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/notifications/"+f.patient.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notifs = notifs[:0]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifs))
	require.Len(t, notifs, 1)
	assert.True(t, notifs[0].IsRead)

	t.Run("missing user_id", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/notifications/%s/read", notifs[0].ID), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong user", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/notifications/%s/read?user_id=%s", notifs[0].ID, uuid.New()), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRequestIDPropagation(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/appointments/patient/"+f.patient.String(), nil)
	req.Header.Set("X-Request-ID", "test-request-id")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "test-request-id", rec.Header().Get("X-Request-ID"))
}
