package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"slotline/backend/internal/domain"
	"slotline/backend/internal/service/booking"
	"slotline/backend/internal/store"
)

type bookingService interface {
	GenerateSlots(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int) (booking.SlotsResult, error)
	CreateAppointment(ctx context.Context, in booking.CreateInput) (domain.Appointment, *booking.RecurrenceOutcome, error)
	UpdateStatus(ctx context.Context, in booking.UpdateStatusInput) (domain.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
}

type Server struct {
	svc bookingService
	log *slog.Logger
}

func NewServer(svc bookingService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc: svc,
		log: log.With(slog.String("component", "http")),
	}
}

func (s *Server) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.GET("/slots", s.getSlots)
	api.POST("/appointments", s.createAppointment)
	api.GET("/appointments", s.listAppointments)
	api.GET("/appointments/:id", s.getAppointment)
	api.PATCH("/appointments/:id/status", s.updateStatus)
}

type httpError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, httpError{Code: code, Message: message})
}

// writeServiceError maps service and store errors onto the HTTP taxonomy.
// Conflicts stay actionable: the expected client reaction is to re-query
// slots and pick another time.
func (s *Server) writeServiceError(c *gin.Context, err error) {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(c, http.StatusBadRequest, "invalid_request", vErr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", "The requested resource does not exist.")
	case errors.Is(err, store.ErrConflict):
		writeError(c, http.StatusConflict, "slot_not_available", "This time slot is not available. Pick a different time.")
	case errors.Is(err, store.ErrTimeBlocked):
		writeError(c, http.StatusConflict, "time_blocked", "This time is blocked off. Pick a different time.")
	default:
		s.log.Error("request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
		writeError(c, http.StatusInternalServerError, "internal_error", "Something went wrong. Try again later.")
	}
}

type slotJSON struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type slotsResponse struct {
	Slots   []slotJSON `json:"slots"`
	Message string     `json:"message,omitempty"`
}

func (s *Server) getSlots(c *gin.Context) {
	staffID, err := uuid.Parse(c.Query("staff_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "staff_id must be a valid id")
		return
	}
	date, err := time.ParseInLocation("2006-01-02", c.Query("date"), time.UTC)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	var duration int
	if err := parsePositiveInt(c.Query("duration_minutes"), &duration); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "duration_minutes must be a positive integer")
		return
	}

	res, err := s.svc.GenerateSlots(c.Request.Context(), staffID, date, duration)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	out := slotsResponse{Slots: make([]slotJSON, 0, len(res.Slots)), Message: res.Message}
	for _, slot := range res.Slots {
		out.Slots = append(out.Slots, slotJSON{StartTime: slot.Start, EndTime: slot.End})
	}
	c.JSON(http.StatusOK, out)
}

type createAppointmentRequest struct {
	StaffID          string `json:"staff_id" binding:"required"`
	CustomerID       string `json:"customer_id" binding:"required"`
	ServiceID        string `json:"service_id" binding:"required"`
	StartTime        string `json:"start_time" binding:"required"`
	Notes            string `json:"notes"`
	RecurringPattern string `json:"recurring_pattern"`
	RecurringEnd     string `json:"recurring_end_date"`
}

type appointmentJSON struct {
	ID                 string    `json:"id"`
	StaffID            string    `json:"staff_id"`
	CustomerID         string    `json:"customer_id"`
	ServiceID          string    `json:"service_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Status             string    `json:"status"`
	Notes              string    `json:"notes,omitempty"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
}

func toAppointmentJSON(a domain.Appointment) appointmentJSON {
	return appointmentJSON{
		ID:                 a.ID.String(),
		StaffID:            a.StaffID.String(),
		CustomerID:         a.CustomerID,
		ServiceID:          a.ServiceID.String(),
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
	}
}

type recurrenceJSON struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

type createAppointmentResponse struct {
	Appointment appointmentJSON `json:"appointment"`
	Recurring   *recurrenceJSON `json:"recurring,omitempty"`
}

func (s *Server) createAppointment(c *gin.Context) {
	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	staffID, err := uuid.Parse(req.StaffID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "staff_id must be a valid id")
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "service_id must be a valid id")
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "start_time must be RFC 3339")
		return
	}

	in := booking.CreateInput{
		StaffID:    staffID,
		CustomerID: req.CustomerID,
		ServiceID:  serviceID,
		StartTime:  startTime,
		Notes:      req.Notes,
	}

	if req.RecurringPattern != "" {
		pattern, err := domain.ParseRecurrencePattern(req.RecurringPattern)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "recurring_pattern must be weekly, biweekly, or monthly")
			return
		}
		until, err := time.ParseInLocation("2006-01-02", req.RecurringEnd, time.UTC)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "recurring_end_date must be YYYY-MM-DD")
			return
		}
		in.RecurringPattern = &pattern
		// The whole end date stays eligible.
		in.RecurringUntil = until.AddDate(0, 0, 1)
	}

	appt, outcome, err := s.svc.CreateAppointment(c.Request.Context(), in)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	s.log.Info("appointment created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("staff_id", appt.StaffID.String()),
		slog.Time("start_time", appt.StartTime),
	)

	resp := createAppointmentResponse{Appointment: toAppointmentJSON(appt)}
	if outcome != nil {
		resp.Recurring = &recurrenceJSON{Created: outcome.Created, Skipped: outcome.Skipped}
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) getAppointment(c *gin.Context) {
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "appointment id must be a valid id")
		return
	}

	appt, err := s.svc.GetAppointment(c.Request.Context(), apptID)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": toAppointmentJSON(appt)})
}

type updateStatusRequest struct {
	Status             string `json:"status" binding:"required"`
	CancellationReason string `json:"cancellation_reason"`
}

func (s *Server) updateStatus(c *gin.Context) {
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "appointment id must be a valid id")
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	status, err := domain.ParseAppointmentStatus(req.Status)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "unknown status")
		return
	}

	appt, err := s.svc.UpdateStatus(c.Request.Context(), booking.UpdateStatusInput{
		AppointmentID:      apptID,
		Status:             status,
		CancellationReason: req.CancellationReason,
	})
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"appointment": toAppointmentJSON(appt)})
}

func (s *Server) listAppointments(c *gin.Context) {
	staffID, err := uuid.Parse(c.Query("staff_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "staff_id must be a valid id")
		return
	}
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "from must be RFC 3339")
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "to must be RFC 3339")
		return
	}

	appts, err := s.svc.ListAppointments(c.Request.Context(), staffID, from, to)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	out := make([]appointmentJSON, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentJSON(a))
	}
	c.JSON(http.StatusOK, gin.H{"appointments": out})
}

func parsePositiveInt(raw string, out *int) error {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return errors.New("not a positive integer")
	}
	*out = n
	return nil
}
