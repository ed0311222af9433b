package reminder

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/notify/internal/domain/notification"
	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/auth"
)

// Handler exposes the domain-event intake used by the clinic API and a
// read-only view of reminder jobs.
type Handler struct {
	events    *Events
	scheduler *Scheduler
}

func NewHandler(events *Events, scheduler *Scheduler) *Handler {
	return &Handler{events: events, scheduler: scheduler}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	system := auth.RequireRole(notification.RoleSystem)

	ev := api.Group("/events", system)
	ev.POST("/appointments/:id", h.AppointmentEvent)
	ev.POST("/treatments/:id", h.TreatmentEvent)

	api.GET("/reminders/:id", h.GetReminder, system)
}

type appointmentEventRequest struct {
	Action string `json:"action"`
}

func (h *Handler) AppointmentEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req appointmentEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.events.Appointment(c.Request().Context(), id, req.Action)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusAccepted, res)
}

func (h *Handler) TreatmentEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.events.Treatment(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusAccepted, res)
}

func (h *Handler) GetReminder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	job, err := h.scheduler.Job(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, job)
}
