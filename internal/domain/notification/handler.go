package notification

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/auth"
	"github.com/ehr/notify/pkg/pagination"
)

// RoleSystem is held by internal producers allowed to create notifications
// for arbitrary recipients.
const RoleSystem = "system"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications")
	g.GET("", h.List)
	g.GET("/unread-count", h.UnreadCount)
	g.PUT("/read-all", h.MarkAllRead)
	g.PUT("/:id/read", h.MarkRead)
	g.DELETE("", h.DeleteAll)

	g.POST("", h.Create, auth.RequireRole(RoleSystem))
}

type createRequest struct {
	RecipientID uuid.UUID `json:"recipientId"`
	Message     string    `json:"message"`
	Kind        Kind      `json:"type"`
}

type countResponse struct {
	Count int `json:"count"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n, err := h.svc.Create(c.Request().Context(), req.RecipientID, req.Message, req.Kind)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) List(c echo.Context) error {
	userID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c, h.svc.PageSize())
	result, err := h.svc.List(c.Request().Context(), userID, p.Page)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) UnreadCount(c echo.Context) error {
	userID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	userID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.MarkRead(c.Request().Context(), userID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	userID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *Handler) DeleteAll(c echo.Context) error {
	userID, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	n, err := h.svc.DeleteAll(c.Request().Context(), userID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, countResponse{Count: n})
}
