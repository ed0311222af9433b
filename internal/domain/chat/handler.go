package chat

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/auth"
	"github.com/ehr/notify/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat")
	g.POST("/messages", h.Send)
	g.PUT("/messages/read", h.MarkRead)
	g.GET("/online", h.Online)
	g.GET("/:peer/messages", h.History)
	g.GET("/:peer/unread", h.Unread)
}

type sendRequest struct {
	RecipientID uuid.UUID   `json:"recipientId"`
	Content     string      `json:"content"`
	Attachment  *Attachment `json:"attachment"`
}

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type countResponse struct {
	Count int `json:"count"`
}

type onlineResponse struct {
	Users []uuid.UUID `json:"users"`
}

func (h *Handler) Send(c echo.Context) error {
	me, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.Send(c.Request().Context(), me, req.RecipientID, req.Content, req.Attachment)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) History(c echo.Context) error {
	me, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	peer, err := uuid.Parse(c.Param("peer"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid peer id")
	}
	p := pagination.FromContext(c, h.svc.PageSize())
	result, err := h.svc.History(c.Request().Context(), me, peer, p.Page, p.PageSize)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) MarkRead(c echo.Context) error {
	me, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n, err := h.svc.MarkConversationRead(c.Request().Context(), me, req.IDs)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *Handler) Unread(c echo.Context) error {
	me, err := auth.CurrentUser(c)
	if err != nil {
		return err
	}
	peer, err := uuid.Parse(c.Param("peer"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid peer id")
	}
	n, err := h.svc.UnreadFrom(c.Request().Context(), me, peer)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, countResponse{Count: n})
}

func (h *Handler) Online(c echo.Context) error {
	if _, err := auth.CurrentUser(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, onlineResponse{Users: h.svc.Online()})
}
