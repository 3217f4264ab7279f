package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/memohai/keyreply/internal/reply"
	"github.com/memohai/keyreply/internal/settings"
)

// SettingsStore is the part of settings.Store the admin API uses.
type SettingsStore interface {
	Get() settings.Settings
	Snapshot() (settings.Settings, uint64)
	Replace(ctx context.Context, next settings.Settings) error
}

// ReplyEngine is the part of reply.Engine the admin API uses.
type ReplyEngine interface {
	Preview(sender, text string) (reply.Decision, bool)
	Stats() *reply.Stats
}

type SettingsHandler struct {
	store  SettingsStore
	engine ReplyEngine
	logger *slog.Logger
	// editMu makes read-modify-write edits atomic with respect to each other.
	editMu sync.Mutex
}

func NewSettingsHandler(log *slog.Logger, store SettingsStore, engine ReplyEngine) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		engine: engine,
		logger: log.With(slog.String("handler", "settings")),
	}
}

func (h *SettingsHandler) Register(e *echo.Echo) {
	group := e.Group("/api/settings")
	group.GET("", h.Get)
	group.PUT("", h.Replace)
	group.POST("/keywords", h.AddKeyword)
	group.DELETE("/keywords/:keyword", h.RemoveKeyword)
	group.PUT("/senders/:id", h.PutSender)
	group.DELETE("/senders/:id", h.RemoveSender)
	group.DELETE("/senders", h.RemoveSenderByQuery)
	group.PUT("/templates", h.SetTemplates)
	group.POST("/preview", h.Preview)
	e.GET("/api/stats", h.Stats)
}

type SettingsResponse struct {
	Version  uint64            `json:"version"`
	Settings settings.Settings `json:"settings"`
}

// PersistFailureResponse reports a change that is live but was not saved.
type PersistFailureResponse struct {
	Message  string            `json:"message"`
	Applied  bool              `json:"applied"`
	Version  uint64            `json:"version"`
	Settings settings.Settings `json:"settings"`
}

type KeywordRequest struct {
	Keyword string `json:"keyword"`
}

type SenderRequest struct {
	DisplayName    string `json:"display_name"`
	DeliveryMode   string `json:"delivery_mode"`
	TemplateChoice string `json:"template_choice"`
	CustomTemplate string `json:"custom_template"`
}

type TemplatesRequest struct {
	Ar *string `json:"default_template_ar"`
	En *string `json:"default_template_en"`
}

type PreviewRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type PreviewResponse struct {
	Matched  bool            `json:"matched"`
	Decision *reply.Decision `json:"decision,omitempty"`
}

// Get godoc
// @Summary Get reply settings
// @Tags settings
// @Success 200 {object} SettingsResponse
// @Router /api/settings [get]
func (h *SettingsHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.current())
}

// Replace godoc
// @Summary Replace the whole reply configuration
// @Tags settings
// @Param payload body settings.Settings true "Settings"
// @Success 200 {object} SettingsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} PersistFailureResponse
// @Router /api/settings [put]
func (h *SettingsHandler) Replace(c echo.Context) error {
	var req settings.Settings
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.editMu.Lock()
	defer h.editMu.Unlock()
	return h.commit(c, req)
}

// AddKeyword godoc
// @Summary Add a keyword
// @Tags settings
// @Param payload body KeywordRequest true "Keyword"
// @Success 200 {object} SettingsResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/settings/keywords [post]
func (h *SettingsHandler) AddKeyword(c echo.Context) error {
	var req KeywordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.edit(c, func(s settings.Settings) (settings.Settings, error) {
		return settings.AddKeyword(s, req.Keyword)
	})
}

// RemoveKeyword godoc
// @Summary Remove a keyword
// @Tags settings
// @Success 200 {object} SettingsResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/settings/keywords/{keyword} [delete]
func (h *SettingsHandler) RemoveKeyword(c echo.Context) error {
	keyword, err := pathParam(c, "keyword")
	if err != nil {
		return err
	}
	return h.edit(c, func(s settings.Settings) (settings.Settings, error) {
		return settings.RemoveKeyword(s, keyword)
	})
}

// PutSender godoc
// @Summary Add or replace a sender rule
// @Tags settings
// @Param payload body SenderRequest true "Rule"
// @Success 200 {object} SettingsResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/settings/senders/{id} [put]
func (h *SettingsHandler) PutSender(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	var req SenderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	mode, err := settings.ParseDeliveryMode(req.DeliveryMode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	choice, err := settings.ParseTemplateChoice(req.TemplateChoice)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule := settings.SenderRule{
		ID:             id,
		DisplayName:    strings.TrimSpace(req.DisplayName),
		DeliveryMode:   mode,
		TemplateChoice: choice,
		CustomTemplate: req.CustomTemplate,
	}
	return h.edit(c, func(s settings.Settings) (settings.Settings, error) {
		return settings.PutSender(s, rule)
	})
}

// RemoveSender godoc
// @Summary Remove a sender rule
// @Tags settings
// @Success 200 {object} SettingsResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/settings/senders/{id} [delete]
func (h *SettingsHandler) RemoveSender(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	return h.edit(c, func(s settings.Settings) (settings.Settings, error) {
		return settings.RemoveSender(s, id)
	})
}

// RemoveSenderByQuery godoc
// @Summary Remove a sender rule by id, including a legacy rule saved without one
// @Tags settings
// @Param id query string true "Sender id, may be empty"
// @Success 200 {object} SettingsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/settings/senders [delete]
func (h *SettingsHandler) RemoveSenderByQuery(c echo.Context) error {
	query := c.QueryParams()
	if !query.Has("id") {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	id := strings.TrimSpace(query.Get("id"))
	return h.edit(c, func(s settings.Settings) (settings.Settings, error) {
		return settings.RemoveSender(s, id)
	})
}

// SetTemplates godoc
// @Summary Update the default templates
// @Tags settings
// @Param payload body TemplatesRequest true "Templates"
// @Success 200 {object} SettingsResponse
// @Router /api/settings/templates [put]
func (h *SettingsHandler) SetTemplates(c echo.Context) error {
	var req TemplatesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.edit(c, func(s settings.Settings) (settings.Settings, error) {
		return settings.SetTemplates(s, req.Ar, req.En), nil
	})
}

// Preview godoc
// @Summary Resolve a message against the live settings without sending anything
// @Tags settings
// @Param payload body PreviewRequest true "Message"
// @Success 200 {object} PreviewResponse
// @Router /api/settings/preview [post]
func (h *SettingsHandler) Preview(c echo.Context) error {
	var req PreviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	decision, ok := h.engine.Preview(req.Sender, req.Text)
	resp := PreviewResponse{Matched: ok}
	if ok {
		resp.Decision = &decision
	}
	return c.JSON(http.StatusOK, resp)
}

// Stats godoc
// @Summary Reply outcome counters since start
// @Tags settings
// @Success 200 {object} reply.StatsSnapshot
// @Router /api/stats [get]
func (h *SettingsHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Stats().Snapshot())
}

func (h *SettingsHandler) edit(c echo.Context, apply func(settings.Settings) (settings.Settings, error)) error {
	h.editMu.Lock()
	defer h.editMu.Unlock()
	next, err := apply(h.store.Get())
	if err != nil {
		return settingsError(err)
	}
	return h.commit(c, next)
}

// commit replaces the live settings. On a persist failure the change is live, so the response
// says so next to the error.
func (h *SettingsHandler) commit(c echo.Context, next settings.Settings) error {
	err := h.store.Replace(c.Request().Context(), next)
	if err == nil {
		return c.JSON(http.StatusOK, h.current())
	}
	var perr *settings.PersistError
	if errors.As(err, &perr) {
		h.logger.Error("settings applied but not persisted", slog.Any("error", err))
		cur := h.current()
		return c.JSON(http.StatusInternalServerError, PersistFailureResponse{
			Message:  err.Error(),
			Applied:  true,
			Version:  cur.Version,
			Settings: cur.Settings,
		})
	}
	return settingsError(err)
}

func (h *SettingsHandler) current() SettingsResponse {
	current, version := h.store.Snapshot()
	return SettingsResponse{Version: version, Settings: current}
}

func pathParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	// Echo routes on RawPath when the request carries one, and params are then still escaped.
	if c.Request().URL.RawPath != "" {
		unescaped, err := url.PathUnescape(value)
		if err != nil {
			return "", echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		value = unescaped
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	return value, nil
}
