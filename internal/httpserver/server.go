// Package httpserver serves the browser relay, locally synthesized clips and
// the turn journal.
package httpserver

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/app"
	"github.com/chadiek/interview-agent/internal/journal"
	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/relay"
)

// Options are the routes' collaborators. Nil or empty fields leave the
// matching routes out.
type Options struct {
	Relay    http.Handler
	Journal  *journal.Store
	ClipDir  string
	Password string
	Log      *zap.SugaredLogger
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router *echo.Echo
}

// New constructs the HTTP server with routes.
func New(opts Options) *Server {
	log := logging.OrNop(opts.Log)
	e := newRouter(log)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if opts.Relay != nil {
		e.GET("/ws", echo.WrapHandler(opts.Relay))
	}

	if opts.ClipDir != "" {
		dir := opts.ClipDir
		e.GET(app.ClipRoute+":name", func(c echo.Context) error {
			name := filepath.Base(c.Param("name"))
			if !strings.HasPrefix(name, "speech-") || filepath.Ext(name) != ".wav" {
				return echo.NewHTTPError(http.StatusNotFound)
			}
			return c.File(filepath.Join(dir, name))
		})
	}

	if opts.Journal != nil {
		h := &journalHandler{store: opts.Journal, log: log}
		api := e.Group("/api", requirePassword(opts.Password))
		api.GET("/conversations", h.conversations)
		api.GET("/conversations/:id/turns", h.turns)
	}

	return &Server{Router: e}
}

func requirePassword(password string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !relay.Authorized(c.Request(), password) {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

type journalHandler struct {
	store *journal.Store
	log   *zap.SugaredLogger
}

func (h *journalHandler) conversations(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	list, err := h.store.Conversations(c.Request().Context(), limit)
	if err != nil {
		h.log.Warnw("list conversations failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	if list == nil {
		list = []journal.Summary{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *journalHandler) turns(c echo.Context) error {
	entries, err := h.store.Turns(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.log.Warnw("list turns failed", "conversation_id", c.Param("id"), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	if len(entries) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not journaled")
	}
	return c.JSON(http.StatusOK, entries)
}
