package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
)

// Handlers serves the board of the signed-in user.
type Handlers struct {
	board  Board
	sess   Session
	auth   Authenticator
	logger *log.Logger
	loc    *time.Location

	heartbeat time.Duration
}

func NewHandlers(b Board, sess Session, auth Authenticator, logger *log.Logger, loc *time.Location) *Handlers {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Handlers{board: b, sess: sess, auth: auth, logger: logger, loc: loc, heartbeat: 30 * time.Second}
}

// Register wires up all API routes on the provided Echo instance.
func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", healthz)

	g := e.Group("/api", Observe(h.logger))
	g.POST("/session", h.signIn)

	authed := g.Group("", RequireUser(h.auth, h.sess))
	authed.GET("/session", h.currentUser)
	authed.DELETE("/session", h.signOut)
	authed.GET("/tasks", h.getTasks)
	authed.POST("/tasks", h.createTask)
	authed.PATCH("/tasks/:id", h.editTask)
	authed.PUT("/tasks/:id/status", h.changeStatus)
	authed.DELETE("/tasks/:id", h.deleteTask)
	authed.POST("/selection/status", h.bulkStatus)
	authed.POST("/selection/delete", h.bulkDelete)
	authed.POST("/selection/:id", h.toggleSelection)
	authed.DELETE("/selection", h.clearSelection)
	authed.POST("/list/:group/sort", h.toggleSort)
	authed.POST("/drag/start", h.dragStart)
	authed.POST("/drag/end", h.dragEnd)
	authed.POST("/drag/cancel", h.dragCancel)
	authed.GET("/stream", h.stream)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *Handlers) signIn(c echo.Context) error {
	token, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return writeError(c, err)
	}
	u, err := h.sess.SignIn(c.Request().Context(), token)
	if err != nil {
		h.logger.WithError(err).Debug("sign in rejected")
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handlers) currentUser(c echo.Context) error {
	u, ok := h.sess.Current()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handlers) signOut(c echo.Context) error {
	h.sess.SignOut()
	return c.NoContent(http.StatusNoContent)
}

// getTasks applies any filter or layout query parameters and returns the
// resulting snapshot. Parameters that are absent keep their current value.
func (h *Handlers) getTasks(c echo.Context) error {
	q := c.QueryParams()
	if q.Has("view") {
		if err := h.board.SetLayout(board.Layout(q.Get("view"))); err != nil {
			return writeError(c, err)
		}
	}
	if q.Has("date") || q.Has("category") || q.Has("q") {
		crit := h.board.Snapshot().Filters
		if q.Has("date") {
			due, err := parseDate(q.Get("date"), h.loc)
			if err != nil {
				return writeError(c, err)
			}
			crit.DueDate = due
		}
		if q.Has("category") {
			crit.Category = ""
			if raw := q.Get("category"); raw != "" {
				cat, ok := domain.ParseCategory(raw)
				if !ok {
					return writeError(c, &domain.ValidationError{Field: "category", Err: domain.ErrInvalidCategory})
				}
				crit.Category = cat
			}
		}
		if q.Has("q") {
			crit.Query = q.Get("q")
		}
		h.board.SetFilters(crit)
	}
	if q.Has("refresh") {
		refresh, err := strconv.ParseBool(q.Get("refresh"))
		if err != nil {
			return writeError(c, &domain.ValidationError{Field: "refresh", Err: err})
		}
		if refresh {
			if err := h.board.Refresh(c.Request().Context()); err != nil {
				return writeError(c, err)
			}
		}
	}
	return c.JSON(http.StatusOK, h.board.Snapshot())
}

func (h *Handlers) createTask(c echo.Context) error {
	var req taskRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	fields, err := req.fields(h.loc)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()
	var created domain.Task
	switch req.Mode {
	case "", "dialog":
		created, err = h.board.CreateFromDialog(ctx, fields)
	case "inline":
		created, err = h.board.CreateInline(ctx, fields)
	default:
		return c.String(http.StatusBadRequest, "unknown mode")
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handlers) editTask(c echo.Context) error {
	var req taskRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	fields, err := req.fields(h.loc)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.board.EditTask(c.Request().Context(), c.Param("id"), fields); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) changeStatus(c echo.Context) error {
	var req statusRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	status, _ := domain.ParseStatus(req.Status)
	if err := h.board.ChangeStatus(c.Request().Context(), c.Param("id"), status); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) deleteTask(c echo.Context) error {
	if err := h.board.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) toggleSelection(c echo.Context) error {
	id := c.Param("id")
	return c.JSON(http.StatusOK, selectionResponse{TaskID: id, Selected: h.board.ToggleSelection(id)})
}

func (h *Handlers) clearSelection(c echo.Context) error {
	h.board.ClearSelection()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) bulkStatus(c echo.Context) error {
	var req statusRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	status, _ := domain.ParseStatus(req.Status)
	if err := h.board.BulkSetStatus(c.Request().Context(), status); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) bulkDelete(c echo.Context) error {
	if err := h.board.BulkDelete(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) toggleSort(c echo.Context) error {
	group := c.Param("group")
	order, err := h.board.ToggleSort(group)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sortResponse{Group: group, Sort: order})
}

func (h *Handlers) dragStart(c echo.Context) error {
	var req dragRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	t, ok := h.board.DragStart(req.TaskID)
	if !ok {
		return writeError(c, domain.ErrTaskNotFound)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handlers) dragEnd(c echo.Context) error {
	var req dragRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	res, err := h.board.DragEnd(c.Request().Context(), req.ActiveID, req.OverID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) dragCancel(c echo.Context) error {
	h.board.DragCancel()
	return c.NoContent(http.StatusNoContent)
}

var _ Board = (*board.Board)(nil)
