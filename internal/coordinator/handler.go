package coordinator

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/middleware"
	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/pkg/response"
)

// Handler exposes the coordinator over HTTP.
type Handler struct {
	coord             *Coordinator
	defaultMaxViewers int
	defaultQuality    models.StreamQuality
}

// NewHandler creates the coordinator HTTP handler. The defaults fill in
// max_viewers and quality when a create request omits them.
func NewHandler(coord *Coordinator, defaultMaxViewers int, defaultQuality models.StreamQuality) *Handler {
	return &Handler{
		coord:             coord,
		defaultMaxViewers: defaultMaxViewers,
		defaultQuality:    defaultQuality,
	}
}

type createSessionRequest struct {
	GroupSessionID uuid.UUID `json:"group_session_id" binding:"required"`
	Title          string    `json:"title" binding:"required"`
	Description    *string   `json:"description"`
	MaxViewers     int       `json:"max_viewers"`
	Quality        string    `json:"quality"`
}

type createSessionResponse struct {
	Session   *models.StreamingSession `json:"session"`
	StreamKey string                   `json:"stream_key"`
}

// Create handles POST /sessions. The stream key in the response is shown
// exactly once.
func (h *Handler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	hostID, ok := requestUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if req.MaxViewers == 0 {
		req.MaxViewers = h.defaultMaxViewers
	}
	if req.Quality == "" {
		req.Quality = string(h.defaultQuality)
	}
	session, key, err := h.coord.CreateSession(c.Request.Context(), CreateParams{
		GroupSessionID: req.GroupSessionID,
		HostID:         hostID,
		Title:          req.Title,
		Description:    req.Description,
		MaxViewers:     req.MaxViewers,
		Quality:        models.StreamQuality(req.Quality),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, createSessionResponse{Session: session, StreamKey: key})
}

// List handles GET /sessions?status=live and
// GET /sessions?group_session_id=<uuid> (full history for one group session).
func (h *Handler) List(c *gin.Context) {
	if raw := c.Query("group_session_id"); raw != "" {
		groupID, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid group_session_id")
			return
		}
		list, err := h.coord.ListByGroupSession(c.Request.Context(), groupID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, list)
		return
	}
	status := models.SessionStatus(c.DefaultQuery("status", string(models.StatusLive)))
	list, err := h.coord.ListByStatus(c.Request.Context(), status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	session, err := h.coord.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Start handles POST /sessions/:id/start (host only).
func (h *Handler) Start(c *gin.Context) {
	h.hostTransition(c, h.coord.Start)
}

// Pause handles POST /sessions/:id/pause (host only).
func (h *Handler) Pause(c *gin.Context) {
	h.hostTransition(c, h.coord.Pause)
}

// Resume handles POST /sessions/:id/resume (host only).
func (h *Handler) Resume(c *gin.Context) {
	h.hostTransition(c, h.coord.Resume)
}

// End handles POST /sessions/:id/end (host only).
func (h *Handler) End(c *gin.Context) {
	h.hostTransition(c, h.coord.End)
}

// Join handles POST /sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	userID, ok := requestUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	att, err := h.coord.Join(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, att)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	userID, ok := requestUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if err := h.coord.Leave(c.Request.Context(), id, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ViewerCount handles GET /sessions/:id/viewers/count.
func (h *Handler) ViewerCount(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	count, err := h.coord.CurrentCount(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"count": count})
}

type postChatRequest struct {
	Body string `json:"body" binding:"required"`
	Kind string `json:"kind"`
}

// PostChat handles POST /sessions/:id/chat.
func (h *Handler) PostChat(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	userID, ok := requestUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req postChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	msg, err := h.coord.PostChat(c.Request.Context(), id, userID, req.Body, models.MessageKind(req.Kind))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// ChatSince handles GET /sessions/:id/chat?since=0&limit=100.
func (h *Handler) ChatSince(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	since, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	msgs, err := h.coord.ChatSince(c.Request.Context(), id, since, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, msgs)
}

// Analytics handles GET /sessions/:id/analytics (latest sample per metric).
func (h *Handler) Analytics(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	latest, err := h.coord.LatestMetrics(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, latest)
}

// AnalyticsSeries handles GET /sessions/:id/analytics/series. The metric
// query parameter selects which sample history to return, oldest first.
func (h *Handler) AnalyticsSeries(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	metric := c.Query("metric")
	if metric == "" {
		response.BadRequest(c, "metric is required")
		return
	}
	series, err := h.coord.MetricSeries(c.Request.Context(), id, metric)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, series)
}

// RollupNow handles POST /sessions/:id/analytics/rollup: an on-demand
// snapshot; the ended-triggered rollup remains the final one.
func (h *Handler) RollupNow(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	result, err := h.coord.Rollup(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

type verifyIngestRequest struct {
	RoomID    string `json:"room_id" binding:"required"`
	StreamKey string `json:"stream_key" binding:"required"`
}

// VerifyIngest handles POST /ingest/verify for the media pipeline. The
// stream key is the credential; no JWT is required.
func (h *Handler) VerifyIngest(c *gin.Context) {
	var req verifyIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	session, err := h.coord.VerifyStreamKey(c.Request.Context(), req.RoomID, req.StreamKey)
	if err != nil {
		response.Unauthorized(c, "unknown room or stream key")
		return
	}
	response.OK(c, gin.H{
		"session_id": session.ID,
		"room_id":    session.RoomID,
		"status":     session.Status,
	})
}

// hostTransition guards a lifecycle transition: only the session host may
// request one. HostID is immutable, so the check is race-free outside the
// session lock.
func (h *Handler) hostTransition(c *gin.Context, fn func(ctx context.Context, id uuid.UUID) (*models.StreamingSession, error)) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	userID, ok := requestUserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	session, err := h.coord.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if session.HostID != userID {
		response.Forbidden(c, "only the host may control the stream")
		return
	}
	updated, err := fn(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, updated)
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func requestUserID(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok
}
