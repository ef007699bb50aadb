package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/movement-intake/internal/intake"
	"github.com/wolfman30/movement-intake/internal/session"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

const maxBodyBytes = 16 << 10

// Handler serves the widget's HTTP and WebSocket endpoints. Every request
// reloads the visitor's session from storage, so any replica can serve it.
type Handler struct {
	orch   *intake.Orchestrator
	deps   session.Deps
	logger *logging.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn // visitorID -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// InboundMessage is what the widget sends over the socket.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string              `json:"type"` // "session", "typing", "message", "error", "pong"
	Text      string              `json:"text,omitempty"`
	Role      string              `json:"role,omitempty"`
	VisitorID string              `json:"visitor_id,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
	Outcome   intake.Outcome      `json:"outcome,omitempty"`
	Session   *intake.SessionView `json:"session,omitempty"`
}

// StartRequest opens or resumes a visitor's conversation.
type StartRequest struct {
	VisitorID  string `json:"visitor_id"`
	PagePath   string `json:"page_path"`
	Referrer   string `json:"referrer"`
	ClientInfo string `json:"client_info"`
}

// SessionResponse wraps the rendered session.
type SessionResponse struct {
	VisitorID string             `json:"visitor_id"`
	Existing  bool               `json:"existing_conversation"`
	Session   intake.SessionView `json:"session"`
}

// MessageResponse is returned after a user turn.
type MessageResponse struct {
	Turn    intake.Turn        `json:"turn"`
	Session intake.SessionView `json:"session"`
}

// NewHandler creates a web chat handler.
func NewHandler(orch *intake.Orchestrator, deps session.Deps, logger *logging.Logger) *Handler {
	if orch == nil {
		panic("webchat: orchestrator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Handler{
		orch:   orch,
		deps:   deps,
		logger: logger,
		conns:  make(map[string]*wsConn),
	}
}

// Routes mounts the widget endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.StartSession)
	r.Post("/sessions/{visitorID}/messages", h.SendMessage)
	r.Post("/sessions/{visitorID}/open", h.OpenWidget)
	r.Post("/sessions/{visitorID}/complete", h.CompleteConversation)
	r.Delete("/sessions/{visitorID}", h.ResetSession)
	r.Get("/ws", h.HandleWebSocket)
}

// generateVisitorID creates a random visitor identifier.
func generateVisitorID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// StartSession handles POST /widget/sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	if req.VisitorID == "" {
		req.VisitorID = generateVisitorID()
	}
	if req.ClientInfo == "" {
		req.ClientInfo = r.UserAgent()
	}

	meta := session.Metadata{
		PageContext: session.DetectPageContext(req.PagePath),
		Referrer:    req.Referrer,
		ClientInfo:  req.ClientInfo,
	}
	sess, existing := h.open(r.Context(), req.VisitorID, meta)

	writeJSON(w, http.StatusOK, SessionResponse{
		VisitorID: req.VisitorID,
		Existing:  existing,
		Session:   h.orch.View(sess),
	})
}

// SendMessage handles POST /widget/sessions/{visitorID}/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, sess, err := h.orch.HandleVisitorTurn(r.Context(), visitorID, req.Text, h.loader(visitorID))
	if err != nil {
		status, msg := turnErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("webchat: turn failed", "visitor_id", visitorID, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Turn: turn, Session: h.orch.View(sess)})
}

// OpenWidget handles POST /widget/sessions/{visitorID}/open.
func (h *Handler) OpenWidget(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")
	var req struct {
		PagePath string `json:"page_path"`
	}
	_ = decodeBody(w, r, &req)

	sess := session.LoadOrCreate(r.Context(), visitorID, session.Metadata{}, h.deps)
	sess.TrackWidgetOpened(r.Context(), req.PagePath)
	w.WriteHeader(http.StatusNoContent)
}

// CompleteConversation handles POST /widget/sessions/{visitorID}/complete.
func (h *Handler) CompleteConversation(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")
	var req struct {
		ResultedInBooking bool `json:"resulted_in_booking"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := session.Lookup(r.Context(), visitorID, h.deps)
	if !ok {
		writeError(w, http.StatusNotFound, "no active conversation")
		return
	}
	sess.TrackConversationCompleted(r.Context(), req.ResultedInBooking)
	w.WriteHeader(http.StatusNoContent)
}

// ResetSession handles DELETE /widget/sessions/{visitorID}.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")
	if h.orch.State(visitorID) == intake.StateAwaitingModel {
		writeError(w, http.StatusConflict, "a reply is still on its way")
		return
	}

	sess := session.LoadOrCreate(r.Context(), visitorID, session.Metadata{}, h.deps)
	sess.Clear(r.Context())
	if _, err := h.orch.Greet(r.Context(), sess); err != nil {
		h.logger.Warn("webchat: greet after reset failed", "visitor_id", visitorID, "error", err)
	}
	writeJSON(w, http.StatusOK, SessionResponse{VisitorID: visitorID, Session: h.orch.View(sess)})
}

// ExportSession handles GET /admin/sessions/{visitorID}.
func (h *Handler) ExportSession(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")
	sess, ok := session.Lookup(r.Context(), visitorID, h.deps)
	if !ok {
		writeError(w, http.StatusNotFound, "no active conversation")
		return
	}
	writeJSON(w, http.StatusOK, sess.Export())
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	visitorID := strings.TrimSpace(r.URL.Query().Get("visitor"))
	if visitorID == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing visitor parameter"})
		return
	}
	ctx := r.Context()

	meta := session.Metadata{
		PageContext: session.DetectPageContext(r.URL.Query().Get("page")),
		Referrer:    r.Referer(),
		ClientInfo:  r.UserAgent(),
	}
	sess, _ := h.open(ctx, visitorID, meta)
	view := h.orch.View(sess)

	wsc := &wsConn{conn: conn}
	h.mu.Lock()
	h.conns[visitorID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conns[visitorID] == wsc {
			delete(h.conns, visitorID)
		}
		h.mu.Unlock()
	}()

	_ = wsc.send(OutboundMessage{Type: "session", VisitorID: visitorID, Session: &view})
	h.logger.Info("webchat: connection opened", "visitor_id", visitorID, "session_id", sess.ID())

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "visitor_id", visitorID, "error", err)
			return
		}

		switch msg.Type {
		case "ping":
			_ = wsc.send(OutboundMessage{Type: "pong"})
		case "message":
			h.processMessage(ctx, wsc, visitorID, msg.Text)
		}
	}
}

func (h *Handler) processMessage(ctx context.Context, wsc *wsConn, visitorID, text string) {
	_ = wsc.send(OutboundMessage{Type: "typing"})

	turn, sess, err := h.orch.HandleVisitorTurn(ctx, visitorID, text, h.loader(visitorID))
	if err != nil {
		_, msg := turnErrorStatus(err)
		_ = wsc.send(OutboundMessage{Type: "error", Text: msg})
		return
	}

	view := h.orch.View(sess)
	_ = wsc.send(OutboundMessage{
		Type:      "message",
		Role:      string(turn.Reply.Role),
		Text:      turn.Reply.Content,
		Timestamp: turn.Reply.Timestamp.Format(time.RFC3339),
		Outcome:   turn.Outcome,
		Session:   &view,
	})
}

// loader resolves the visitor's session once their turn slot is held.
func (h *Handler) loader(visitorID string) func(context.Context) *session.Session {
	return func(ctx context.Context) *session.Session {
		return session.LoadOrCreate(ctx, visitorID, session.Metadata{}, h.deps)
	}
}

// open resumes or starts the visitor's session and greets a new one.
func (h *Handler) open(ctx context.Context, visitorID string, meta session.Metadata) (*session.Session, bool) {
	sess := session.LoadOrCreate(ctx, visitorID, meta, h.deps)
	existing := sess.MessageCount() > 0
	if _, err := h.orch.Greet(ctx, sess); err != nil {
		h.logger.Warn("webchat: greet failed", "visitor_id", visitorID, "error", err)
	}
	return sess, existing
}

// Connected reports whether the visitor has an open socket.
func (h *Handler) Connected(visitorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[visitorID]
	return ok
}

func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, intake.ErrEmptyMessage):
		return http.StatusBadRequest, "message text is required"
	case errors.Is(err, intake.ErrTurnInProgress):
		return http.StatusConflict, "please wait for the previous reply"
	case errors.Is(err, session.ErrExpired):
		return http.StatusConflict, "your conversation expired, please reload"
	default:
		return http.StatusInternalServerError, "Sorry, something went wrong. Please try again."
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
