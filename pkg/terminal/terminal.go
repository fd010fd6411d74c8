package terminal

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/auth"
	"github.com/antibyte/retroforth/pkg/configuration"
	"github.com/antibyte/retroforth/pkg/logger"
	"github.com/antibyte/retroforth/pkg/resources"
	"github.com/antibyte/retroforth/pkg/shared"
)

const welcomeMessage = "RetroForth ready"

// TerminalHandler verwaltet WebSocket-Verbindungen und Interpreter-Sitzungen
type TerminalHandler struct {
	upgrader  websocket.Upgrader
	resources *resources.SessionManager
	library   ProgramStore
	limits    resources.Limits
	validator *JSONValidator

	mutex    sync.RWMutex
	sessions map[string]*Session // SessionID -> Session
	clients  map[string]*Client  // SessionID -> verbundener Client

	writeWait      time.Duration
	pongWait       time.Duration
	maxMessageSize int64
	channelBuffer  int
	maxPending     int
}

// NewTerminalHandler erstellt einen neuen TerminalHandler. library darf nil
// sein; load, save und list melden dann einen Fehler.
func NewTerminalHandler(sm *resources.SessionManager, library ProgramStore) *TerminalHandler {
	h := &TerminalHandler{
		resources:      sm,
		library:        library,
		limits:         resources.LimitsFromConfig(),
		validator:      NewJSONValidator(configuration.GetInt("Security", "max_message_length", MaxJSONStringLen)),
		sessions:       make(map[string]*Session),
		clients:        make(map[string]*Client),
		writeWait:      getWriteWait(),
		pongWait:       getPongWait(),
		maxMessageSize: getMaxMessageSize(),
		channelBuffer:  getMaxChannelBuffer(),
		maxPending:     configuration.GetInt("Network", "max_pending_lines", 256),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}
	sm.OnExpire = h.CloseSession
	return h
}

// checkOrigin erlaubt Anfragen ohne Origin (Nicht-Browser), die konfigurierten
// Origins oder, ohne Konfiguration, den eigenen Host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := configuration.GetList("Security", "allowed_origins")
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, a := range allowed {
		if origin == a {
			return true
		}
	}
	logger.Warn(logger.AreaSecurity, "WebSocket request from disallowed origin rejected: %s", origin)
	return false
}

// HandleWebSocket verarbeitet eingehende WebSocket-Verbindungen
func (h *TerminalHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ipAddress := auth.ClientIP(r)
	logger.Debug(logger.AreaWebSocket, "New WebSocket connection attempt from %s", ipAddress)

	session, resumed, err := h.sessionFor(r, ipAddress)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, resources.ErrTooManyFromIP) {
			status = http.StatusTooManyRequests
		}
		logger.Warn(logger.AreaSecurity, "Session rejected for %s: %v", ipAddress, err)
		http.Error(w, "Server overloaded", status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(logger.AreaWebSocket, "WebSocket upgrade failed for %s: %v", ipAddress, err)
		if !resumed {
			h.CloseSession(session.ID)
		}
		return
	}

	token, err := auth.GenerateSessionToken(session.ID)
	if err != nil {
		logger.Error(logger.AreaAuth, "Token generation failed for session %s: %v", session.ID, err)
	}

	client := newClient(h, conn, session, ipAddress)
	client.Send(shared.Message{Type: shared.MessageTypeSession, SessionID: session.ID, Content: token})
	if resumed {
		client.Send(shared.LineMessage("session resumed"))
	} else {
		client.Send(shared.LineMessage(welcomeMessage))
	}
	h.attach(client)

	go client.writePump()
	go client.readPump()
	logger.Info(logger.AreaWebSocket, "Client connected: %s (Session: %s, resumed: %t)", ipAddress, session.ID, resumed)
}

// sessionFor re-attaches to the session named by a valid token or starts a
// new one.
func (h *TerminalHandler) sessionFor(r *http.Request, ipAddress string) (*Session, bool, error) {
	if tokenString, err := auth.ExtractTokenFromRequest(r); err == nil {
		claims, err := auth.ValidateSessionToken(tokenString)
		if err != nil {
			logger.Debug(logger.AreaAuth, "Ignoring token from %s: %v", ipAddress, err)
		} else if session := h.Session(claims.SessionID); session != nil && h.resources.Exists(session.ID) {
			h.resources.Touch(session.ID)
			return session, true, nil
		}
	}

	id := uuid.New().String()
	if err := h.resources.RegisterSession(id, ipAddress); err != nil {
		return nil, false, err
	}
	session, err := NewSession(id, ipAddress, h.limits.Scaled(h.resources.Count()), h.library, h.maxPending)
	if err != nil {
		h.resources.UnregisterSession(id)
		return nil, false, err
	}

	h.mutex.Lock()
	h.sessions[id] = session
	h.mutex.Unlock()
	return session, false, nil
}

// attach makes client the session's output; a previous client of the same
// session is disconnected.
func (h *TerminalHandler) attach(client *Client) {
	h.mutex.Lock()
	previous := h.clients[client.session.ID]
	h.clients[client.session.ID] = client
	h.mutex.Unlock()

	if previous != nil {
		logger.Info(logger.AreaWebSocket, "Replacing client of session %s", client.session.ID)
		previous.close()
	}
	client.session.Attach(client.Send)
}

// detach wird vom readPump beim Verbindungsende aufgerufen. Die Session
// bleibt bis zum Inaktivitäts-Timeout erhalten.
func (h *TerminalHandler) detach(client *Client) {
	h.mutex.Lock()
	current := h.clients[client.session.ID] == client
	if current {
		delete(h.clients, client.session.ID)
	}
	h.mutex.Unlock()

	if current {
		client.session.Attach(nil)
	}
	client.close()
}

// Session returns the live session with id, or nil.
func (h *TerminalHandler) Session(id string) *Session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sessions[id]
}

// SessionCount gibt die Anzahl laufender Interpreter zurück
func (h *TerminalHandler) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// CloseSession stops the interpreter and disconnects its client. It is the
// resource manager's expiry callback.
func (h *TerminalHandler) CloseSession(id string) {
	h.mutex.Lock()
	session := h.sessions[id]
	client := h.clients[id]
	delete(h.sessions, id)
	delete(h.clients, id)
	h.mutex.Unlock()

	if session != nil {
		session.Close()
	}
	if client != nil {
		client.close()
	}
	if h.resources.Exists(id) {
		h.resources.UnregisterSession(id)
	}
}

// Shutdown closes all sessions.
func (h *TerminalHandler) Shutdown() {
	h.mutex.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mutex.RUnlock()

	for _, id := range ids {
		h.CloseSession(id)
	}
	logger.Info(logger.AreaTerminal, "Terminal handler shut down (%d sessions)", len(ids))
}

// dispatch führt eine validierte Client-Anfrage aus
func (h *TerminalHandler) dispatch(client *Client, req shared.Request) error {
	session := client.session
	switch req.Type {
	case shared.MessageTypeText:
		return session.Submit(req.Content)
	case shared.MessageTypeKeyDown:
		return session.KeyPress(req.Key)
	case shared.MessageTypeLoad:
		return session.Load(req.Content)
	case shared.MessageTypeSave:
		return session.Save(req.Content)
	case shared.MessageTypeList:
		return session.List()
	case shared.MessageTypeDelete:
		return session.Delete(req.Content)
	}
	return errors.Wrapf(ErrUnknownType, "%d", req.Type)
}
