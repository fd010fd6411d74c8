package resources

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/configuration"
	"github.com/antibyte/retroforth/pkg/logger"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrTooManySessions   = errors.New("maximum number of sessions reached")
	ErrTooManyFromIP     = errors.New("maximum sessions per IP reached")
	ErrMessageRateLimit  = errors.New("message rate limit exceeded")
	ErrBandwidthExceeded = errors.New("bandwidth limit exceeded")
)

// SessionManager verwaltet die Ressourcen der WebSocket-Sessions
type SessionManager struct {
	sessions      map[string]*SessionResource // SessionID -> SessionResource
	sessionsMutex sync.RWMutex

	maxSessions      int
	maxSessionsPerIP int
	maxMessages      int64
	maxBandwidth     int64

	// OnExpire wird für jede wegen Inaktivität entfernte Session aufgerufen
	OnExpire func(sessionID string)

	now func() time.Time
}

// SessionResource verwaltet die Ressourcen einer einzelnen Session
type SessionResource struct {
	SessionID     string
	IPAddress     string
	CreatedAt     time.Time
	LastActivity  time.Time
	WindowStart   time.Time
	MessageCount  int64 // Nachrichten im aktuellen Fenster
	BandwidthUsed int64 // Bytes im aktuellen Fenster
	TotalMessages int64
}

// NewSessionManager erstellt einen Session-Manager mit Limits aus settings.cfg
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:         make(map[string]*SessionResource),
		maxSessions:      configuration.GetInt("Server", "max_sessions", 100),
		maxSessionsPerIP: configuration.GetInt("Security", "max_sessions_per_ip", 5),
		maxMessages:      int64(configuration.GetInt("Security", "rate_limit_messages", 600)),
		maxBandwidth:     int64(configuration.GetInt("Security", "rate_limit_bandwidth", 262144)),
		now:              time.Now,
	}
}

// RegisterSession registriert eine neue Session; eine bekannte Session wird nur
// als aktiv markiert.
func (sm *SessionManager) RegisterSession(sessionID, ipAddress string) error {
	sm.sessionsMutex.Lock()
	defer sm.sessionsMutex.Unlock()

	now := sm.now()
	if existing, exists := sm.sessions[sessionID]; exists {
		existing.LastActivity = now
		return nil
	}

	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return errors.Wrapf(ErrTooManySessions, "%d active", len(sm.sessions))
	}

	ipSessionCount := 0
	for _, session := range sm.sessions {
		if session.IPAddress == ipAddress {
			ipSessionCount++
		}
	}
	if sm.maxSessionsPerIP > 0 && ipSessionCount >= sm.maxSessionsPerIP {
		return errors.Wrapf(ErrTooManyFromIP, "%s has %d", ipAddress, ipSessionCount)
	}

	sm.sessions[sessionID] = &SessionResource{
		SessionID:    sessionID,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActivity: now,
		WindowStart:  now,
	}
	logger.Info(logger.AreaResources, "Session registered: %s (IP: %s)", sessionID, ipAddress)
	return nil
}

// UnregisterSession entfernt eine Session
func (sm *SessionManager) UnregisterSession(sessionID string) error {
	sm.sessionsMutex.Lock()
	defer sm.sessionsMutex.Unlock()
	return sm.unregisterLocked(sessionID)
}

func (sm *SessionManager) unregisterLocked(sessionID string) error {
	session, exists := sm.sessions[sessionID]
	if !exists {
		return errors.Wrap(ErrSessionNotFound, sessionID)
	}
	delete(sm.sessions, sessionID)
	logger.Info(logger.AreaResources, "Session unregistered: %s (Duration: %v, Messages: %d)",
		sessionID, sm.now().Sub(session.CreatedAt), session.TotalMessages)
	return nil
}

// CheckSessionLimits zählt eine eingehende Nachricht und prüft die
// Minutenlimits der Session.
func (sm *SessionManager) CheckSessionLimits(sessionID string, messageSize int) error {
	sm.sessionsMutex.Lock()
	defer sm.sessionsMutex.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return errors.Wrap(ErrSessionNotFound, sessionID)
	}

	now := sm.now()
	if now.Sub(session.WindowStart) >= time.Minute {
		session.WindowStart = now
		session.MessageCount = 0
		session.BandwidthUsed = 0
	}
	session.MessageCount++
	session.TotalMessages++
	session.BandwidthUsed += int64(messageSize)
	session.LastActivity = now

	if sm.maxMessages > 0 && session.MessageCount > sm.maxMessages {
		return errors.Wrapf(ErrMessageRateLimit, "%d > %d per minute", session.MessageCount, sm.maxMessages)
	}
	if sm.maxBandwidth > 0 && session.BandwidthUsed > sm.maxBandwidth {
		return errors.Wrapf(ErrBandwidthExceeded, "%d > %d bytes per minute", session.BandwidthUsed, sm.maxBandwidth)
	}
	return nil
}

// Touch markiert eine Session als aktiv, ohne Limits zu zählen
func (sm *SessionManager) Touch(sessionID string) {
	sm.sessionsMutex.Lock()
	defer sm.sessionsMutex.Unlock()
	if session, exists := sm.sessions[sessionID]; exists {
		session.LastActivity = sm.now()
	}
}

// Exists reports whether sessionID is registered.
func (sm *SessionManager) Exists(sessionID string) bool {
	sm.sessionsMutex.RLock()
	defer sm.sessionsMutex.RUnlock()
	_, exists := sm.sessions[sessionID]
	return exists
}

// Count gibt die Anzahl aktiver Sessions zurück
func (sm *SessionManager) Count() int {
	sm.sessionsMutex.RLock()
	defer sm.sessionsMutex.RUnlock()
	return len(sm.sessions)
}

// GetSessionResource gibt eine Kopie der Ressourcen-Information zurück
func (sm *SessionManager) GetSessionResource(sessionID string) (SessionResource, error) {
	sm.sessionsMutex.RLock()
	defer sm.sessionsMutex.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return SessionResource{}, errors.Wrap(ErrSessionNotFound, sessionID)
	}
	return *session, nil
}

// GetSessionStats gibt Statistiken über alle Sessions zurück
func (sm *SessionManager) GetSessionStats() map[string]interface{} {
	sm.sessionsMutex.RLock()
	defer sm.sessionsMutex.RUnlock()

	totalMessages := int64(0)
	ipCounts := make(map[string]int)
	for _, session := range sm.sessions {
		totalMessages += session.TotalMessages
		ipCounts[session.IPAddress]++
	}

	return map[string]interface{}{
		"total_sessions": len(sm.sessions),
		"total_messages": totalMessages,
		"unique_ips":     len(ipCounts),
		"max_sessions":   sm.maxSessions,
	}
}

// CleanupInactiveSessions entfernt Sessions, die länger als maxInactiveTime
// inaktiv waren, und gibt ihre IDs zurück.
func (sm *SessionManager) CleanupInactiveSessions(maxInactiveTime time.Duration) []string {
	sm.sessionsMutex.Lock()
	now := sm.now()
	var expired []string
	for sessionID, session := range sm.sessions {
		if now.Sub(session.LastActivity) > maxInactiveTime {
			expired = append(expired, sessionID)
		}
	}
	for _, sessionID := range expired {
		logger.Info(logger.AreaResources, "Cleaning up inactive session: %s", sessionID)
		sm.unregisterLocked(sessionID)
	}
	onExpire := sm.OnExpire
	sm.sessionsMutex.Unlock()

	// Callback außerhalb des Locks, damit er den Manager wieder benutzen darf
	if onExpire != nil {
		for _, sessionID := range expired {
			onExpire(sessionID)
		}
	}
	return expired
}

// StartPeriodicCleanup bereinigt inaktive Sessions, bis ctx beendet wird
func (sm *SessionManager) StartPeriodicCleanup(ctx context.Context, interval, maxInactiveTime time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sm.CleanupInactiveSessions(maxInactiveTime)
			case <-ctx.Done():
				return
			}
		}
	}()
}
