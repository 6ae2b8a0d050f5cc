// Package collab manages ephemeral collaboration sessions (whiteboard,
// document, meeting). Sessions have a single monotonic transition,
// active -> ended; ended sessions stay queryable until process shutdown.
package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"teampulse/internal/room"
	"teampulse/internal/ws"
	"teampulse/pkg/interfaces"
	"teampulse/pkg/types"
)

// StatusListener observes session lifecycle transitions. Called with
// internal state locked; implementations must not call back into the
// Manager.
type StatusListener interface {
	SessionStarted(kind string)
	SessionEnded(kind string)
}

// Manager owns all collaboration sessions. Participants are user ids
// resolved through the registry at delivery time.
type Manager struct {
	registry  *ws.Registry
	rooms     *room.Manager
	authority interfaces.TeamAuthority

	mu           sync.Mutex
	sessions     map[string]*types.CollabSession
	userSessions map[string]map[string]struct{} // userID -> active session ids

	listeners []StatusListener
}

// NewManager creates a session manager.
func NewManager(registry *ws.Registry, rooms *room.Manager, authority interfaces.TeamAuthority) *Manager {
	return &Manager{
		registry:     registry,
		rooms:        rooms,
		authority:    authority,
		sessions:     make(map[string]*types.CollabSession),
		userSessions: make(map[string]map[string]struct{}),
	}
}

// AddStatusListener registers a listener. Call during assembly.
func (m *Manager) AddStatusListener(l StatusListener) {
	m.listeners = append(m.listeners, l)
}

// Create starts a new session with the creator as sole participant and
// announces it to the team's general room (not the session itself).
func (m *Manager) Create(teamID, creatorID, kind string, metadata map[string]any) (*types.CollabSession, error) {
	if !types.IsValidSessionKind(kind) {
		return nil, types.ErrInvalidSessionKind
	}

	now := time.Now()
	session := &types.CollabSession{
		ID:           uuid.New().String(),
		TeamID:       teamID,
		Kind:         kind,
		CreatorID:    creatorID,
		Participants: []string{creatorID},
		Status:       types.SessionStatusActive,
		Metadata:     metadata,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	if m.userSessions[creatorID] == nil {
		m.userSessions[creatorID] = make(map[string]struct{})
	}
	m.userSessions[creatorID][session.ID] = struct{}{}
	for _, l := range m.listeners {
		l.SessionStarted(kind)
	}
	m.mu.Unlock()

	announce := types.NewEvent(types.EventSessionCreated, types.SessionCreatedPayload{
		SessionID:    session.ID,
		TeamID:       teamID,
		Kind:         kind,
		CreatorID:    creatorID,
		Participants: []string{creatorID},
	})
	// The creator is acked directly by the gateway; excluding them here
	// keeps the announce from arriving twice when they sit in the general
	// room.
	generalRoom := types.RoomID{TeamID: teamID, RoomType: types.GeneralRoomType}
	if err := m.rooms.BroadcastExcept(generalRoom, announce, creatorID); err != nil {
		// No general room open right now; the creator still gets the ack
		// from the gateway.
		log.Printf("Session announce skipped: session=%s team=%s err=%v", session.ID, teamID, err)
	}

	log.Printf("Created session: id=%s team=%s kind=%s creator=%s", session.ID, teamID, kind, creatorID)
	return snapshot(session), nil
}

// Join adds a user to an active session and notifies the existing
// participants.
func (m *Manager) Join(sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.activeSessionLocked(sessionID)
	if err != nil {
		return err
	}
	if containsUser(session.Participants, userID) {
		return nil
	}
	// Fence against the teardown cascade: a join racing the user's
	// disconnect must not land after HandleDisconnect already detached them.
	if _, live := m.registry.GetUserConnection(userID); !live {
		return ws.ErrConnectionNotRegistered
	}

	m.deliverLocked(session.Participants, types.NewEvent(types.EventSessionJoined, types.SessionJoinedPayload{
		SessionID: sessionID,
		UserID:    userID,
	}), "")

	session.Participants = append(session.Participants, userID)
	session.LastActivity = time.Now()
	if m.userSessions[userID] == nil {
		m.userSessions[userID] = make(map[string]struct{})
	}
	m.userSessions[userID][sessionID] = struct{}{}
	return nil
}

// Leave removes a user from an active session. The remaining participants
// are notified; an emptied session auto-ends with the leaver recorded as
// the terminator. Self-removal needs no role check.
func (m *Manager) Leave(sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.activeSessionLocked(sessionID)
	if err != nil {
		return err
	}
	if !containsUser(session.Participants, userID) {
		return ErrNotAParticipant
	}

	m.detachLocked(session, userID)

	if len(session.Participants) == 0 {
		m.endLocked(session, userID)
		return nil
	}

	m.deliverLocked(session.Participants, types.NewEvent(types.EventSessionParticipantLeft, types.SessionParticipantLeftPayload{
		SessionID: sessionID,
		UserID:    userID,
	}), "")
	session.LastActivity = time.Now()
	return nil
}

// Relay delivers a session event to every participant except the sender.
// Rejected when the session is not active or the sender is not a
// participant; ended sessions never relay.
func (m *Manager) Relay(sessionID, actorID, eventType string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.activeSessionLocked(sessionID)
	if err != nil {
		return err
	}
	if !containsUser(session.Participants, actorID) {
		return ErrNotAParticipant
	}

	session.LastActivity = time.Now()
	m.deliverLocked(session.Participants, types.NewEvent(types.EventSessionEvent, types.SessionEventPayload{
		SessionID: sessionID,
		Actor:     actorID,
		EventType: eventType,
		Payload:   payload,
	}), actorID)
	return nil
}

// End terminates a session. Allowed for the creator, any current
// participant, or a holder of the team's manager role. Idempotent: ending
// an ended session is a no-op.
func (m *Manager) End(ctx context.Context, sessionID, actorID string) error {
	m.mu.Lock()
	session, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.Status == types.SessionStatusEnded {
		m.mu.Unlock()
		return nil
	}

	authorized := actorID == session.CreatorID || containsUser(session.Participants, actorID)
	if !authorized {
		teamID := session.TeamID
		m.mu.Unlock()
		role, err := m.authority.RoleOf(ctx, teamID, actorID)
		if err != nil || role != interfaces.RoleManager {
			return ErrEndNotAllowed
		}
		m.mu.Lock()
		// Re-check: the session may have ended while the lock was
		// released for the role lookup.
		session, exists = m.sessions[sessionID]
		if !exists {
			m.mu.Unlock()
			return ErrSessionNotFound
		}
		if session.Status == types.SessionStatusEnded {
			m.mu.Unlock()
			return nil
		}
	}

	m.endLocked(session, actorID)
	m.mu.Unlock()
	return nil
}

// HandleDisconnect cascades a disconnect through every session the user
// participates in: sessions they created auto-end; otherwise they simply
// leave, and an emptied session auto-ends. EndedBy records the
// disconnecting user as the triggering actor.
func (m *Manager) HandleDisconnect(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.userSessions[userID]))
	for sessionID := range m.userSessions[userID] {
		ids = append(ids, sessionID)
	}

	for _, sessionID := range ids {
		session := m.sessions[sessionID]
		if session == nil || session.Status != types.SessionStatusActive {
			continue
		}
		if session.CreatorID == userID {
			m.endLocked(session, userID)
			continue
		}
		m.detachLocked(session, userID)
		if len(session.Participants) == 0 {
			m.endLocked(session, userID)
			continue
		}
		m.deliverLocked(session.Participants, types.NewEvent(types.EventSessionParticipantLeft, types.SessionParticipantLeftPayload{
			SessionID: sessionID,
			UserID:    userID,
		}), "")
	}
}

// Get returns a snapshot of a session, ended ones included.
func (m *Manager) Get(sessionID string) (*types.CollabSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return snapshot(session), nil
}

// List returns session snapshots, optionally filtered by status.
func (m *Manager) List(status string) []*types.CollabSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*types.CollabSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		if status != "" && session.Status != status {
			continue
		}
		sessions = append(sessions, snapshot(session))
	}
	return sessions
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, session := range m.sessions {
		if session.Status == types.SessionStatusActive {
			count++
		}
	}
	return count
}

// endLocked performs the single active -> ended transition and notifies
// every participant. Callers hold m.mu and have verified status.
func (m *Manager) endLocked(session *types.CollabSession, actorID string) {
	now := time.Now()
	session.Status = types.SessionStatusEnded
	session.EndedAt = &now
	session.EndedBy = actorID
	session.LastActivity = now

	m.deliverLocked(session.Participants, types.NewEvent(types.EventSessionEnded, types.SessionEndedPayload{
		SessionID: session.ID,
		EndedBy:   actorID,
	}), "")

	// Participants stay on the record for late queries, but the active
	// index drops so future cascades skip this session.
	for _, userID := range session.Participants {
		m.dropIndexLocked(userID, session.ID)
	}
	if !containsUser(session.Participants, session.CreatorID) {
		m.dropIndexLocked(session.CreatorID, session.ID)
	}
	for _, l := range m.listeners {
		l.SessionEnded(session.Kind)
	}

	log.Printf("Ended session: id=%s ended_by=%s", session.ID, actorID)
}

func (m *Manager) detachLocked(session *types.CollabSession, userID string) {
	for i, p := range session.Participants {
		if p == userID {
			session.Participants = append(session.Participants[:i], session.Participants[i+1:]...)
			break
		}
	}
	m.dropIndexLocked(userID, session.ID)
}

func (m *Manager) dropIndexLocked(userID, sessionID string) {
	if sessions := m.userSessions[userID]; sessions != nil {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.userSessions, userID)
		}
	}
}

func (m *Manager) deliverLocked(participants []string, event types.ServerEvent, excludeUserID string) {
	for _, userID := range participants {
		if userID == excludeUserID {
			continue
		}
		conn, ok := m.registry.GetUserConnection(userID)
		if !ok {
			continue
		}
		if err := conn.Send(event); err != nil {
			log.Printf("Session delivery failed: user=%s err=%v", userID, err)
		}
	}
}

func (m *Manager) activeSessionLocked(sessionID string) (*types.CollabSession, error) {
	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if session.Status != types.SessionStatusActive {
		return nil, ErrSessionEnded
	}
	return session, nil
}

func containsUser(participants []string, userID string) bool {
	for _, p := range participants {
		if p == userID {
			return true
		}
	}
	return false
}

func snapshot(session *types.CollabSession) *types.CollabSession {
	copied := *session
	copied.Participants = append([]string(nil), session.Participants...)
	return &copied
}
