package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"teampulse/internal/collab"
	"teampulse/internal/room"
	"teampulse/internal/stream"
	"teampulse/internal/ws"
	"teampulse/pkg/types"
)

// commandHandler processes one decoded command for a connection.
type commandHandler func(ctx context.Context, conn *ws.Connection, raw json.RawMessage) error

// handlers is the closed dispatch table. A command type outside this table
// is rejected with INVALID_COMMAND; nothing falls through.
func (h *Handler) handlers() map[types.CommandType]commandHandler {
	return map[types.CommandType]commandHandler{
		types.CommandJoinRoom:          h.handleJoinRoom,
		types.CommandLeaveRoom:         h.handleLeaveRoom,
		types.CommandSubscribeStream:   h.handleSubscribeStream,
		types.CommandUnsubscribeStream: h.handleUnsubscribeStream,
		types.CommandStartSession:      h.handleStartSession,
		types.CommandJoinSession:       h.handleJoinSession,
		types.CommandLeaveSession:      h.handleLeaveSession,
		types.CommandSessionEvent:      h.handleSessionEvent,
		types.CommandEndSession:        h.handleEndSession,
		types.CommandUpdatePresence:    h.handleUpdatePresence,
		types.CommandActivityPing:      h.handleActivityPing,
		types.CommandClientFocus:       h.handleClientFocus,
		types.CommandClientBlur:        h.handleClientBlur,
	}
}

// dispatch decodes and routes one inbound frame. Failures are scoped to the
// sender: an error event goes back on the same connection and the
// connection stays up.
func (h *Handler) dispatch(conn *ws.Connection, data []byte) {
	if !h.limiter.Allow(conn.ID()) {
		h.metrics.RecordCommand("unknown", "error")
		h.sendError(conn, types.CodeRateLimited, ErrRateLimited.Error())
		return
	}

	envelope, err := types.DecodeCommand(data)
	if err != nil {
		h.metrics.RecordCommand("unknown", "error")
		h.sendError(conn, types.CodeInvalidCommand, err.Error())
		return
	}

	handler, known := h.table[envelope.Type]
	if !known {
		h.metrics.RecordCommand(string(envelope.Type), "error")
		h.sendError(conn, types.CodeInvalidCommand, types.ErrUnknownCommand.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn.Touch()
	if err := handler(ctx, conn, envelope.Raw); err != nil {
		h.metrics.RecordCommand(string(envelope.Type), "error")
		code := mapErrorCode(err)
		h.metrics.RecordError("gateway", string(code))
		h.sendError(conn, code, err.Error())
		return
	}
	h.metrics.RecordCommand(string(envelope.Type), "ok")
}

func (h *Handler) handleJoinRoom(ctx context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.JoinRoomCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}

	if err := h.requireMembership(ctx, cmd.TeamID, conn.UserID()); err != nil {
		return err
	}

	id := types.RoomID{TeamID: cmd.TeamID, RoomType: cmd.RoomType}
	count, _, err := h.rooms.Join(conn, id)
	if err != nil {
		return err
	}
	if err := h.presence.Present(conn, id); err != nil {
		return err
	}
	h.metrics.RecordBroadcast(cmd.RoomType)

	return conn.Send(types.NewEvent(types.EventRoomJoined, types.RoomJoinedPayload{
		RoomID:      id.String(),
		TeamID:      cmd.TeamID,
		RoomType:    cmd.RoomType,
		MemberCount: count,
	}))
}

func (h *Handler) handleLeaveRoom(_ context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.LeaveRoomCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}

	id := types.RoomID{TeamID: cmd.TeamID, RoomType: cmd.RoomType}
	h.presence.Absent(conn.UserID(), id)
	h.rooms.Leave(conn, id)

	return conn.Send(types.NewEvent(types.EventRoomLeft, types.RoomLeftPayload{RoomID: id.String()}))
}

func (h *Handler) handleSubscribeStream(ctx context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.SubscribeStreamCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}

	if err := h.requireMembership(ctx, cmd.TeamID, conn.UserID()); err != nil {
		return err
	}

	_, err := h.streams.Subscribe(ctx, conn, cmd.TeamID, cmd.Kind, cmd.Params)
	return err
}

func (h *Handler) handleUnsubscribeStream(_ context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.UnsubscribeStreamCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}
	return h.streams.Unsubscribe(cmd.SubscriptionID, conn.ID())
}

func (h *Handler) handleStartSession(ctx context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.StartSessionCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}

	if err := h.requireMembership(ctx, cmd.TeamID, conn.UserID()); err != nil {
		return err
	}

	session, err := h.sessions.Create(cmd.TeamID, conn.UserID(), cmd.Kind, cmd.Metadata)
	if err != nil {
		return err
	}

	// The general-room announce excludes nobody, but the creator may not be
	// in that room; ack them directly.
	return conn.Send(types.NewEvent(types.EventSessionCreated, types.SessionCreatedPayload{
		SessionID:    session.ID,
		TeamID:       session.TeamID,
		Kind:         session.Kind,
		CreatorID:    session.CreatorID,
		Participants: session.Participants,
	}))
}

func (h *Handler) handleJoinSession(_ context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.JoinSessionCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}

	if err := h.sessions.Join(cmd.SessionID, conn.UserID()); err != nil {
		return err
	}
	return conn.Send(types.NewEvent(types.EventSessionJoined, types.SessionJoinedPayload{
		SessionID: cmd.SessionID,
		UserID:    conn.UserID(),
	}))
}

func (h *Handler) handleLeaveSession(_ context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.LeaveSessionCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}
	return h.sessions.Leave(cmd.SessionID, conn.UserID())
}

func (h *Handler) handleSessionEvent(_ context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.SessionEventCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}
	return h.sessions.Relay(cmd.SessionID, conn.UserID(), cmd.EventType, cmd.Payload)
}

func (h *Handler) handleEndSession(ctx context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.EndSessionCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}
	return h.sessions.End(ctx, cmd.SessionID, conn.UserID())
}

func (h *Handler) handleUpdatePresence(_ context.Context, conn *ws.Connection, raw json.RawMessage) error {
	var cmd types.UpdatePresenceCommand
	if err := decodePayload(raw, &cmd); err != nil {
		return err
	}
	h.presence.UpdateStatus(conn, cmd.Status, cmd.Activity, cmd.Location)
	return nil
}

func (h *Handler) handleActivityPing(_ context.Context, conn *ws.Connection, _ json.RawMessage) error {
	conn.Touch()
	return nil
}

func (h *Handler) handleClientFocus(_ context.Context, conn *ws.Connection, _ json.RawMessage) error {
	conn.SetMobileActive(true)
	h.streams.ResumeAll(conn.ID())
	return nil
}

func (h *Handler) handleClientBlur(_ context.Context, conn *ws.Connection, _ json.RawMessage) error {
	conn.SetMobileActive(false)
	h.streams.PauseAll(conn.ID())
	return nil
}

// requireMembership consults the team authority; authority outages surface
// as internal errors, not as denials.
func (h *Handler) requireMembership(ctx context.Context, teamID, userID string) error {
	member, err := h.authority.IsMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotATeamMember
	}
	return nil
}

// decodePayload unmarshals and validates a command payload.
func decodePayload(raw json.RawMessage, cmd interface{ Validate() error }) error {
	if err := json.Unmarshal(raw, cmd); err != nil {
		return types.ErrMalformedCommand
	}
	return cmd.Validate()
}

func (h *Handler) sendError(conn *ws.Connection, code types.ErrorCode, message string) {
	_ = conn.Send(types.NewEvent(types.EventError, types.ErrorPayload{
		Message: message,
		Code:    code,
	}))
}

// mapErrorCode translates component errors into the wire error taxonomy.
func mapErrorCode(err error) types.ErrorCode {
	switch {
	case errors.Is(err, ErrNotATeamMember),
		errors.Is(err, collab.ErrEndNotAllowed),
		errors.Is(err, collab.ErrNotAParticipant),
		errors.Is(err, stream.ErrNotSubscriptionOwner):
		return types.CodeForbidden
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, collab.ErrSessionNotFound),
		errors.Is(err, collab.ErrSessionEnded),
		errors.Is(err, stream.ErrSubscriptionNotFound):
		return types.CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return types.CodeRateLimited
	case errors.Is(err, types.ErrMalformedCommand),
		errors.Is(err, types.ErrUnknownCommand),
		errors.Is(err, types.ErrInvalidTeamID),
		errors.Is(err, types.ErrInvalidRoomType),
		errors.Is(err, types.ErrInvalidSessionKind),
		errors.Is(err, types.ErrInvalidStreamKind),
		errors.Is(err, types.ErrInvalidStatusText),
		errors.Is(err, types.ErrPayloadTooLarge):
		return types.CodeInvalidCommand
	default:
		return types.CodeInternal
	}
}
