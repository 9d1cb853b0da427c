package party

import "errors"

var (
	// ErrRoomNotFound indicates the room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomAlreadyActive indicates a create on a room that already has members.
	ErrRoomAlreadyActive = errors.New("room already active")
	// ErrRoomFull indicates the room has reached its participant limit.
	ErrRoomFull = errors.New("room full")
	// ErrPasswordRequired indicates a join without a password on a protected room.
	ErrPasswordRequired = errors.New("password required")
	// ErrPasswordMismatch indicates a join with the wrong password.
	ErrPasswordMismatch = errors.New("password mismatch")
	// ErrNotAuthorized indicates a privileged action by a non-host.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrMessageNotFound indicates a reaction on an evicted or unknown message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrTargetNotInRoom indicates a signaling relay to a departed user.
	ErrTargetNotInRoom = errors.New("target not in room")
	// ErrUserNotInRoom indicates an operation by a user who is not a member.
	ErrUserNotInRoom = errors.New("user not in room")
	// ErrRateLimited indicates the per-user message budget was exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRoomID indicates a room id that is empty after sanitization.
	ErrInvalidRoomID = errors.New("invalid room id")
)
