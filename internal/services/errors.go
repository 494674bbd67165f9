// Package services defines the business logic behind the user's actions:
// browsing counterparts, chatting with their AI personas, requesting and
// answering matches, switching to real chats, and running autopilot.
// This file centralizes the service-level error values so that handlers can
// map them to HTTP results consistently.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"

	"github.com/tbourn/go-auras-backend/internal/relationship"
)

// Counterpart and chat errors.
var (
	// ErrProfileNotFound indicates that no counterpart with the requested id
	// exists in the profile catalog.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrEmptyMessage is returned when a message to send is empty after
	// trimming whitespace.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a message exceeds the configured
	// maximum length.
	ErrMessageTooLong = errors.New("message too long")

	// ErrRealChatOnly is returned for AI-only actions (such as autopilot)
	// on a conversation that has switched to the real person.
	ErrRealChatOnly = errors.New("conversation is with the real person")

	// ErrChatNotFound indicates that there was nothing stored for the
	// counterpart when deleting a chat.
	ErrChatNotFound = errors.New("chat not found")
)

// Match errors.
var (
	// ErrMatchNotFound indicates that no match record has the requested id.
	ErrMatchNotFound = errors.New("match not found")

	// ErrAlreadyMatched is returned when requesting a match with a
	// counterpart the user is already matched with.
	ErrAlreadyMatched = errors.New("already matched")

	// ErrInvalidTransition is returned when a match record cannot move to
	// the requested status (for example, accepting a declined request).
	ErrInvalidTransition = relationship.ErrInvalidTransition

	// ErrInvalidPreferences is returned when saved preferences fail
	// validation.
	ErrInvalidPreferences = relationship.ErrInvalidPreferences
)
