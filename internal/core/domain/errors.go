package domain

import "errors"

var (
	ErrNotInitialized      = errors.New("space not initialized")
	ErrSpaceStopped        = errors.New("space stopped")
	ErrAlreadyInitialized  = errors.New("space already initialized")
	ErrSpeakerNotFound     = errors.New("speaker not found")
	ErrHandshakeIncomplete = errors.New("speaker handshake incomplete")
	ErrChatUnavailable     = errors.New("control channel unavailable")
	ErrClientStopped       = errors.New("client stopped")
	ErrPublisherNotFound   = errors.New("publisher not found")
)
