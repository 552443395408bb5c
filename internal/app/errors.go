package app

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidInput       = errors.New("invalid input")
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageEmpty       = errors.New("message content is empty")
	ErrExchangeInProgress = errors.New("another message is being answered in this chat")
	ErrRateLimited        = errors.New("too many messages, slow down")
	ErrInternal           = errors.New("internal error")

	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)
