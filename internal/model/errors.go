package model

import "errors"

var ErrInvalidRole = errors.New("invalid message role")
