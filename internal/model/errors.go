package model

import (
	"errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
	ErrInvalidItem  = errors.New("invalid history item")
)
