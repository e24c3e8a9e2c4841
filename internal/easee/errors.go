package easee

import "errors"

var (
	ErrNoCredentials = errors.New("easee: username and password required")
	ErrUnauthorized  = errors.New("easee: unauthorized")
	ErrNoDevice      = errors.New("easee: no charger or equalizer configured")
)
