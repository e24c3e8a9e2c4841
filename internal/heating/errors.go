package heating

import "errors"

var (
	ErrInvalidAction     = errors.New("invalid action")
	ErrInvalidWindow     = errors.New("invalid clock window")
	ErrInvalidPolicy     = errors.New("invalid heating policy")
	ErrMissingDependency = errors.New("missing engine dependency")
	ErrCycleInProgress   = errors.New("decision cycle already in progress")
	ErrCyclePanic        = errors.New("decision cycle panicked")
	ErrPublish           = errors.New("publish action")
)
