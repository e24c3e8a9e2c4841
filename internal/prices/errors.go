package prices

import "errors"

var (
	ErrInvalidResolution = errors.New("invalid price resolution")
	ErrBlockMisaligned   = errors.New("block duration is not a whole number of periods")
	ErrNonContiguous     = errors.New("price blocks are not contiguous")
	ErrNoData            = errors.New("no price data")
)
