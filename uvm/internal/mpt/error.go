package mpt

import "errors"

var ErrInvalidAction = errors.New("invalid action")

var errStopIteration = errors.New("iteration stopped")
