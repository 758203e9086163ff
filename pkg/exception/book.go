package exception

import "errors"

var (
	ErrBookEmptySide         = errors.New("book: side has no levels")
	ErrBookInvalidSnapshot   = errors.New("book: invalid snapshot")
	ErrBookPriorityViolation = errors.New("book: match maker is not at level head")
	ErrBookCrossed           = errors.New("book: best bid crossed best ask")
	ErrBookUnknownSide       = errors.New("book: unknown side")
)
