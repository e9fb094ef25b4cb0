package session

import "errors"

var (
	ErrUnknownRoomMode = errors.New("unknown room mode: must be 'select' or 'fixed'")
	ErrEmptyCatalog    = errors.New("fixed room mode requires a room catalog")
)
