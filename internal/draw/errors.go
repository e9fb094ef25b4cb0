package draw

import "errors"

var ErrUnknownNamePolicy = errors.New("unknown name matching policy")
