package state

import "errors"

// ErrLocked is returned when a write to a locked address is attempted by a
// session other than the lock holder.
var ErrLocked = errors.New("clasp: address is locked")
