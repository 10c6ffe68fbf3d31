package domain

import "errors"

// ErrNotFound marks a lookup that found no row. Stores wrap or return it so
// callers can tell "absent" from "failed".
var ErrNotFound = errors.New("not found")
