package postgres

import "github.com/go-faster/errors"

// ErrOptimisticLock surfaces a version-mismatch on a versioned UPDATE/UPSERT.
// Dialogue saves
// bypass this entirely when checkVersion is false (see dialogue.go).
var ErrOptimisticLock = errors.New("postgres: optimistic lock conflict")
