package app

import "errors"

// ErrJournalDisabled is returned by journal reads when journal.enabled is off.
var ErrJournalDisabled = errors.New("journal disabled; set journal.enabled")
