// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"errors"
	"fmt"
)

// ErrPrecondition matches every *PreconditionError.
var ErrPrecondition = errors.New("consent: precondition violated")

// PreconditionError reports an action or session operation attempted in
// a state that does not allow it. State is never modified when one is
// returned.
type PreconditionError struct {
	// Operation is an action name, "start", or "stop".
	Operation string
	Path      Path
	Reason    string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("consent: cannot %s %s: %s", e.Operation, e.Path, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }
