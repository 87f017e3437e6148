package rename

import (
	"errors"
	"fmt"

	"jremap/internal/graph"
)

var ErrInconsistentMapping = errors.New("inconsistent mapping")

// InconsistentMappingError names the symbol a mapping cannot be applied to.
type InconsistentMappingError struct {
	ID     graph.SymbolID
	Reason string
}

func (e *InconsistentMappingError) Error() string {
	return fmt.Sprintf("inconsistent mapping: %s: %s", e.ID, e.Reason)
}

func (e *InconsistentMappingError) Is(target error) bool { return target == ErrInconsistentMapping }

func inconsistent(id graph.SymbolID, format string, args ...any) error {
	return &InconsistentMappingError{ID: id, Reason: fmt.Sprintf(format, args...)}
}
