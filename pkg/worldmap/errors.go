package worldmap

import "fmt"

// InvariantError marks a map-state invariant violation: missing landmark
// anchor, dangling framepoint predecessor, duplicate frame identifier.
// These are programmer errors, not recoverable transient conditions, and
// are raised by panicking with this type so a recover() at the pipeline
// boundary (proslam.Engine) can log the violation before re-panicking.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("worldmap: invariant violated (%s): %s", e.Invariant, e.Detail)
}

func violate(invariant, format string, args ...interface{}) {
	panic(&InvariantError{Invariant: invariant, Detail: fmt.Sprintf(format, args...)})
}
