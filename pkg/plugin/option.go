// Package plugin provides the functional-options mechanism and capability
// registry shared across proslam's configuration and pluggable backends
// (currently: place-recognition implementations, see pkg/recognize).
package plugin

// Option mutates an options struct in place. Constructors named With* close
// over the value to apply and are the only supported way to build one.
type Option func(interface{})

// Apply runs every option against optionsStructPtr, in order.
func Apply(optionsStructPtr interface{}, opts ...Option) {
	for _, opt := range opts {
		opt(optionsStructPtr)
	}
}
