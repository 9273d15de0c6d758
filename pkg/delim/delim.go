// Package delim defines the record-terminator extension point. Every
// component that needs to recognize the end of a record consults a
// Predicate rather than hard-coding a terminator byte.
package delim

// Predicate classifies a byte as a record terminator.
type Predicate func(b byte) bool

// Newline is the default Predicate: a record ends at '\n'.
func Newline(b byte) bool {
	return b == '\n'
}
