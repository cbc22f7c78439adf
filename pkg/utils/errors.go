// Package utils provides shared utility helpers used across chaincore.
// See Version for the module's semantic version.
package utils

import "fmt"

// Version is the semantic version of this utils package.
const Version = "v0.1.0"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
