// Package utils holds small helpers shared by the fusion packages.
package utils

import (
	"github.com/pkg/errors"
)

// NewUnsupportedFormatError is used when a writer is asked for a format it does not produce.
func NewUnsupportedFormatError(kind string, format interface{}) error {
	return errors.Errorf("unsupported %s format %v", kind, format)
}
