// Package sentinel holds infrastructure error facts shared by stores and
// services. Callers wrap them with context and match with errors.Is.
package sentinel

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrStorage  = errors.New("storage failure")
)
