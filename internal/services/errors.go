package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/diewo77/go-clients/internal/sentinel"
)

// ConstraintViolation reports a unique-index conflict on Field. It matches
// sentinel.ErrConflict with errors.Is.
type ConstraintViolation struct {
	Field string
	Err   error
}

func (e *ConstraintViolation) Error() string {
	if e.Err != nil {
		return e.Field + " already exists: " + e.Err.Error()
	}
	return e.Field + " already exists"
}

func (e *ConstraintViolation) Unwrap() error { return e.Err }

func (e *ConstraintViolation) ConflictField() string { return e.Field }

func (e *ConstraintViolation) Is(target error) bool { return target == sentinel.ErrConflict }

// translateWriteError turns driver unique-constraint failures into
// *ConstraintViolation. Drivers differ in wording, so the message is matched.
func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	var cv *ConstraintViolation
	if errors.As(err, &cv) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if !errors.Is(err, gorm.ErrDuplicatedKey) && !strings.Contains(msg, "unique") && !strings.Contains(msg, "duplicate") {
		return err
	}
	field := "record"
	switch {
	case strings.Contains(msg, "phone"):
		field = "phone"
	case strings.Contains(msg, "email"):
		field = "email"
	}
	return &ConstraintViolation{Field: field, Err: err}
}
