// Copyright 2025 Tomo Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errp wraps github.com/pkg/errors so that every error created in this module carries a
// stack trace. Print with "%+v" to see it.
package errp

import (
	"fmt"

	"github.com/pkg/errors"
)

// New returns an error with the given message and the current stack.
func New(message string) error {
	return errors.New(message)
}

// Newf is like New, with formatting.
func Newf(format string, args ...interface{}) error {
	return errors.New(fmt.Sprintf(format, args...))
}

// WithStack annotates err with the current stack. Returns nil if err is nil.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// WithMessage prefixes err with message. Returns nil if err is nil.
func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

// Wrap is WithStack followed by WithMessage. Returns nil if err is nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is like Wrap, with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause returns the innermost error.
func Cause(err error) error {
	return errors.Cause(err)
}
