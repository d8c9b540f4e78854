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

// Package logging provides leveled subsystem loggers backed by btclog.
package logging

import (
	"io"

	"github.com/btcsuite/btclog"
	"github.com/tomo-inc/app-btcext-boilerplate/util/errp"
)

// Subsystem tags.
const (
	SubsystemInstaller = "INST"
	SubsystemChannel   = "SCP"
	SubsystemLoader    = "LDR"
	SubsystemHID       = "HID"
)

// Backend creates the subsystem loggers, all writing to the same output at the same level.
type Backend struct {
	backend *btclog.Backend
	level   btclog.Level
}

// NewBackend creates a backend writing to w. level is one of trace, debug, info, warn, error,
// critical or off.
func NewBackend(w io.Writer, level string) (*Backend, error) {
	parsed, ok := btclog.LevelFromString(level)
	if !ok {
		return nil, errp.Newf("invalid log level %q", level)
	}
	return &Backend{backend: btclog.NewBackend(w), level: parsed}, nil
}

// Logger returns the logger of a subsystem.
func (backend *Backend) Logger(subsystem string) *Logger {
	log := backend.backend.Logger(subsystem)
	log.SetLevel(backend.level)
	return &Logger{log: log}
}

// Logger implements common.Logger.
type Logger struct {
	log btclog.Logger
}

// Error logs msg and err, including its stack if it has one.
func (logger *Logger) Error(msg string, err error) {
	logger.log.Errorf("%s: %+v", msg, err)
}

// Info logs msg.
func (logger *Logger) Info(msg string) {
	logger.log.Info(msg)
}

// Debug logs msg.
func (logger *Logger) Debug(msg string) {
	logger.log.Debug(msg)
}

// Warn logs msg. Not part of common.Logger.
func (logger *Logger) Warn(msg string) {
	logger.log.Warn(msg)
}
