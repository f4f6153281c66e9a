// Copyright 2026 Google LLC
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

// Package logging provides the shared logger for the gketune CLI.
package logging

import (
	"github.com/sirupsen/logrus"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetDebugLogging enables debug-level output.
func SetDebugLogging() {
	logrus.SetLevel(logrus.DebugLevel)
}

// Debug logs a formatted message at debug level.
func Debug(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}

// Info logs a formatted message at info level.
func Info(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

// Warn logs a formatted message at warning level.
func Warn(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

// Error logs a formatted message at error level.
func Error(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}

// Fatal logs a formatted message at fatal level and exits with a
// non-zero status.
func Fatal(format string, args ...interface{}) {
	logrus.Fatalf(format, args...)
}
