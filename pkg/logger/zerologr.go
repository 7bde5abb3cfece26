// Copyright 2019 Jorn Friedrich Dreyer
// Modified 2021 Serhii Mikhno
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger implements github.com/go-logr/logr on top of zerolog
// (github.com/rs/zerolog). Verbosity maps onto zerolog levels:
// V(0) is info, V(1) is debug and V(2) and above is trace.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/rs/zerolog"
)

const (
	debugVerbosity = 1
	traceVerbosity = 2
	timeFormat     = "2006-01-02 15:04:05.000"
)

var (
	mu     sync.RWMutex
	output io.Writer = consoleWriter(os.Stdout)
)

// GlobalConfig sets the process-wide log threshold.
type GlobalConfig struct {
	Level string `mapstructure:"level"`
}

// SetGlobalOptions applies the level to every logger created by this package.
func SetGlobalOptions(c GlobalConfig) {
	zerolog.SetGlobalLevel(ParseLevel(c.Level))
}

// SetOutput redirects loggers created after the call.
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()
}

// Options that can be passed to NewWithOptions
type Options struct {
	// Name is an optional name of the logger
	Name string
	// Level caps this logger below the global level, empty means no cap
	Level string
	// Logger is an instance of zerolog, if nil a console logger is used
	Logger *zerolog.Logger
}

// New returns a console logr.Logger implemented by zerolog.
func New() logr.Logger {
	return NewWithOptions(Options{})
}

// NewWithOptions returns a logr.Logger implemented by zerolog.
func NewWithOptions(opts Options) logr.Logger {
	if opts.Logger == nil {
		mu.RLock()
		w := output
		mu.RUnlock()
		l := zerolog.New(w).With().Timestamp().Logger()
		if opts.Level != "" {
			l = l.Level(ParseLevel(opts.Level))
		}
		opts.Logger = &l
	}
	return logger{
		l:    opts.Logger,
		name: opts.Name,
	}
}

// logger is a logr.Logger that uses zerolog to log.
type logger struct {
	l         *zerolog.Logger
	verbosity int
	name      string
	values    []interface{}
}

func (l logger) level() zerolog.Level {
	switch {
	case l.verbosity < debugVerbosity:
		return zerolog.InfoLevel
	case l.verbosity < traceVerbosity:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

func (l logger) Enabled() bool {
	lvl := l.level()
	return lvl >= zerolog.GlobalLevel() && lvl >= l.l.GetLevel()
}

func (l logger) Info(msg string, keysAndVals ...interface{}) {
	if !l.Enabled() {
		return
	}
	e := l.l.WithLevel(l.level())
	if l.name != "" {
		e.Str("name", l.name)
	}
	add(e, l.values)
	add(e, keysAndVals)
	e.Msg(msg)
}

func (l logger) Error(err error, msg string, keysAndVals ...interface{}) {
	e := l.l.Error().Err(err)
	if l.name != "" {
		e.Str("name", l.name)
	}
	add(e, l.values)
	add(e, keysAndVals)
	e.Msg(msg)
}

func (l logger) V(verbosity int) logr.Logger {
	n := l.clone()
	n.verbosity += verbosity
	return n
}

// WithName returns a new logr.Logger with the specified name appended.
// Name elements are separated by '/'.
func (l logger) WithName(name string) logr.Logger {
	n := l.clone()
	if len(l.name) > 0 {
		n.name = l.name + "/"
	}
	n.name += name
	return n
}

func (l logger) WithValues(kvList ...interface{}) logr.Logger {
	n := l.clone()
	n.values = append(n.values, kvList...)
	return n
}
