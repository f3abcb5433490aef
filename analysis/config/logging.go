// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
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

package config

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	// ErrLevel=1 - the minimum level of logging.
	ErrLevel LogLevel = iota + 1

	// WarnLevel=2 - the level for logging warnings, and errors
	WarnLevel

	// InfoLevel=3 - the level for logging high-level information, results
	InfoLevel

	// DebugLevel=4 - the level for debugging information. The tool will run properly on large fact databases with
	// that level of debug information.
	DebugLevel

	// TraceLevel=5 - the level for tracing every step of the traversals. Only useful on small inputs.
	TraceLevel
)

// LogGroup is a leveled logger. Messages at a level above the group's level are dropped before formatting.
// Trace messages are emitted as zap debug entries with a trace marker.
type LogGroup struct {
	level       LogLevel
	silenceWarn bool
	logger      *zap.Logger
	sugar       *zap.SugaredLogger
}

// NewLogGroup returns a log group that is configured to the logging settings stored inside the config. Logs are
// written to stderr, and additionally in JSON to the config's log file if it is set.
func NewLogGroup(config *Config) *LogGroup {
	cores := []zapcore.Core{consoleCore(zapcore.Lock(os.Stderr))}
	if config.LogFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), fileWriter, zapcore.DebugLevel))
	}
	l := NewLogGroupWithCore(LogLevel(config.LogLevel), zapcore.NewTee(cores...))
	l.silenceWarn = config.SilenceWarn
	return l
}

// NewLogGroupWithCore returns a log group writing to core. The level of the group determines which messages are
// passed to the core.
func NewLogGroupWithCore(level LogLevel, core zapcore.Core) *LogGroup {
	logger := zap.New(core, zap.AddStacktrace(zap.DPanicLevel))
	return &LogGroup{level: level, logger: logger, sugar: logger.Sugar()}
}

// NewNopLogGroup returns a log group that discards everything
func NewNopLogGroup() *LogGroup {
	return NewLogGroupWithCore(ErrLevel, zapcore.NewNopCore())
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func consoleCore(w zapcore.WriteSyncer) zapcore.Core {
	cfg := encoderConfig()
	cfg.EncodeName = func(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + loggerName + "]")
	}
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), w, zapcore.DebugLevel)
}

// SetAllOutput replaces the outputs of the log group with a single console output to the writer provided
func (l *LogGroup) SetAllOutput(w io.Writer) {
	l.logger = zap.New(consoleCore(zapcore.AddSync(w)))
	l.sugar = l.logger.Sugar()
}

// Named returns a child log group whose messages are tagged with the component name
func (l *LogGroup) Named(component string) *LogGroup {
	child := l.logger.Named(component)
	return &LogGroup{level: l.level, silenceWarn: l.silenceWarn, logger: child, sugar: child.Sugar()}
}

// Level returns the level of the log group
func (l *LogGroup) Level() LogLevel {
	return l.level
}

// LogsDebug returns true if the group logs debug messages
func (l *LogGroup) LogsDebug() bool {
	return l.level >= DebugLevel
}

// LogsTrace returns true if the group logs trace messages
func (l *LogGroup) LogsTrace() bool {
	return l.level >= TraceLevel
}

// Tracef prints to the debug output with a trace marker. Arguments are handled in the manner of Printf
func (l *LogGroup) Tracef(format string, v ...any) {
	if l.level >= TraceLevel {
		l.logger.Debug(fmt.Sprintf(format, v...), zap.Bool("trace", true))
	}
}

// Debugf prints to the debug output. Arguments are handled in the manner of Printf
func (l *LogGroup) Debugf(format string, v ...any) {
	if l.level >= DebugLevel {
		l.sugar.Debugf(format, v...)
	}
}

// Infof prints to the info output. Arguments are handled in the manner of Printf
func (l *LogGroup) Infof(format string, v ...any) {
	if l.level >= InfoLevel {
		l.sugar.Infof(format, v...)
	}
}

// Warnf prints to the warning output, unless warnings are silenced. Arguments are handled in the manner of Printf
func (l *LogGroup) Warnf(format string, v ...any) {
	if l.level >= WarnLevel && !l.silenceWarn {
		l.sugar.Warnf(format, v...)
	}
}

// Errorf prints to the error output. Arguments are handled in the manner of Printf
func (l *LogGroup) Errorf(format string, v ...any) {
	if l.level >= ErrLevel {
		l.sugar.Errorf(format, v...)
	}
}

// Zap returns the underlying logger, for applications that need a zap logger as input
func (l *LogGroup) Zap() *zap.Logger {
	return l.logger
}

// Sync flushes the buffered log entries
func (l *LogGroup) Sync() error {
	return l.logger.Sync()
}
