/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/
package logging

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"
)

// init configures pterm styles to use foreground colors only (no backgrounds).
func init() {
	pterm.Info = *pterm.Info.WithPrefix(pterm.Prefix{
		Text:  "INFO",
		Style: pterm.NewStyle(pterm.FgBlue),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Success = *pterm.Success.WithPrefix(pterm.Prefix{
		Text:  "SUCCESS",
		Style: pterm.NewStyle(pterm.FgGreen),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Warning = *pterm.Warning.WithPrefix(pterm.Prefix{
		Text:  "WARNING",
		Style: pterm.NewStyle(pterm.FgYellow),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Error = *pterm.Error.WithPrefix(pterm.Prefix{
		Text:  "ERROR",
		Style: pterm.NewStyle(pterm.FgRed),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Debug = *pterm.Debug.WithPrefix(pterm.Prefix{
		Text:  "DEBUG",
		Style: pterm.NewStyle(pterm.FgCyan),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)
}

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the process-wide colored CLI logger used by every component.
// It is the explicit owning handle for logging state (mode flags), not a
// hidden package-level side effect — callers obtain it via GetLogger and
// pass it down, or use the package-level convenience functions that defer
// to the single global instance.
type Logger struct {
	mu           sync.RWMutex
	debugEnabled bool
	quietEnabled bool
	recent       []string
	recentCap    int
}

var globalLogger = &Logger{recentCap: 200}

// GetLogger returns the process-wide logger instance.
func GetLogger() *Logger {
	return globalLogger
}

// SetDebugEnabled controls whether debug messages are shown.
func (l *Logger) SetDebugEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugEnabled = enabled
}

func (l *Logger) IsDebugEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.debugEnabled
}

// SetQuietEnabled suppresses INFO and DEBUG output (WARNING/ERROR still show).
func (l *Logger) SetQuietEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quietEnabled = enabled
}

func (l *Logger) IsQuietEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quietEnabled
}

// Logs returns a snapshot of recently emitted lines, newest last. Used by the
// dev-server debug surface to mirror CLI output to the browser.
func (l *Logger) Logs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.recent))
	copy(out, l.recent)
	return out
}

func (l *Logger) Debug(format string, args ...any)   { l.log(LogLevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)    { l.log(LogLevelInfo, format, args...) }
func (l *Logger) Warning(format string, args ...any) { l.log(LogLevelWarning, format, args...) }
func (l *Logger) Error(format string, args ...any)   { l.log(LogLevelError, format, args...) }

func (l *Logger) Success(format string, args ...any) {
	l.mu.RLock()
	quiet := l.quietEnabled
	l.mu.RUnlock()
	if quiet {
		return
	}
	message := fmt.Sprintf(format, args...)
	l.remember("SUCCESS", message)
	pterm.Success.Println(message)
}

func (l *Logger) log(level LogLevel, format string, args ...any) {
	l.mu.RLock()
	debugEnabled := l.debugEnabled
	quietEnabled := l.quietEnabled
	l.mu.RUnlock()

	if level == LogLevelDebug && !debugEnabled {
		return
	}
	if quietEnabled && (level == LogLevelInfo || level == LogLevelDebug) {
		return
	}

	message := fmt.Sprintf(format, args...)
	l.remember(level.String(), message)

	switch level {
	case LogLevelDebug:
		pterm.Debug.Println(message)
	case LogLevelInfo:
		pterm.Info.Println(message)
	case LogLevelWarning:
		pterm.Warning.Println(message)
	case LogLevelError:
		pterm.Error.Println(message)
	}
}

func (l *Logger) remember(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recent = append(l.recent, fmt.Sprintf("[%s] %s", level, message))
	if len(l.recent) > l.recentCap {
		l.recent = l.recent[len(l.recent)-l.recentCap:]
	}
}

// Convenience functions operating on the global logger.
func Debug(format string, args ...any)   { globalLogger.Debug(format, args...) }
func Info(format string, args ...any)    { globalLogger.Info(format, args...) }
func Warning(format string, args ...any) { globalLogger.Warning(format, args...) }
func Error(format string, args ...any)   { globalLogger.Error(format, args...) }
func Success(format string, args ...any) { globalLogger.Success(format, args...) }

func SetDebugEnabled(enabled bool) { globalLogger.SetDebugEnabled(enabled) }
func IsDebugEnabled() bool         { return globalLogger.IsDebugEnabled() }
func SetQuietEnabled(enabled bool) { globalLogger.SetQuietEnabled(enabled) }
func IsQuietEnabled() bool         { return globalLogger.IsQuietEnabled() }
func Logs() []string               { return globalLogger.Logs() }
