// Copyright 2015 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

// Package log implements the structured, leveled key-value logger used
// throughout the netsync core, in the style of the node's own logger.
package log

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/go-stack/stack"
)

// Lvl is a log severity level.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "crit"
	case LvlError:
		return "eror"
	case LvlWarn:
		return "warn"
	case LvlInfo:
		return "info"
	case LvlDebug:
		return "dbug"
	case LvlTrace:
		return "trce"
	default:
		return "unkn"
	}
}

// Record is a single log event.
type Record struct {
	Time  time.Time
	Lvl   Lvl
	Msg   string
	Ctx   []interface{}
	Call  stack.Call
}

// Handler consumes log Records produced by a Logger.
type Handler interface {
	Log(r *Record) error
}

// Logger writes structured key-value messages, matching the package-level
// helpers in this file. New returns a Logger with a fixed context prefixed
// onto every subsequent call.
type Logger interface {
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})

	GetHandler() Handler
	SetHandler(h Handler)
}

type logger struct {
	ctx []interface{}
	h   *swapHandler
}

type swapHandler struct {
	handler atomic.Value
}

func (s *swapHandler) Log(r *Record) error {
	return s.handler.Load().(Handler).Log(r)
}

func (s *swapHandler) Swap(h Handler) {
	s.handler.Store(h)
}

func (s *swapHandler) Get() Handler {
	return s.handler.Load().(Handler)
}

// root is the default logger used by the package-level helpers.
var root = &logger{h: new(swapHandler)}

func init() {
	root.SetHandler(StreamHandler(os.Stderr, TerminalFormat(useColor())))
}

// New returns a new Logger carrying ctx in addition to root's context.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{h: l.h, ctx: newContext(l.ctx, ctx)}
	return child
}

func newContext(prefix []interface{}, suffix []interface{}) []interface{} {
	normalizedSuffix := normalize(suffix)
	newCtx := make([]interface{}, len(prefix)+len(normalizedSuffix))
	n := copy(newCtx, prefix)
	copy(newCtx[n:], normalizedSuffix)
	return newCtx
}

func normalize(ctx []interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		ctx = append(ctx, nil, "LOG_ERRMISSINGVALUE")
	}
	return ctx
}

func (l *logger) write(msg string, lvl Lvl, ctx []interface{}, skip int) {
	l.h.Log(&Record{
		Time: time.Now(),
		Lvl:  lvl,
		Msg:  msg,
		Ctx:  newContext(l.ctx, ctx),
		Call: stack.Caller(skip),
	})
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(msg, LvlTrace, ctx, 2) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(msg, LvlDebug, ctx, 2) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(msg, LvlInfo, ctx, 2) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(msg, LvlWarn, ctx, 2) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(msg, LvlError, ctx, 2) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(msg, LvlCrit, ctx, 2) }

func (l *logger) GetHandler() Handler  { return l.h.Get() }
func (l *logger) SetHandler(h Handler) { l.h.Swap(h) }

// Root returns the root logger.
func Root() Logger { return root }

// SetRootHandler replaces the handler used by the package-level helpers.
func SetRootHandler(h Handler) { root.SetHandler(h) }

func Trace(msg string, ctx ...interface{}) { root.write(msg, LvlTrace, ctx, 2) }
func Debug(msg string, ctx ...interface{}) { root.write(msg, LvlDebug, ctx, 2) }
func Info(msg string, ctx ...interface{})  { root.write(msg, LvlInfo, ctx, 2) }
func Warn(msg string, ctx ...interface{})  { root.write(msg, LvlWarn, ctx, 2) }
func Error(msg string, ctx ...interface{}) { root.write(msg, LvlError, ctx, 2) }
func Crit(msg string, ctx ...interface{})  { root.write(msg, LvlCrit, ctx, 2) }
