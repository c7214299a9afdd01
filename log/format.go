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

package log

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const timeFormat = "2006-01-02T15:04:05-0700"

var lvlColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgBlue),
}

// Format turns a Record into bytes ready to be written to an io.Writer.
type Format interface {
	Format(r *Record) []byte
}

type formatFunc func(*Record) []byte

func (f formatFunc) Format(r *Record) []byte { return f(r) }

// TerminalFormat renders records the way the node's own console does:
// a fixed-width level tag, the message, then sorted key=value pairs,
// colorized when color is true.
func TerminalFormat(useColor bool) Format {
	return formatFunc(func(r *Record) []byte {
		var buf bytes.Buffer

		lvl := strings.ToUpper(r.Lvl.String())
		if useColor {
			if c, ok := lvlColor[r.Lvl]; ok {
				lvl = c.Sprint(lvl)
			}
		}
		fmt.Fprintf(&buf, "%s[%s] %s", lvl, r.Time.Format(timeFormat), r.Msg)

		keys := make([]string, 0, len(r.Ctx)/2)
		vals := make(map[string]interface{}, len(r.Ctx)/2)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			k := fmt.Sprint(r.Ctx[i])
			keys = append(keys, k)
			vals[k] = r.Ctx[i+1]
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, " %s=%v", k, formatValue(vals[k]))
		}
		buf.WriteByte('\n')
		return buf.Bytes()
	})
}

func formatValue(v interface{}) interface{} {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return v
}

// StreamHandler writes formatted records to w.
func StreamHandler(w *os.File, fmtr Format) Handler {
	return handlerFunc(func(r *Record) error {
		_, err := w.Write(fmtr.Format(r))
		return err
	})
}

type handlerFunc func(*Record) error

func (f handlerFunc) Log(r *Record) error { return f(r) }

// useColor reports whether the process's stderr is an interactive terminal.
// It does not wrap stderr; the root handler writes to os.Stderr directly,
// without the ColorableStderr translation below.
func useColor() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

// ColorableStderr returns os.Stderr wrapped for ANSI passthrough on terminals
// that require translation (notably older Windows consoles).
var ColorableStderr = colorable.NewColorableStderr()
