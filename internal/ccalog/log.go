// Package ccalog provides leveled logging for the ingest daemon.
//
// Time/date are omitted by default because systemd adds them for us; pass
// -logdate to the daemon to enable them. Uses the sd-daemon prefix
// convention: https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package ccalog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	NoteWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
	CritWriter  io.Writer = os.Stderr
)

var (
	DebugPrefix string = "<7>[DEBUG]    "
	InfoPrefix  string = "<6>[INFO]     "
	NotePrefix  string = "<5>[NOTICE]   "
	WarnPrefix  string = "<4>[WARNING]  "
	ErrPrefix   string = "<3>[ERROR]    "
	CritPrefix  string = "<2>[CRITICAL] "
)

var (
	debugLog = log.New(DebugWriter, DebugPrefix, 0)
	infoLog  = log.New(InfoWriter, InfoPrefix, 0)
	noteLog  = log.New(NoteWriter, NotePrefix, log.Lshortfile)
	warnLog  = log.New(WarnWriter, WarnPrefix, log.Lshortfile)
	errLog   = log.New(ErrWriter, ErrPrefix, log.Llongfile)
	critLog  = log.New(CritWriter, CritPrefix, log.Llongfile)

	debugTimeLog = log.New(DebugWriter, DebugPrefix, log.LstdFlags)
	infoTimeLog  = log.New(InfoWriter, InfoPrefix, log.LstdFlags)
	noteTimeLog  = log.New(NoteWriter, NotePrefix, log.LstdFlags|log.Lshortfile)
	warnTimeLog  = log.New(WarnWriter, WarnPrefix, log.LstdFlags|log.Lshortfile)
	errTimeLog   = log.New(ErrWriter, ErrPrefix, log.LstdFlags|log.Llongfile)
	critTimeLog  = log.New(CritWriter, CritPrefix, log.LstdFlags|log.Llongfile)
)

func SetLevel(lvl string) {
	switch lvl {
	case "crit":
		ErrWriter = io.Discard
		fallthrough
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "notice":
		NoteWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
		// nothing to discard
	default:
		fmt.Fprintf(os.Stderr, "ccalog: invalid loglevel %q, using debug\n", lvl)
		SetLevel("debug")
	}
}

func SetDateTime(v bool) { logDateTime = v }

func Debug(v ...interface{}) { output(DebugWriter, debugLog, debugTimeLog, fmt.Sprint(v...)) }
func Info(v ...interface{})  { output(InfoWriter, infoLog, infoTimeLog, fmt.Sprint(v...)) }
func Note(v ...interface{})  { output(NoteWriter, noteLog, noteTimeLog, fmt.Sprint(v...)) }
func Warn(v ...interface{})  { output(WarnWriter, warnLog, warnTimeLog, fmt.Sprint(v...)) }
func Error(v ...interface{}) { output(ErrWriter, errLog, errTimeLog, fmt.Sprint(v...)) }
func Crit(v ...interface{})  { output(CritWriter, critLog, critTimeLog, fmt.Sprint(v...)) }

func Debugf(format string, v ...interface{}) { output(DebugWriter, debugLog, debugTimeLog, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { output(InfoWriter, infoLog, infoTimeLog, fmt.Sprintf(format, v...)) }
func Notef(format string, v ...interface{})  { output(NoteWriter, noteLog, noteTimeLog, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { output(WarnWriter, warnLog, warnTimeLog, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { output(ErrWriter, errLog, errTimeLog, fmt.Sprintf(format, v...)) }
func Critf(format string, v ...interface{})  { output(CritWriter, critLog, critTimeLog, fmt.Sprintf(format, v...)) }

func output(w io.Writer, l, tl *log.Logger, s string) {
	if w == io.Discard {
		return
	}
	if logDateTime {
		tl.Output(3, s)
	} else {
		l.Output(3, s)
	}
}

// Fatal logs an ERROR record and exits with code. Used for the three fatal
// classes the pipeline distinguishes (config, runtime, signal-abort); see
// pkg/ingesterr for the mapping from error kind to code.
func Fatal(code int, v ...interface{}) {
	Error(v...)
	os.Exit(code)
}

func Fatalf(code int, format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(code)
}
