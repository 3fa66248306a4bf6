// Package auditlog provides the structured leveled logger used to record
// policy decisions, authentication attempts, and privileged-exec
// transitions. Records are RFC 5424 syslog messages; the network sink that
// would ship them off-host is an external collaborator and is not part of
// this package.
package auditlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

const (
	defaultMsgID  = `gosu`
	maxHostname   = 255
	maxAppname    = 48
	maxMsgIDLen   = 32
)

// Logger is a minimal, mutex-guarded structured logger. It carries no
// hot-reload/relay machinery: a setuid-root short-lived process has no
// need for it, it just needs every line it emits to be attributable and
// leveled.
type Logger struct {
	mtx      sync.Mutex
	wtr      io.Writer
	lvl      Level
	hostname string
	appname  string
}

// New creates a logger writing to wtr at level INFO.
func New(wtr io.Writer) *Logger {
	l := &Logger{wtr: wtr, lvl: INFO}
	if hn, err := os.Hostname(); err == nil {
		l.hostname = trim(hn, maxHostname)
	}
	if len(os.Args) > 0 {
		l.appname = trim(filepath.Base(os.Args[0]), maxAppname)
	}
	return l
}

// NewDiscard creates a logger that drops everything; useful for tests.
func NewDiscard() *Logger {
	return New(io.Discard)
}

func (l *Logger) SetLevel(lvl Level) { l.mtx.Lock(); l.lvl = lvl; l.mtx.Unlock() }

// KV is one key-value pair attached to a structured log line.
type KV struct {
	Key   string
	Value string
}

func F(key string, value interface{}) KV {
	return KV{Key: key, Value: fmt.Sprintf("%v", value)}
}

func (l *Logger) Debug(msg string, kvs ...KV) { l.output(DEBUG, msg, kvs...) }
func (l *Logger) Info(msg string, kvs ...KV)   { l.output(INFO, msg, kvs...) }
func (l *Logger) Warn(msg string, kvs ...KV)   { l.output(WARN, msg, kvs...) }
func (l *Logger) Error(msg string, kvs ...KV)  { l.output(ERROR, msg, kvs...) }
func (l *Logger) Critical(msg string, kvs ...KV) { l.output(CRITICAL, msg, kvs...) }

func (l *Logger) output(lvl Level, msg string, kvs ...KV) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if lvl < l.lvl {
		return
	}
	ts := time.Now()
	b, err := genRFCMessage(ts, lvl.priority(), l.hostname, l.appname, defaultMsgID, msg, kvs...)
	if err != nil {
		return
	}
	io.WriteString(l.wtr, strings.TrimRight(string(b), "\n\t\r"))
	io.WriteString(l.wtr, "\n")
}

func genRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msgid, msg string, kvs ...KV) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trim(hostname, maxHostname),
		AppName:   trim(appname, maxAppname),
		MessageID: trim(msgid, maxMsgIDLen),
		Message:   []byte(msg),
	}
	if len(kvs) > 0 {
		params := make([]rfc5424.SDParam, 0, len(kvs))
		for _, kv := range kvs {
			params = append(params, rfc5424.SDParam{Name: kv.Key, Value: kv.Value})
		}
		m.StructuredData = []rfc5424.StructuredData{{ID: "gosu@1", Parameters: params}}
	}
	return m.MarshalBinary()
}

func trim(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
