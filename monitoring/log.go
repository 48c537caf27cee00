// Package monitoring is the structured log collaborator of the
// workflow engine. The engine calls LogNode on every state transition
// and template entry/exit; Init and Finalize bracket a program run.
//
// Destinations are a JSON-lines log file (the default), "null" to
// discard, or "sqlite:<path>" for a queryable record store.
package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level of a monitoring record.
type Level int8

const (
	LevelTrace = Level(iota)
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// String represents Level as string.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// Record field names shared by all destinations.
const (
	KeyName        = "name"
	KeyState       = "state"
	KeyNodeType    = "nodetype"
	KeyEvent       = "event"
	KeyMessage     = "message"
	KeyStatus      = "status"
	KeyError       = "errmsg"
	KeyTaskUID     = "task_uid"
	KeyTemplateUID = "tmpl_uid"
	KeyProgramName = "prog_name"
	KeyProgramUUID = "prog_uuid"
)

// DestNull discards all records.
const DestNull = "null"

const sqlitePrefix = "sqlite:"

// Fields are the free-form key value pairs of one record.
type Fields map[string]interface{}

// Monitor writes monitoring records for one program run.
type Monitor struct {
	mu     sync.Mutex
	dest   string
	logger *zap.Logger
	file   *os.File
	store  *sqliteStore
	closed bool
}

// NewOutputFile returns a fresh log file name under dir for basename.
// An empty dir means the current directory.
func NewOutputFile(dir, basename string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", basename, xid.New().String()))
}

// Init opens the destination and returns a Monitor for the program.
// An empty dest picks a new log file in the current directory.
func Init(dest, programName, programUUID string) (*Monitor, error) {
	if dest == "" {
		dest = NewOutputFile("", "tigres-"+programName)
	}
	m := &Monitor{dest: dest}
	base := []zap.Field{
		zap.String(KeyProgramName, programName),
		zap.String(KeyProgramUUID, programUUID),
	}
	switch {
	case dest == DestNull:
		m.logger = zap.NewNop()
	case strings.HasPrefix(dest, sqlitePrefix):
		store, err := openSqliteStore(strings.TrimPrefix(dest, sqlitePrefix), programName, programUUID)
		if err != nil {
			return nil, errors.Wrap(err, "init monitoring")
		}
		m.store = store
		m.logger = zap.NewNop()
	default:
		f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log destination %s", dest)
		}
		core := zapcore.NewCore(jsonEncoder(), zapcore.AddSync(f), zapcore.DebugLevel)
		m.file = f
		m.logger = zap.New(core).With(base...)
	}
	return m, nil
}

func jsonEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     KeyName,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	return zapcore.NewJSONEncoder(cfg)
}

// Dest returns the destination the monitor writes to.
func (m *Monitor) Dest() string {
	return m.dest
}

// LogNode writes one record about a node of the work tree. A nil
// Monitor discards the record, so callers need no guard.
func (m *Monitor) LogNode(level Level, name, state, nodetype string, fields Fields) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.store != nil {
		m.store.write(level, name, state, nodetype, fields)
		return
	}
	ce := m.logger.Check(level.zapLevel(), name)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields)+2)
	if state != "" {
		zf = append(zf, zap.String(KeyState, state))
	}
	if nodetype != "" {
		zf = append(zf, zap.String(KeyNodeType, nodetype))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	ce.Write(zf...)
}

// Finalize flushes and closes the destination. Further records are
// discarded.
func (m *Monitor) Finalize() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Sync()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return errors.Wrap(err, "finalize monitoring")
		}
	}
	if m.store != nil {
		return m.store.close()
	}
	return nil
}
