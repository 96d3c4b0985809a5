package logging

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

// AuditTimeFormat is the timestamp layout of audit lines.
const AuditTimeFormat = "2006-01-02 15:04:05"

// auditCore renders entries as plain "[time] [user] message k=v" lines.
type auditCore struct {
	zapcore.LevelEnabler
	out    zapcore.WriteSyncer
	user   string
	fields []zapcore.Field
}

func newAuditCore(out zapcore.WriteSyncer, user string, level zapcore.LevelEnabler) *auditCore {
	return &auditCore{LevelEnabler: level, out: out, user: user}
}

func (c *auditCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *auditCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *auditCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", ent.Time.UTC().Format(AuditTimeFormat), c.user, ent.Message)

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, enc.Fields[k])
	}
	b.WriteByte('\n')

	_, err := c.out.Write([]byte(b.String()))
	return err
}

func (c *auditCore) Sync() error {
	return c.out.Sync()
}
