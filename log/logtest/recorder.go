/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-ratelimit/log"
)

// RecordedEntry is a logged entry kept by Recorder.
type RecordedEntry struct {
	Level  log.Level
	Time   time.Time
	Text   string
	Fields []log.Field
}

// FindField returns the first field with the key.
func (re *RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := range re.Fields {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

// StringField returns the value of a string field (log.String).
func (re *RecordedEntry) StringField(key string) (string, bool) {
	f, ok := re.FindField(key)
	if !ok || f.Type != logf.FieldTypeBytesToString {
		return "", false
	}
	return string(f.Bytes), true
}

// IntField returns the value of an integer field (log.Int, log.Int64).
func (re *RecordedEntry) IntField(key string) (int64, bool) {
	f, ok := re.FindField(key)
	if !ok {
		return 0, false
	}
	switch f.Type {
	case logf.FieldTypeInt64, logf.FieldTypeInt32, logf.FieldTypeInt16, logf.FieldTypeInt8:
		return f.Int, true
	}
	return 0, false
}

// BoolField returns the value of a bool field (log.Bool).
func (re *RecordedEntry) BoolField(key string) (val bool, ok bool) {
	f, ok := re.FindField(key)
	if !ok || f.Type != logf.FieldTypeBool {
		return false, false
	}
	return f.Int != 0, true
}

type entries struct {
	mu   sync.RWMutex
	list []RecordedEntry
}

//nolint:gocritic // logf.EntryWriter passes entries by value.
func (es *entries) WriteEntry(e logf.Entry) {
	fields := make([]log.Field, 0, len(e.DerivedFields)+len(e.Fields))
	fields = append(fields, e.DerivedFields...)
	fields = append(fields, e.Fields...)

	es.mu.Lock()
	defer es.mu.Unlock()
	es.list = append(es.list, RecordedEntry{Level: levelOf(e.Level), Time: e.Time, Text: e.Text, Fields: fields})
}

// Recorder is a log.FieldLogger that keeps all entries in memory.
// Loggers derived with With and WithLevel share the entries of their parent.
type Recorder struct {
	*log.LogfAdapter
	entries *entries
}

// NewRecorder returns a Recorder that records entries of all levels.
func NewRecorder() *Recorder {
	es := &entries{}
	return &Recorder{LogfAdapter: &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, es)}, entries: es}
}

// With returns a Recorder adding fs to every entry.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.With(fs...).(*log.LogfAdapter), entries: r.entries}
}

// WithLevel returns a Recorder ignoring entries below the level.
func (r *Recorder) WithLevel(level log.Level) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.WithLevel(level).(*log.LogfAdapter), entries: r.entries}
}

// Entries returns a copy of all recorded entries.
func (r *Recorder) Entries() []RecordedEntry {
	r.entries.mu.RLock()
	defer r.entries.mu.RUnlock()
	return append([]RecordedEntry(nil), r.entries.list...)
}

// FindEntry returns the first entry with the message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	found := r.FindAllEntriesByFilter(func(e RecordedEntry) bool { return e.Text == msg })
	if len(found) == 0 {
		return RecordedEntry{}, false
	}
	return found[0], true
}

// FindAllEntries returns all entries with the message.
func (r *Recorder) FindAllEntries(msg string) []RecordedEntry {
	return r.FindAllEntriesByFilter(func(e RecordedEntry) bool { return e.Text == msg })
}

// FindAllEntriesByFilter returns all entries the filter accepts.
func (r *Recorder) FindAllEntriesByFilter(filter func(RecordedEntry) bool) []RecordedEntry {
	var found []RecordedEntry
	for _, e := range r.Entries() {
		if filter(e) {
			found = append(found, e)
		}
	}
	return found
}

// Reset forgets all recorded entries.
func (r *Recorder) Reset() {
	r.entries.mu.Lock()
	r.entries.list = nil
	r.entries.mu.Unlock()
}

func levelOf(l logf.Level) log.Level {
	switch l {
	case logf.LevelError:
		return log.LevelError
	case logf.LevelWarn:
		return log.LevelWarn
	case logf.LevelDebug:
		return log.LevelDebug
	default:
		return log.LevelInfo
	}
}
