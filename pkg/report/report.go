// Package report описывает приёмник диагностической информации.
//
// Обмен сообщениями пишет сюда снимки запросов и ответов, кадры без
// correlation id и историю статусов, чтобы упавший тест можно было разобрать
// без повторного запуска.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

const DefaultCropLimit = 2000

const timestampFormat = "2006-01-02 15:04:05.000"

type Sink interface {
	Report(title string, value any)
}

type nopSink struct{}

func (nopSink) Report(string, any) {}

func NopSink() Sink { return nopSink{} }

type LogSink struct {
	Logger *slog.Logger
	Limit  int
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogSink{Logger: logger, Limit: DefaultCropLimit}
}

func (s *LogSink) Report(title string, value any) {
	s.Logger.Debug(title, "value", Crop(value, s.Limit))
}

type Entry struct {
	Time  time.Time
	Title string
	Value string
}

// CapturingSink keeps every report in memory, in order.
type CapturingSink struct {
	Limit   int
	entries []Entry
	mu      sync.Mutex
}

func (s *CapturingSink) Report(title string, value any) {
	limit := s.Limit
	if limit == 0 {
		limit = DefaultCropLimit
	}

	s.mu.Lock()
	s.entries = append(s.entries, Entry{Time: time.Now(), Title: title, Value: Crop(value, limit)})
	s.mu.Unlock()
}

func (s *CapturingSink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Entry(nil), s.entries...)
}

// Titled returns the entries reported under title.
func (s *CapturingSink) Titled(title string) []Entry {
	var out []Entry

	for _, e := range s.Entries() {
		if e.Title == title {
			out = append(out, e)
		}
	}

	return out
}

func (s *CapturingSink) Dump(dest io.Writer, prefix string) {
	for _, e := range s.Entries() {
		fmt.Fprintf(dest, "%s[%s] %s: %s\n", prefix, e.Time.Format(timestampFormat), e.Title, e.Value)
	}
}

// Crop renders value as text and cuts it to limit bytes.
// Strings and byte slices are used as is, everything else is encoded as JSON.
func Crop(value any, limit int) string {
	// Методы Error и String на nil указателе обычно паникуют.
	if isNilPointer(value) {
		return "<nil>"
	}

	var s string

	switch v := value.(type) {
	case nil:
		s = "<nil>"
	case string:
		s = v
	case []byte:
		s = string(v)
	case json.RawMessage:
		s = string(v)
	case error:
		s = v.Error()
	case fmt.Stringer:
		s = v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%+v", v)
		} else {
			s = string(data)
		}
	}

	if limit <= 0 || len(s) <= limit {
		return s
	}

	return fmt.Sprintf("%s... (%d bytes cropped)", s[:limit], len(s)-limit)
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
