package activitymap

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/propertipro/go-auth"
)

// JSONSink writes one JSON record per line. It is safe for concurrent use
// by every Manager of the process.
type JSONSink struct {
	mu   sync.Mutex
	enc  *json.Encoder
	opts []Option
}

var _ auth.ActivitySink = (*JSONSink)(nil)

// NewJSONSink writes records to w
func NewJSONSink(w io.Writer, opts ...Option) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w), opts: opts}
}

// Record implements auth.ActivitySink
func (s *JSONSink) Record(_ context.Context, event auth.ActivityEvent) error {
	rec := Normalize(event, s.opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

// NewLogSink logs every record at info level
func NewLogSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		rec := Normalize(event, opts...)
		args := []any{
			"verb", rec.Verb,
			"actor_id", rec.ActorID,
			"object_id", rec.ObjectID,
		}
		for _, key := range []string{MetadataKeyFromStatus, MetadataKeyToStatus, "reason"} {
			if v, ok := rec.Metadata[key]; ok {
				args = append(args, key, v)
			}
		}
		logger.Info("audit", args...)
		return nil
	})
}
