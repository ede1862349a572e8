package metrics

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

// Point is a single sample returned by Select. Timestamp is in Unix milliseconds.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

var (
	mu       sync.RWMutex
	storage  tstorage.Storage
	counters = make(map[string]int64)
	lastTS   int64
)

// InitMetrics opens the on-disk time series store under workdir/data/metrics.
func InitMetrics(workdir string) error {
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "data", "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Nanoseconds),
		tstorage.WithRetention(30*24*time.Hour),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

// InitMemory opens an in-memory store, used by tests.
func InitMemory() error {
	s, err := tstorage.NewStorage(tstorage.WithTimestampPrecision(tstorage.Nanoseconds))
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	counters = make(map[string]int64)
	lastTS = 0
	mu.Unlock()
	return nil
}

// SetGauge records the current value of name.
func SetGauge(name string, value int64) {
	mu.Lock()
	defer mu.Unlock()
	insertLocked(name, float64(value))
}

// Incr bumps a process-local counter and records its new value.
func Incr(name string, delta int64) {
	mu.Lock()
	defer mu.Unlock()
	counters[name] += delta
	insertLocked(name, float64(counters[name]))
}

// insertLocked stamps rows with a strictly increasing nanosecond timestamp;
// the store keeps one row per metric and timestamp. Callers hold mu.
func insertLocked(name string, value float64) {
	if storage == nil {
		return
	}
	ts := time.Now().UnixNano()
	if ts <= lastTS {
		ts = lastTS + 1
	}
	lastTS = ts
	_ = storage.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: ts, Value: value},
	}})
}

// Select returns samples of name between from and to (inclusive of from).
func Select(name string, from, to time.Time) ([]Point, error) {
	mu.RLock()
	s := storage
	mu.RUnlock()
	if s == nil {
		return []Point{}, nil
	}
	points, err := s.Select(name, nil, from.UnixNano(), to.UnixNano()+1)
	if err == tstorage.ErrNoDataPoints {
		return []Point{}, nil
	}
	if err != nil {
		return nil, err
	}
	result := make([]Point, 0, len(points))
	for _, p := range points {
		result = append(result, Point{Timestamp: p.Timestamp / int64(time.Millisecond), Value: p.Value})
	}
	return result, nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
