package dispatch

import (
	"time"

	"github.com/sendloop/wa-gateway/pkg/redis"
)

// markerStore records which recipients of a job already got their
// message. A crashed job that is re-leased skips marked recipients, so
// nobody receives the same broadcast twice.
type markerStore struct {
	adapter redis.RedisAdapter
	ttl     time.Duration
}

func newMarkerStore(adapter redis.RedisAdapter, ttl time.Duration) *markerStore {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &markerStore{adapter: adapter, ttl: ttl}
}

func (m *markerStore) key(jobID, recipient string) string {
	return "sent:" + jobID + ":" + recipient
}

// MarkSent records a successful send. First write wins.
func (m *markerStore) MarkSent(jobID, recipient string) error {
	_, err := m.adapter.SetNX(m.key(jobID, recipient), []byte("1"), m.ttl)
	return err
}

func (m *markerStore) AlreadySent(jobID, recipient string) (bool, error) {
	n, err := m.adapter.Exist(m.key(jobID, recipient))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
