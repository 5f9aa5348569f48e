package store

import (
	"time"

	"gorm.io/gorm"
)

// InsertEventAsync queues a gateway event. A zero timestamp is stamped at
// enqueue time.
func (s *Store) InsertEventAsync(ev *GatewayEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	s.queue.enqueue("insert-event", func(db *gorm.DB) error {
		return db.Create(ev).Error
	})
}

// InsertEvent writes a gateway event synchronously.
func (s *Store) InsertEvent(ev *GatewayEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	return s.db.Create(ev).Error
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(limit int) ([]GatewayEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	var events []GatewayEvent
	err := s.db.Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}
