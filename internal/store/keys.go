package store

import (
	"time"

	"gorm.io/gorm"
)

// ListKeys returns every key row, wildcard included, newest first.
func (s *Store) ListKeys() ([]APIKey, error) {
	var keys []APIKey
	err := s.db.Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// GetKey returns the key with the given id, or nil.
func (s *Store) GetKey(id string) (*APIKey, error) {
	var key APIKey
	err := s.db.First(&key, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// CreateKey inserts a new key row.
func (s *Store) CreateKey(key *APIKey) error {
	return s.db.Create(key).Error
}

// SaveKey persists changes to an existing key row.
func (s *Store) SaveKey(key *APIKey) error {
	key.UpdatedAt = time.Now().UnixMilli()
	return s.db.Save(key).Error
}

// DeleteKey removes a key row. The wildcard row is never deleted.
func (s *Store) DeleteKey(id string) error {
	return s.db.Where("id = ? AND wildcard = ?", id, false).Delete(&APIKey{}).Error
}

// TouchKeyAsync bumps last_used_at and the request counter on the write
// queue so verification never waits on SQLite.
func (s *Store) TouchKeyAsync(id string) {
	now := time.Now().UnixMilli()
	s.queue.enqueue("touch-key", func(db *gorm.DB) error {
		return db.Model(&APIKey{}).Where("id = ?", id).Updates(map[string]any{
			"last_used_at":  now,
			"request_count": gorm.Expr("request_count + 1"),
		}).Error
	})
}

// InsertAuditAsync queues one key-audit row.
func (s *Store) InsertAuditAsync(entry *APIKeyAuditLog) {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	s.queue.enqueue("insert-audit", func(db *gorm.DB) error {
		return db.Create(entry).Error
	})
}
