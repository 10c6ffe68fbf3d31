// Package idempotency stores responses of mutating requests keyed by the
// client's Idempotency-Key so retries replay instead of repeating the write.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const DefaultTTL = 24 * time.Hour

// pendingTTL bounds how long a reservation blocks the key if its request
// never finishes.
const pendingTTL = 5 * time.Minute

var (
	// ErrKeyReused means the key was already used with a different request body.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
	// ErrInProgress means another request holding the key has not finished.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
)

type Record struct {
	ID           uint      `gorm:"primaryKey"`
	Key          string    `gorm:"column:idempotency_key;size:255;uniqueIndex:idx_idem_key"`
	UserID       string    `gorm:"column:user_id;size:64;uniqueIndex:idx_idem_key"`
	Scope        string    `gorm:"column:scope;size:64;uniqueIndex:idx_idem_key"`
	RequestHash  string    `gorm:"column:request_hash;size:64"`
	ResponseBody string    `gorm:"column:response_body;type:text"`
	StatusCode   int       `gorm:"column:status_code"` // 0 while pending
	ExpiresAt    time.Time `gorm:"column:expires_at;index"`
	CreatedAt    time.Time
}

func (Record) TableName() string { return "idempotency_records" }

func AutoMigrate(db *gorm.DB) error { return db.AutoMigrate(&Record{}) }

type Manager struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewManager(db *gorm.DB, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{db: db, ttl: ttl, now: time.Now}
}

// Hash fingerprints a request body.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the live record for key, or nil. A record stored for a
// different request body yields ErrKeyReused and an unfinished one
// ErrInProgress.
func (m *Manager) Lookup(ctx context.Context, key, userID, scope, requestHash string) (*Record, error) {
	var rec Record
	err := m.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ? AND scope = ? AND expires_at > ?", key, userID, scope, m.now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.RequestHash != requestHash {
		return nil, ErrKeyReused
	}
	if rec.StatusCode == 0 {
		return nil, ErrInProgress
	}
	return &rec, nil
}

// Reserve claims key for one request. It returns (nil, nil) when the caller
// now holds the key and must Complete or Release it. A finished record is
// returned for replay. Otherwise the error is ErrKeyReused or ErrInProgress.
func (m *Manager) Reserve(ctx context.Context, key, userID, scope, requestHash string) (*Record, error) {
	now := m.now()
	if err := m.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ? AND scope = ? AND expires_at <= ?", key, userID, scope, now).
		Delete(&Record{}).Error; err != nil {
		return nil, err
	}
	createErr := m.db.WithContext(ctx).Create(&Record{
		Key:         key,
		UserID:      userID,
		Scope:       scope,
		RequestHash: requestHash,
		ExpiresAt:   now.Add(min(pendingTTL, m.ttl)),
	}).Error
	if createErr == nil {
		return nil, nil
	}
	// The unique index rejected the insert: someone else holds the key.
	rec, err := m.Lookup(ctx, key, userID, scope, requestHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, createErr
	}
	return rec, nil
}

// Complete stores the response for a key held via Reserve.
func (m *Manager) Complete(ctx context.Context, key, userID, scope string, status int, body []byte) error {
	res := m.db.WithContext(ctx).Model(&Record{}).
		Where("idempotency_key = ? AND user_id = ? AND scope = ? AND status_code = 0", key, userID, scope).
		Updates(map[string]any{
			"status_code":   status,
			"response_body": string(body),
			"expires_at":    m.now().Add(m.ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("idempotency key %q is not reserved", key)
	}
	return nil
}

// Release drops a reservation so the key can be retried.
func (m *Manager) Release(ctx context.Context, key, userID, scope string) error {
	return m.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ? AND scope = ? AND status_code = 0", key, userID, scope).
		Delete(&Record{}).Error
}

// CleanExpired deletes expired records and reports how many went.
func (m *Manager) CleanExpired(ctx context.Context) (int64, error) {
	res := m.db.WithContext(ctx).Where("expires_at <= ?", m.now()).Delete(&Record{})
	return res.RowsAffected, res.Error
}
