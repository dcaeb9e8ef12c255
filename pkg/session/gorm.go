package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vapidispatch/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps contexts in the session_contexts table.
type GormStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewGormStore(db *gorm.DB, ttl time.Duration) *GormStore {
	return &GormStore{db: db, ttl: ttl, now: time.Now}
}

func (s *GormStore) Put(ctx context.Context, callID string, sc Context) error {
	if callID == "" {
		return errors.New("session: empty call id")
	}
	payload, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	row := models.SessionContext{
		CallID:    callID,
		CreatedAt: now,
		UpdatedAt: now,
		TenantID:  sc.TenantID,
		UserID:    sc.UserID,
		Payload:   payload,
		ExpiresAt: now.Add(s.ttl),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "tenant_id", "user_id", "payload", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put session %s: %w", callID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, callID string) (Context, error) {
	var row models.SessionContext
	err := s.db.WithContext(ctx).
		Where("call_id = ? AND expires_at > ?", callID, s.now().UTC()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Context{}, ErrNotFound
	}
	if err != nil {
		return Context{}, fmt.Errorf("get session %s: %w", callID, err)
	}
	var sc Context
	if err := json.Unmarshal(row.Payload, &sc); err != nil {
		return Context{}, fmt.Errorf("decode session %s: %w", callID, err)
	}
	return sc, nil
}

func (s *GormStore) Prune(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now().UTC()).
		Delete(&models.SessionContext{})
	return res.RowsAffected, res.Error
}
