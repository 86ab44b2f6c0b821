package store

import (
	"context"
	"errors"
	"fmt"

	"url-redirector/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps redirects in a relational table through gorm.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, key string) (models.Redirect, error) {
	var redirect models.Redirect
	err := s.db.WithContext(ctx).
		Where("redirect_key = ?", key).
		First(&redirect).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Redirect{}, ErrNotFound
	}
	if err != nil {
		return models.Redirect{}, fmt.Errorf("get redirect %q: %w", key, err)
	}
	return redirect, nil
}

func (s *SQLStore) Put(ctx context.Context, key, url string) error {
	if key == "" {
		return ErrInvalidKey
	}
	redirect := models.Redirect{Key: key, URL: url}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "redirect_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "updated_at"}),
		}).
		Create(&redirect).Error
	if err != nil {
		return fmt.Errorf("put redirect %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("redirect_key = ?", key).
		Delete(&models.Redirect{}).Error
	if err != nil {
		return fmt.Errorf("delete redirect %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, cursor string, limit int) (Page, error) {
	limit = pageSize(limit)

	var redirects []models.Redirect
	err := s.db.WithContext(ctx).
		Where("redirect_key > ?", cursor).
		Order("redirect_key").
		Limit(limit + 1).
		Find(&redirects).Error
	if err != nil {
		return Page{}, fmt.Errorf("list redirects: %w", err)
	}

	page := Page{Redirects: redirects}
	if len(redirects) > limit {
		page.Redirects = redirects[:limit]
		page.Next = redirects[limit-1].Key
	}
	return page, nil
}

func (s *SQLStore) Increment(ctx context.Context, key, field string, amount int64) error {
	if err := checkIncrement(key, field, amount); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Model(&models.Redirect{}).
		Where("redirect_key = ?", key).
		UpdateColumn(field, gorm.Expr(field+" + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("increment %s of %q: %w", field, key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
