package tokenstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialModel is the GORM row holding one profile's credential.
type CredentialModel struct {
	Profile      string    `gorm:"primaryKey"`
	AccessToken  string    `gorm:"not null"`
	RefreshToken string
	UpdatedAt    time.Time `gorm:"not null"`
}

func (CredentialModel) TableName() string {
	return "credentials"
}

// GormStore implements Store using GORM + Postgres, one row per profile.
type GormStore struct {
	db      *gorm.DB
	profile string
	owned   bool
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn, profile string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	store, err := NewGormStoreWithDB(db, profile)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewGormStoreWithDB uses an already opened connection.
func NewGormStoreWithDB(db *gorm.DB, profile string) (*GormStore, error) {
	if err := db.AutoMigrate(&CredentialModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = "default"
	}
	return &GormStore{db: db, profile: profile}, nil
}

func (s *GormStore) Get() (Credential, bool, error) {
	var model CredentialModel
	if err := s.db.First(&model, "profile = ?", s.profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	cred := Credential{AccessToken: model.AccessToken, RefreshToken: model.RefreshToken}
	if cred.Empty() {
		return Credential{}, false, nil
	}
	return cred, true, nil
}

func (s *GormStore) Set(c Credential) error {
	model := CredentialModel{
		Profile:      s.profile,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		UpdatedAt:    time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) Clear() error {
	return s.db.Delete(&CredentialModel{}, "profile = ?", s.profile).Error
}

// Close releases the connection pool when the store opened it.
func (s *GormStore) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
