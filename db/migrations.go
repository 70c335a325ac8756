package db

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Таблицы хранилища. Ядро работает со строками через шлюз, эти структуры
// нужны только для AutoMigrate.

type postRecord struct {
	ID          string         `gorm:"primaryKey;size:64"`
	UserID      string         `gorm:"size:64;not null;index:idx_posts_user_created,priority:1"`
	Description string         `gorm:"type:text;not null"`
	NewsLink    string         `gorm:"type:text;not null"`
	ArchiveLink *string        `gorm:"type:text"`
	Tags        datatypes.JSON
	CreatedAt   time.Time      `gorm:"not null;index;index:idx_posts_user_created,priority:2"`
	UpdatedAt   time.Time
}

func (postRecord) TableName() string { return "posts" }

type shareRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_post_shares_user_post,priority:1"`
	PostID    string    `gorm:"size:64;not null;uniqueIndex:idx_post_shares_user_post,priority:2;index"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (shareRecord) TableName() string { return "post_shares" }

type profileRecord struct {
	ID                 string  `gorm:"primaryKey;size:64"`
	Name               *string `gorm:"size:255"`
	Description        *string `gorm:"type:text"`
	ProfilePictureURL  *string `gorm:"column:profile_picture_url;type:text"`
	RecentlyViewedTags datatypes.JSON
	CreatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time
}

func (profileRecord) TableName() string { return "user_profiles" }

type followRecord struct {
	ID          string    `gorm:"primaryKey;size:64"`
	FollowerID  string    `gorm:"size:64;not null;uniqueIndex:idx_followers_pair,priority:1"`
	FollowingID string    `gorm:"size:64;not null;uniqueIndex:idx_followers_pair,priority:2;index"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (followRecord) TableName() string { return "followers" }

type accountRecord struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string    `gorm:"size:255;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (accountRecord) TableName() string { return "accounts" }

// Migrate создает таблицы и индексы
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&postRecord{}, &shareRecord{}, &profileRecord{}, &followRecord{}, &accountRecord{})
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
