package models

import (
	"time"

	"newsjunkies/gateway"
)

// Share - репост: пара (пользователь, исходный пост), не более одной на пару
type Share struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

func ShareFromRow(r gateway.Row) (Share, error) {
	var (
		s   Share
		err error
	)
	if s.ID, err = requiredString(r, TableShares, "id"); err != nil {
		return Share{}, err
	}
	if s.UserID, err = requiredString(r, TableShares, "user_id"); err != nil {
		return Share{}, err
	}
	if s.PostID, err = requiredString(r, TableShares, "post_id"); err != nil {
		return Share{}, err
	}
	if s.CreatedAt, err = rowTime(r, TableShares, "created_at"); err != nil {
		return Share{}, err
	}
	return s, nil
}

func (s Share) Row() gateway.Row {
	return gateway.Row{
		"id":         s.ID,
		"user_id":    s.UserID,
		"post_id":    s.PostID,
		"created_at": s.CreatedAt,
	}
}

// Follow - подписка follower -> following
type Follow struct {
	ID          string    `json:"id"`
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func FollowFromRow(r gateway.Row) (Follow, error) {
	var (
		f   Follow
		err error
	)
	if f.ID, err = requiredString(r, TableFollows, "id"); err != nil {
		return Follow{}, err
	}
	if f.FollowerID, err = requiredString(r, TableFollows, "follower_id"); err != nil {
		return Follow{}, err
	}
	if f.FollowingID, err = requiredString(r, TableFollows, "following_id"); err != nil {
		return Follow{}, err
	}
	if f.CreatedAt, err = rowTime(r, TableFollows, "created_at"); err != nil {
		return Follow{}, err
	}
	return f, nil
}

func (f Follow) Row() gateway.Row {
	return gateway.Row{
		"id":           f.ID,
		"follower_id":  f.FollowerID,
		"following_id": f.FollowingID,
		"created_at":   f.CreatedAt,
	}
}
