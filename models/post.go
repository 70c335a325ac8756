package models

import (
	"time"

	"newsjunkies/gateway"
)

// Post - модель поста пользователя (строка таблицы posts)
type Post struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description"`
	NewsLink    string    `json:"news_link"`
	ArchiveLink *string   `json:"archive_link"`
	Tags        []string  `json:"tags"` // nil - теги не заданы
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func PostFromRow(r gateway.Row) (Post, error) {
	var (
		p   Post
		err error
	)
	if p.ID, err = requiredString(r, TablePosts, "id"); err != nil {
		return Post{}, err
	}
	if p.UserID, err = requiredString(r, TablePosts, "user_id"); err != nil {
		return Post{}, err
	}
	if p.Description, _, err = optionalString(r, TablePosts, "description"); err != nil {
		return Post{}, err
	}
	if p.NewsLink, err = requiredString(r, TablePosts, "news_link"); err != nil {
		return Post{}, err
	}
	if p.ArchiveLink, err = stringPtr(r, TablePosts, "archive_link"); err != nil {
		return Post{}, err
	}
	if p.Tags, err = rowStrings(r, TablePosts, "tags"); err != nil {
		return Post{}, err
	}
	if p.CreatedAt, err = rowTime(r, TablePosts, "created_at"); err != nil {
		return Post{}, err
	}
	if p.UpdatedAt, err = rowTime(r, TablePosts, "updated_at"); err != nil {
		return Post{}, err
	}
	return p, nil
}

func PostsFromRows(rows []gateway.Row) ([]Post, error) {
	posts := make([]Post, 0, len(rows))
	for _, r := range rows {
		p, err := PostFromRow(r)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (p Post) Row() gateway.Row {
	r := gateway.Row{
		"id":          p.ID,
		"user_id":     p.UserID,
		"description": p.Description,
		"news_link":   p.NewsLink,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	}
	if p.ArchiveLink != nil {
		r["archive_link"] = *p.ArchiveLink
	} else {
		r["archive_link"] = nil
	}
	if p.Tags != nil {
		r["tags"] = append([]string(nil), p.Tags...)
	} else {
		r["tags"] = nil
	}
	return r
}

// FeedPost - пост в ленте с денормализованными полями для отображения
type FeedPost struct {
	Post
	AuthorProfile   *Profile `json:"user_profiles"`
	SharedByProfile *Profile `json:"shared_by_profile,omitempty"`
	// OriginalPostID задан только у репостов и указывает на настоящий пост
	OriginalPostID        string `json:"original_post_id,omitempty"`
	IsSharedByCurrentUser bool   `json:"is_shared_by_current_user"`
}

// ShareID - синтетический идентификатор репоста в ленте
func ShareID(originalPostID, sharerID string) string {
	return "share-" + originalPostID + "-" + sharerID
}

func (p FeedPost) IsShare() bool {
	return p.OriginalPostID != ""
}

// ShareKey - идентификатор, по которому хранится статус репоста
func (p FeedPost) ShareKey() string {
	if p.OriginalPostID != "" {
		return p.OriginalPostID
	}
	return p.ID
}

// FeedResponse - ответ API для ленты
type FeedResponse struct {
	Posts   []FeedPost `json:"posts"`
	HasMore bool       `json:"has_more"`
}
