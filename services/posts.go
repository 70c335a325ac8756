package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

const (
	maxDescriptionLength = 2000
	maxTagsPerPost       = 20
)

// ErrForbidden - пост принадлежит другому пользователю
var ErrForbidden = errors.New("post belongs to another user")

// PostInput - данные нового поста
type PostInput struct {
	Description string   `json:"description"`
	NewsLink    string   `json:"news_link"`
	ArchiveLink string   `json:"archive_link"`
	Tags        []string `json:"tags"`
}

// PostPatch - изменяемые поля поста (nil - не менять, пустой ArchiveLink - убрать ссылку)
type PostPatch struct {
	Description *string   `json:"description"`
	NewsLink    *string   `json:"news_link"`
	ArchiveLink *string   `json:"archive_link"`
	Tags        *[]string `json:"tags"`
}

func (p PostPatch) Empty() bool {
	return p.Description == nil && p.NewsLink == nil && p.ArchiveLink == nil && p.Tags == nil
}

// PostService - запись постов с проверкой ввода
type PostService struct {
	gw       gateway.Gateway
	profiles *ProfileCache
	now      func() time.Time
}

func NewPostService(gw gateway.Gateway, profiles *ProfileCache) *PostService {
	return &PostService{
		gw:       gw,
		profiles: profiles,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateInput проверяет поля поста без обращения к хранилищу
func ValidateInput(in PostInput) (PostInput, error) {
	in.Description = strings.TrimSpace(in.Description)
	in.NewsLink = strings.TrimSpace(in.NewsLink)
	in.ArchiveLink = strings.TrimSpace(in.ArchiveLink)

	if err := validateDescription(in.Description); err != nil {
		return in, err
	}
	if err := validateLink("news_link", in.NewsLink, true); err != nil {
		return in, err
	}
	if err := validateLink("archive_link", in.ArchiveLink, false); err != nil {
		return in, err
	}
	in.Tags = NormalizeTags(in.Tags)
	if len(in.Tags) > maxTagsPerPost {
		return in, &ValidationError{Field: "tags", Message: fmt.Sprintf("at most %d tags", maxTagsPerPost)}
	}
	return in, nil
}

func validateDescription(s string) error {
	if s == "" {
		return &ValidationError{Field: "description", Message: "is required"}
	}
	if len(s) > maxDescriptionLength {
		return &ValidationError{Field: "description", Message: "is too long"}
	}
	return nil
}

func validateLink(field, link string, required bool) error {
	if link == "" {
		if required {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: field, Message: "must be an http(s) URL"}
	}
	return nil
}

// Create проверяет ввод и имя автора, затем создает пост
func (s *PostService) Create(ctx context.Context, authorID string, in PostInput) (models.Post, error) {
	in, err := ValidateInput(in)
	if err != nil {
		return models.Post{}, err
	}
	if authorID == "" {
		return models.Post{}, &ValidationError{Field: "user_id", Message: "is required"}
	}
	profile, err := s.profiles.Get(ctx, authorID, false)
	if err != nil {
		return models.Post{}, err
	}
	if !profile.HasName() {
		return models.Post{}, &ValidationError{Field: "name", Message: "set a profile name before posting"}
	}

	now := s.now()
	post := models.Post{
		ID:          ulid.Make().String(),
		UserID:      authorID,
		Description: in.Description,
		NewsLink:    in.NewsLink,
		Tags:        in.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.ArchiveLink != "" {
		post.ArchiveLink = &in.ArchiveLink
	}

	row, err := s.gw.InsertRow(ctx, models.TablePosts, post.Row())
	if err != nil {
		return models.Post{}, remote("create post", err)
	}
	glog.V(1).Infof("post %s created by %s", post.ID, authorID)
	return models.PostFromRow(row)
}

// Get возвращает пост по id; отсутствие поста - RemoteError с ErrNotFound
func (s *PostService) Get(ctx context.Context, postID string) (models.Post, error) {
	rows, err := s.gw.QueryRows(ctx, models.TablePosts, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", postID)},
		Limit:   1,
	})
	if err != nil {
		return models.Post{}, remote("get post", err)
	}
	if len(rows) == 0 {
		return models.Post{}, remote("get post", fmt.Errorf("post %s: %w", postID, gateway.ErrNotFound))
	}
	return models.PostFromRow(rows[0])
}

// Update меняет только переданные поля. actorID, если задан, должен быть автором.
func (s *PostService) Update(ctx context.Context, actorID, postID string, patch PostPatch) (models.Post, error) {
	fields := gateway.Row{}
	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		if err := validateDescription(d); err != nil {
			return models.Post{}, err
		}
		fields["description"] = d
	}
	if patch.NewsLink != nil {
		l := strings.TrimSpace(*patch.NewsLink)
		if err := validateLink("news_link", l, true); err != nil {
			return models.Post{}, err
		}
		fields["news_link"] = l
	}
	if patch.ArchiveLink != nil {
		l := strings.TrimSpace(*patch.ArchiveLink)
		if err := validateLink("archive_link", l, false); err != nil {
			return models.Post{}, err
		}
		if l == "" {
			fields["archive_link"] = nil
		} else {
			fields["archive_link"] = l
		}
	}
	if patch.Tags != nil {
		tags := NormalizeTags(*patch.Tags)
		if len(tags) > maxTagsPerPost {
			return models.Post{}, &ValidationError{Field: "tags", Message: fmt.Sprintf("at most %d tags", maxTagsPerPost)}
		}
		fields["tags"] = tags
	}
	if len(fields) == 0 {
		return models.Post{}, &ValidationError{Message: "nothing to update"}
	}

	if err := s.checkAuthor(ctx, actorID, postID); err != nil {
		return models.Post{}, err
	}
	fields["updated_at"] = s.now()

	row, err := s.gw.UpdateRow(ctx, models.TablePosts, postID, fields)
	if err != nil {
		return models.Post{}, remote("update post", err)
	}
	return models.PostFromRow(row)
}

// Delete удаляет пост и его репосты. Возвращает удаленный пост.
func (s *PostService) Delete(ctx context.Context, actorID, postID string) (models.Post, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return models.Post{}, remote("delete post", err)
	}
	if actorID != "" && post.UserID != actorID {
		return models.Post{}, ErrForbidden
	}
	if err := s.gw.DeleteRow(ctx, models.TablePosts, postID); err != nil {
		return models.Post{}, remote("delete post", err)
	}
	s.dropShares(ctx, postID)
	return post, nil
}

func (s *PostService) checkAuthor(ctx context.Context, actorID, postID string) error {
	if actorID == "" {
		return nil
	}
	post, err := s.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != actorID {
		return ErrForbidden
	}
	return nil
}

// dropShares убирает репосты удаленного поста; лента их и так пропускает,
// поэтому ошибки только логируются
func (s *PostService) dropShares(ctx context.Context, postID string) {
	rows, err := s.gw.QueryRows(ctx, models.TableShares, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("post_id", postID)},
	})
	if err != nil {
		glog.Warningf("drop shares of %s: %v", postID, err)
		return
	}
	for _, r := range rows {
		id, _ := r["id"].(string)
		if err := s.gw.DeleteRow(ctx, models.TableShares, id); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			glog.Warningf("drop share %s: %v", id, err)
		}
	}
}
