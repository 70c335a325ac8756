package models

import (
	"time"

	"newsjunkies/gateway"
)

// MaxRecentTags - сколько недавно просмотренных тегов хранится в профиле
const MaxRecentTags = 10

type Profile struct {
	ID                 string    `json:"id"`
	Name               *string   `json:"name"`
	Description        *string   `json:"description"`
	PictureURL         *string   `json:"profile_picture_url"`
	RecentlyViewedTags []string  `json:"recently_viewed_tags"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func ProfileFromRow(r gateway.Row) (Profile, error) {
	var (
		p   Profile
		err error
	)
	if p.ID, err = requiredString(r, TableProfiles, "id"); err != nil {
		return Profile{}, err
	}
	if p.Name, err = stringPtr(r, TableProfiles, "name"); err != nil {
		return Profile{}, err
	}
	if p.Description, err = stringPtr(r, TableProfiles, "description"); err != nil {
		return Profile{}, err
	}
	if p.PictureURL, err = stringPtr(r, TableProfiles, "profile_picture_url"); err != nil {
		return Profile{}, err
	}
	if p.RecentlyViewedTags, err = rowStrings(r, TableProfiles, "recently_viewed_tags"); err != nil {
		return Profile{}, err
	}
	if p.CreatedAt, err = rowTime(r, TableProfiles, "created_at"); err != nil {
		return Profile{}, err
	}
	if p.UpdatedAt, err = rowTime(r, TableProfiles, "updated_at"); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p *Profile) HasName() bool {
	return p != nil && p.Name != nil && *p.Name != ""
}

func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.RecentlyViewedTags != nil {
		c.RecentlyViewedTags = append([]string(nil), p.RecentlyViewedTags...)
	}
	return &c
}
