package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

// User is a tenant of the console. Devices and channels are always scoped
// to exactly one user.
type User struct {
	ID        string    `json:"id"`
	Subject   string    `json:"-"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Device struct {
	ID              string     `json:"id"`
	DeviceCode      string     `json:"device_code"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	ActiveChannelID *string    `json:"active_channel_id"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
	LastIP          string     `json:"last_ip,omitempty"`
	LastCountry     string     `json:"last_country,omitempty"`
	LastCity        string     `json:"last_city,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type DeviceInput struct {
	DeviceCode string `json:"device_code"`
	Name       string `json:"name"`
}

func (in *DeviceInput) Validate() error {
	if in.DeviceCode == "" {
		return errors.New("device_code is required")
	}
	if len(in.DeviceCode) > 255 {
		return errors.New("device_code must be at most 255 characters")
	}
	if len(in.Name) > 255 {
		return errors.New("name must be at most 255 characters")
	}
	return nil
}

// Channel is one playable entry of a tenant's imported playlist.
// StreamURL and SourceURL are never serialized to console clients.
type Channel struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	TvgName    string    `json:"tvg_name"`
	TvgLogo    string    `json:"tvg_logo"`
	GroupTitle string    `json:"group_title"`
	StreamURL  string    `json:"-"`
	SourceURL  string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ChannelFilter struct {
	Group  string
	Search string
	Page   int
	Limit  int
}

const (
	DefaultChannelPageSize = 20
	MaxChannelPageSize     = 100
)

// Normalize clamps paging values into their valid ranges.
func (f *ChannelFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultChannelPageSize
	}
	if f.Limit > MaxChannelPageSize {
		f.Limit = MaxChannelPageSize
	}
}

func (f ChannelFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type ChannelPage struct {
	Data  []Channel `json:"data"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

type GeoResult struct {
	IP      string  `json:"ip,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	City    string  `json:"city"`
	Country string  `json:"country"`
}
