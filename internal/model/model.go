// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// AccountKey identifies one watched account within one subscriber's list.
// The same remote account watched by two subscribers yields two keys.
type AccountKey struct {
	SubscriberID int64
	Account      string
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%d/%s", k.SubscriberID, k.Account)
}

// Watermark holds the newest delivered timestamps for an account.
// A nil field means the sub-sequence was never synchronized.
type Watermark struct {
	LastPostAt  *time.Time
	LastStoryAt *time.Time
}

// Role is the permission level of a subscriber.
type Role string

// Supported roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Subscriber is a messaging user together with the accounts they watch.
type Subscriber struct {
	ID        int64
	Role      Role
	Blocked   bool
	Accounts  []string
	CreatedAt time.Time
}

// HasAccount reports whether the subscriber already watches name.
func (s *Subscriber) HasAccount(name string) bool {
	for _, a := range s.Accounts {
		if a == name {
			return true
		}
	}
	return false
}

// AccountHandle is a resolved remote account.
type AccountHandle struct {
	ID       string
	Username string
	Private  bool
}

// ItemKind distinguishes timeline posts from story items.
type ItemKind string

// Supported item kinds.
const (
	KindPost  ItemKind = "post"
	KindStory ItemKind = "story"
)

// Media is one downloadable file of an item.
type Media struct {
	URL   string
	Video bool
}

// Item is a post or story published by a remote account.
type Item struct {
	ID        string
	Shortcode string
	Owner     string
	Kind      ItemKind
	TakenAt   time.Time
	Media     []Media
}

// StagedItem is a downloaded file waiting for dispatch.
type StagedItem struct {
	LocalPath    string
	SizeBytes    int64
	SourceItemID string
	CapturedAt   time.Time
	Video        bool
}
