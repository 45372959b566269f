package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies where an announcement was observed.
type Source string

const (
	SourceStream Source = "stream"
	SourceREST   Source = "rest"
)

// KeyNamespace is the UUID namespace for announcement keys.
var KeyNamespace = uuid.MustParse("6f1c1b0e-5d0a-4c8e-9a53-2b7d3f4e8a10")

// ArticleBaseURL is where articles are published by code.
const ArticleBaseURL = "https://www.binance.com/en/support/announcement/"

// Announcement is one exchange announcement from either source.
type Announcement struct {
	Key         uuid.UUID // Dedup key, see AnnouncementKey
	CatalogID   int64
	CatalogName string
	Title       string
	Body        string
	Disclaimer  string
	Topic       string // Stream topic, empty for REST
	Code        string // Article code, REST only
	PublishedAt int64  // µs since epoch
	ReceivedAt  int64  // µs since epoch
	Source      Source
}

// AnnouncementKey derives the dedup key. Topic and source are excluded.
func AnnouncementKey(catalogID int64, title string, publishedAt int64) uuid.UUID {
	name := strings.Join([]string{
		strconv.FormatInt(catalogID, 10),
		strings.TrimSpace(title),
		// Both sources publish millisecond timestamps.
		strconv.FormatInt(publishedAt/1000, 10),
	}, "|")
	return uuid.NewSHA1(KeyNamespace, []byte(name))
}

// SetKey computes and stores the dedup key.
func (a *Announcement) SetKey() {
	a.Key = AnnouncementKey(a.CatalogID, a.Title, a.PublishedAt)
}

// URL returns the public article link, or "" when the code is unknown.
func (a Announcement) URL() string {
	if a.Code == "" {
		return ""
	}
	return ArticleBaseURL + a.Code
}

// Published returns PublishedAt as a time.
func (a Announcement) Published() time.Time {
	return FromMicros(a.PublishedAt)
}

// ToMicros converts a time to µs since epoch.
func ToMicros(t time.Time) int64 {
	return t.UnixMicro()
}

// FromMicros converts µs since epoch to a time.
func FromMicros(us int64) time.Time {
	return time.UnixMicro(us)
}
