package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ArticleListResponse from GET /bapi/composite/v1/public/cms/article/list/query.
type ArticleListResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    ArticleListData `json:"data"`
}

// ArticleListData wraps the catalogs returned by a listing query.
type ArticleListData struct {
	Catalogs []Catalog `json:"catalogs"`
}

// Catalog is one announcement category with its newest articles.
type Catalog struct {
	CatalogID   int64     `json:"catalogId"`
	CatalogName string    `json:"catalogName"`
	Total       int       `json:"total"`
	Articles    []Article `json:"articles"`
}

// Article is a single announcement in the listing.
type Article struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	Type        int    `json:"type"`
	ReleaseDate int64  `json:"releaseDate"` // Unix milliseconds
}

// ReleasedAt returns the article's release time.
func (a Article) ReleasedAt() time.Time {
	return time.UnixMilli(a.ReleaseDate)
}

// ListAnnouncements fetches the newest articles of one catalog.
func (c *Client) ListAnnouncements(ctx context.Context, catalogID, pageSize int) (*Catalog, error) {
	query := url.Values{}
	query.Set("type", "1")
	query.Set("catalogId", strconv.Itoa(catalogID))
	query.Set("pageNo", "1")
	query.Set("pageSize", strconv.Itoa(pageSize))

	var resp ArticleListResponse
	if err := c.get(ctx, c.cmsURL, "/bapi/composite/v1/public/cms/article/list/query", query, &resp); err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	if resp.Code != "" && resp.Code != "000000" {
		return nil, fmt.Errorf("list announcements: code %s: %s", resp.Code, resp.Message)
	}

	for _, cat := range resp.Data.Catalogs {
		if cat.CatalogID == int64(catalogID) {
			return &cat, nil
		}
	}
	return &Catalog{CatalogID: int64(catalogID)}, nil
}
