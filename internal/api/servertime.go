package api

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ServerTimeResponse from GET /api/v3/time.
type ServerTimeResponse struct {
	ServerTime int64 `json:"serverTime"` // Unix milliseconds
}

// ServerTime fetches the exchange clock. Used as the reference timestamp when
// signing socket connections so local clock drift does not push requests
// outside the receive window.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp ServerTimeResponse
	if err := c.get(ctx, c.baseURL, "/api/v3/time", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	if resp.ServerTime <= 0 {
		return time.Time{}, errors.New("get server time: missing serverTime")
	}
	return time.UnixMilli(resp.ServerTime), nil
}
