package domain

import (
	"encoding/base64"
	"strconv"
)

// Page size bounds for event log listings.
const (
	DefaultMaxResults = 100
	MaxMaxResults     = 1000
)

// PageRequest is an offset page over an ordered listing. PageToken is opaque
// to callers; it is the offset encoded as URL-safe base64 so it can travel in
// a query string unescaped.
type PageRequest struct {
	MaxResults int
	PageToken  string
}

// Offset decodes the page token. Empty or malformed tokens start at 0.
func (p PageRequest) Offset() int {
	if p.PageToken == "" {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(p.PageToken)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Limit returns MaxResults clamped to [1, MaxMaxResults], or the default.
func (p PageRequest) Limit() int {
	switch {
	case p.MaxResults <= 0:
		return DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		return MaxMaxResults
	default:
		return p.MaxResults
	}
}

// EncodePageToken returns the token for offset, or "" for the first page.
func EncodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// NextPageToken returns the token of the page after [offset, offset+limit),
// or "" once total rows have been covered.
func NextPageToken(offset, limit int, total int64) string {
	if int64(offset+limit) >= total {
		return ""
	}
	return EncodePageToken(offset + limit)
}
