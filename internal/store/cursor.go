// ABOUTME: Opaque pagination cursor encoding for message history
// ABOUTME: Encodes (created_at, id) so backward paging has a stable tie-break

package store

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// sqliteTimeFormat is a fixed-width RFC3339 variant. Trailing zeros are kept
// so that lexicographic comparison of stored timestamps matches chronological
// order, which the paging queries rely on.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// encodeCursor packs a message position into an opaque cursor string.
func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(sqliteTimeFormat) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor unpacks a cursor produced by encodeCursor.
func decodeCursor(cursor string) (createdAt time.Time, id string, err error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	createdAt, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return createdAt, id, nil
}
