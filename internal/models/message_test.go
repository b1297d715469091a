package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsExpiredAt(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := &Message{ExpiresAt: exp}

	assert.False(t, m.IsExpiredAt(exp.Add(-time.Second)))
	assert.False(t, m.IsExpiredAt(exp))
	assert.True(t, m.IsExpiredAt(exp.Add(time.Nanosecond)))
}

func TestImageAccessors(t *testing.T) {
	empty := ""
	path := "abc.png"
	url := "https://example.com/a.png"

	assert.False(t, (&Message{}).HasStoredImage())
	assert.False(t, (&Message{ImagePath: &empty}).HasStoredImage())
	assert.True(t, (&Message{ImagePath: &path}).HasStoredImage())

	assert.Equal(t, "", (&Message{}).ExternalImageURL())
	assert.Equal(t, url, (&Message{ImageURL: &url}).ExternalImageURL())
}
