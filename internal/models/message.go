package models

import "time"

// Message is one expiring link. Token is the primary key.
type Message struct {
	Token            string    `db:"token" json:"token"`
	Recipient        string    `db:"recipient" json:"recipient"`
	Subject          string    `db:"subject" json:"subject"`
	Text             string    `db:"text" json:"text"`
	ImagePath        *string   `db:"image_path" json:"image_path,omitempty"`
	ImageURL         *string   `db:"image_url" json:"image_url,omitempty"`
	ImageContentType *string   `db:"image_content_type" json:"-"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// IsExpiredAt reports whether now is past the expiry. The expiry instant itself is still valid.
func (m *Message) IsExpiredAt(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// HasStoredImage reports whether an uploaded image was kept for this message.
func (m *Message) HasStoredImage() bool {
	return m.ImagePath != nil && *m.ImagePath != ""
}

// ExternalImageURL returns the external image URL, or "" when none was given.
func (m *Message) ExternalImageURL() string {
	if m.ImageURL == nil {
		return ""
	}
	return *m.ImageURL
}
