package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/mail"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"linkdrop/internal/models"
	"linkdrop/internal/pkg/log"
)

const (
	DefaultSubject        = "Your secure link"
	DefaultTTL            = time.Hour
	DefaultMaxTTL         = 30 * 24 * time.Hour
	DefaultMaxUploadBytes = 10 << 20

	defaultImageExt = ".png"
)

var (
	ErrNotFound         = errors.New("invalid link")
	ErrExpired          = errors.New("link expired")
	ErrNoImage          = errors.New("no stored image")
	ErrMissingImage     = errors.New("provide image upload or image_url")
	ErrInvalidTTL       = errors.New("ttl_seconds out of range")
	ErrInvalidImageURL  = errors.New("image_url must be an absolute http or https URL")
	ErrInvalidRecipient = errors.New("recipient is not a valid email address")
	ErrMissingText      = errors.New("text is required")
	ErrNotAnImage       = errors.New("uploaded file is not a supported image")
	ErrUploadTooLarge   = errors.New("uploaded image is too large")
	ErrNotify           = errors.New("failed to send notification")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks linkdrop/internal/service MessageRepository,ImageStore,Notifier,ReceiptCache

type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	// FindByToken returns nil, nil when no row matches.
	FindByToken(ctx context.Context, token string) (*models.Message, error)
	Delete(ctx context.Context, token string) error
}

// ImageStore keeps uploaded images by key. Open must return an error wrapping
// fs.ErrNotExist when the key is absent.
type ImageStore interface {
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}

// Notifier delivers the link email synchronously and returns the provider's message id.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) (string, error)
}

type ReceiptCache interface {
	StoreReceipt(ctx context.Context, token, messageID string, ttl time.Duration) error
}

type Options struct {
	MaxTTL         time.Duration
	MaxUploadBytes int64
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Tokens defaults to NewToken.
	Tokens func() (string, error)
}

type LinkService struct {
	repo      MessageRepository
	store     ImageStore
	notifier  Notifier
	receipts  ReceiptCache
	maxTTL    time.Duration
	maxUpload int64
	now       func() time.Time
	newToken  func() (string, error)
}

// NewLinkService wires the link lifecycle. receipts may be nil.
func NewLinkService(repo MessageRepository, store ImageStore, notifier Notifier, receipts ReceiptCache, opts Options) *LinkService {
	s := &LinkService{
		repo:      repo,
		store:     store,
		notifier:  notifier,
		receipts:  receipts,
		maxTTL:    opts.MaxTTL,
		maxUpload: opts.MaxUploadBytes,
		now:       opts.Clock,
		newToken:  opts.Tokens,
	}
	if s.maxTTL <= 0 {
		s.maxTTL = DefaultMaxTTL
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newToken == nil {
		s.newToken = NewToken
	}
	return s
}

// Upload is an image file sent with a send request.
type Upload struct {
	Filename string
	Content  io.Reader
}

type SendRequest struct {
	Recipient string
	Subject   string
	Text      string
	TTL       time.Duration
	ImageURL  string
	Image     *Upload
	// BaseURL prefixes the view link, e.g. "https://example.com".
	BaseURL string
}

type SendResult struct {
	Token     string
	Link      string
	ExpiresAt time.Time
}

// Send creates a link, stores the optional image, persists the record and
// emails the recipient. A notifier failure fails the whole call; the record is kept.
func (s *LinkService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Image == nil && strings.TrimSpace(req.ImageURL) == "" {
		return nil, ErrMissingImage
	}
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	token, err := s.newToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	msg := &models.Message{
		Token:     token,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Text:      req.Text,
		ExpiresAt: now.Add(req.TTL),
		CreatedAt: now,
	}
	if req.ImageURL != "" {
		msg.ImageURL = &req.ImageURL
	}

	if req.Image != nil {
		key, contentType, err := s.saveImage(ctx, token, req.Image)
		if err != nil {
			return nil, err
		}
		msg.ImagePath = &key
		msg.ImageContentType = &contentType
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		if msg.HasStoredImage() {
			s.deleteImage(ctx, *msg.ImagePath)
		}
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	link := strings.TrimRight(req.BaseURL, "/") + "/view/" + token
	body := fmt.Sprintf("Open your link (expires in %d seconds):\n%s", int64(req.TTL/time.Second), link)

	messageID, err := s.notifier.Notify(ctx, msg.Recipient, msg.Subject, body)
	if err != nil {
		log.ErrorWithContext(ctx, "Failed to notify %s for link %s: %v", msg.Recipient, token, err)
		return nil, fmt.Errorf("%w: %w", ErrNotify, err)
	}
	log.InfoWithContext(ctx, "Link %s sent to %s (messageId=%s)", token, msg.Recipient, messageID)

	if s.receipts != nil {
		if err := s.receipts.StoreReceipt(ctx, token, messageID, req.TTL); err != nil {
			log.WarnWithContext(ctx, "Error recording receipt for link %s: %v", token, err)
		}
	}

	return &SendResult{Token: token, Link: link, ExpiresAt: msg.ExpiresAt}, nil
}

func (s *LinkService) validate(req *SendRequest) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Recipient))
	if err != nil {
		return ErrInvalidRecipient
	}
	req.Recipient = addr.Address

	if strings.TrimSpace(req.Text) == "" {
		return ErrMissingText
	}
	if strings.TrimSpace(req.Subject) == "" {
		req.Subject = DefaultSubject
	}
	if req.TTL < time.Second || req.TTL > s.maxTTL {
		return ErrInvalidTTL
	}

	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.ImageURL != "" {
		u, err := url.Parse(req.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidImageURL
		}
	}
	return nil
}

func (s *LinkService) saveImage(ctx context.Context, token string, up *Upload) (string, string, error) {
	data, err := io.ReadAll(io.LimitReader(up.Content, s.maxUpload+1))
	if err != nil {
		return "", "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxUpload {
		return "", "", ErrUploadTooLarge
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") || mt.Is("image/svg+xml") {
		return "", "", ErrNotAnImage
	}

	ext := mt.Extension()
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(up.Filename))
	}
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		ext = defaultImageExt
	}
	key := token + ext

	if err := s.store.Save(ctx, key, bytes.NewReader(data), int64(len(data)), mt.String()); err != nil {
		return "", "", fmt.Errorf("failed to store image: %w", err)
	}
	return key, mt.String(), nil
}

// Lookup returns a live message. An expired message is deleted along with its
// image and reported as ErrExpired.
func (s *LinkService) Lookup(ctx context.Context, token string) (*models.Message, error) {
	msg, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	if msg.IsExpiredAt(s.now()) {
		s.expire(ctx, msg)
		return nil, ErrExpired
	}
	return msg, nil
}

func (s *LinkService) expire(ctx context.Context, msg *models.Message) {
	if err := s.repo.Delete(ctx, msg.Token); err != nil {
		log.ErrorWithContext(ctx, "Error deleting expired link %s: %v", msg.Token, err)
		return
	}
	if msg.HasStoredImage() {
		s.deleteImage(ctx, *msg.ImagePath)
	}
	log.InfoWithContext(ctx, "Expired link %s deleted", msg.Token)
}

func (s *LinkService) deleteImage(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WarnWithContext(ctx, "Error deleting image %s: %v", key, err)
	}
}

// Image is an opened stored image. The caller closes Body.
type Image struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Image opens the uploaded image of a live message. It returns ErrNoImage when
// the message has no upload or the stored object is gone.
func (s *LinkService) Image(ctx context.Context, token string) (*Image, error) {
	msg, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if !msg.HasStoredImage() {
		return nil, ErrNoImage
	}

	key := *msg.ImagePath
	body, size, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoImage
		}
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	contentType := ""
	if msg.ImageContentType != nil {
		contentType = *msg.ImageContentType
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Image{Body: body, Size: size, ContentType: contentType}, nil
}
