package api

import (
	"context"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"linkdrop/internal/middleware/requestid"
	"linkdrop/internal/models"
	"linkdrop/internal/pkg/log"
	"linkdrop/internal/render"
	"linkdrop/internal/service"
)

// formOverhead is extra body room for the text fields of a multipart send.
const formOverhead = 1 << 20

type LinkService interface {
	Send(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
	Lookup(ctx context.Context, token string) (*models.Message, error)
	Image(ctx context.Context, token string) (*service.Image, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Service LinkService
	DB      Pinger
	// BaseURL prefixes emailed links. Empty means derive it from the request.
	BaseURL        string
	MaxUploadBytes int64
}

func NewAPIHandler(svc LinkService, db Pinger, baseURL string, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = service.DefaultMaxUploadBytes
	}
	return &Handler{
		Service:        svc,
		DB:             db,
		BaseURL:        baseURL,
		MaxUploadBytes: maxUploadBytes,
	}
}

type sendForm struct {
	Recipient  string `form:"recipient"`
	To         string `form:"to"`
	Text       string `form:"text" binding:"required"`
	TTLSeconds string `form:"ttl_seconds"`
	Subject    string `form:"subject"`
	ImageURL   string `form:"image_url"`
}

type SendResponse struct {
	Status    string  `json:"status" example:"sent"`
	Link      string  `json:"link" example:"https://example.com/view/3q2-7wAAAbcD"`
	ExpiresAt float64 `json:"expires_at" example:"1767225600.5"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// RequestID is set on server errors so clients can quote it.
	RequestID string `json:"request_id,omitempty"`
}

// Send godoc
// @Summary      Create a link and email it
// @Description  Stores the message and either an uploaded image or an image URL, then emails the view link.
// @Tags         links
// @Accept       multipart/form-data
// @Produce      json
// @Param        recipient    formData  string  true   "Recipient email address (alias: to)"
// @Param        text         formData  string  true   "Message text"
// @Param        ttl_seconds  formData  int     false  "Lifetime in seconds" default(3600)
// @Param        subject      formData  string  false  "Email subject" default(Your secure link)
// @Param        image        formData  file    false  "Image upload"
// @Param        image_url    formData  string  false  "External image URL"
// @Success      200  {object}  SendResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      413  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /send [post]
func (h *Handler) Send(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+formOverhead)

	var form sendForm
	if err := c.ShouldBind(&form); err != nil {
		h.sendError(c, bindError(err))
		return
	}

	ttl, err := parseTTL(form.TTLSeconds)
	if err != nil {
		h.sendError(c, err)
		return
	}

	recipient := form.Recipient
	if recipient == "" {
		recipient = form.To
	}
	req := service.SendRequest{
		Recipient: recipient,
		Subject:   form.Subject,
		Text:      form.Text,
		TTL:       ttl,
		ImageURL:  form.ImageURL,
		BaseURL:   h.baseURL(c),
	}

	file, err := c.FormFile("image")
	switch {
	case err == nil && file.Filename != "":
		f, err := file.Open()
		if err != nil {
			h.sendError(c, err)
			return
		}
		defer f.Close()
		req.Image = &service.Upload{Filename: file.Filename, Content: f}
	case err == nil, errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		h.sendError(c, bindError(err))
		return
	}

	res, err := h.Service.Send(c.Request.Context(), req)
	if err != nil {
		h.sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, SendResponse{
		Status:    "sent",
		Link:      res.Link,
		ExpiresAt: float64(res.ExpiresAt.UnixNano()) / float64(time.Second),
	})
}

// View godoc
// @Summary      Show the message page
// @Tags         links
// @Produce      html
// @Param        token  path  string  true  "Link token"
// @Success      200  {string}  string  "HTML page"
// @Failure      404  {string}  string  "Invalid link"
// @Failure      410  {string}  string  "Link expired"
// @Router       /view/{token} [get]
func (h *Handler) View(c *gin.Context) {
	token := c.Param("token")
	c.Header("Cache-Control", "no-store")

	msg, err := h.Service.Lookup(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			h.html(c, http.StatusNotFound, statusPage("Invalid link"))
		case errors.Is(err, service.ErrExpired):
			h.html(c, http.StatusGone, statusPage("Link expired"))
		default:
			log.ErrorWithContext(c.Request.Context(), "Error loading link %s: %v", token, err)
			h.html(c, http.StatusInternalServerError, statusPage("Something went wrong"))
		}
		return
	}

	src := msg.ExternalImageURL()
	if src == "" {
		src = "/image/" + msg.Token
	}
	page, err := render.View(render.ViewData{Text: msg.Text, ImageSrc: src})
	if err != nil {
		log.ErrorWithContext(c.Request.Context(), "Error rendering link %s: %v", token, err)
		h.html(c, http.StatusInternalServerError, statusPage("Something went wrong"))
		return
	}
	h.html(c, http.StatusOK, page)
}

// Image godoc
// @Summary      Serve the uploaded image
// @Tags         links
// @Produce      image/png,image/jpeg,image/gif,image/webp
// @Param        token  path  string  true  "Link token"
// @Success      200  {file}    binary
// @Failure      404  {object}  ErrorResponse
// @Failure      410  {object}  ErrorResponse
// @Router       /image/{token} [get]
func (h *Handler) Image(c *gin.Context) {
	img, err := h.Service.Image(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.sendError(c, err)
		return
	}
	defer img.Body.Close()

	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, img.Size, img.ContentType, img.Body, nil)
}

// Health godoc
// @Summary      Liveness and database check
// @Tags         ops
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  ErrorResponse
// @Router       /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		log.ErrorWithContext(ctx, "Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) sendError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	requestID := ""

	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, msg = http.StatusNotFound, "Invalid link"
	case errors.Is(err, service.ErrExpired):
		status, msg = http.StatusGone, "Link expired"
	case errors.Is(err, service.ErrNoImage):
		status, msg = http.StatusNotFound, "No stored image"
	case errors.Is(err, service.ErrUploadTooLarge), errors.As(err, &tooLarge):
		status, msg = http.StatusRequestEntityTooLarge, service.ErrUploadTooLarge.Error()
	case errors.Is(err, service.ErrMissingImage),
		errors.Is(err, service.ErrInvalidTTL),
		errors.Is(err, service.ErrInvalidImageURL),
		errors.Is(err, service.ErrInvalidRecipient),
		errors.Is(err, service.ErrMissingText),
		errors.Is(err, service.ErrNotAnImage),
		errors.Is(err, errBadForm):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		log.ErrorWithContext(c.Request.Context(), "Request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		if errors.Is(err, service.ErrNotify) {
			msg = "failed to send email"
		}
		requestID = requestid.GetRequestID(c)
	}
	c.JSON(status, ErrorResponse{Error: msg, RequestID: requestID})
}

func (h *Handler) html(c *gin.Context, status int, page []byte) {
	c.Data(status, "text/html; charset=utf-8", page)
}

func statusPage(title string) []byte {
	page, err := render.Status(title)
	if err != nil {
		return []byte("<h2>" + title + "</h2>")
	}
	return page
}

// baseURL returns the configured base URL, or scheme://host of the incoming request.
func (h *Handler) baseURL(c *gin.Context) string {
	if h.BaseURL != "" {
		return strings.TrimRight(h.BaseURL, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := c.Request.Host
	if fh := c.GetHeader("X-Forwarded-Host"); fh != "" {
		host = strings.TrimSpace(strings.Split(fh, ",")[0])
	}
	return scheme + "://" + host
}

var errBadForm = errors.New("malformed form")

func bindError(err error) error {
	var verrs validator.ValidationErrors
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return err
	case errors.As(err, &verrs):
		return service.ErrMissingText
	case errors.Is(err, multipart.ErrMessageTooLarge):
		return service.ErrUploadTooLarge
	}
	return errBadForm
}

func parseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return service.DefaultTTL, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 || secs > math.MaxInt64/int64(time.Second) {
		return 0, service.ErrInvalidTTL
	}
	return time.Duration(secs) * time.Second, nil
}
