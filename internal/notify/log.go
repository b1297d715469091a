package notify

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"

	"linkdrop/internal/pkg/log"
	"linkdrop/internal/service"
)

// LogSender prints the email instead of sending it. For local development only.
type LogSender struct{}

var _ service.Notifier = LogSender{}

func (LogSender) Notify(ctx context.Context, to, subject, body string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	log.InfoWithContext(ctx, "Email to=%s subject=%q id=%s\n%s", to, subject, id, body)
	return fmt.Sprintf("log-%s", id), nil
}
