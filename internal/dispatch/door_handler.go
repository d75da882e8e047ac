package dispatch

import (
	"context"
	"strings"

	"github.com/agentuity/go-common/logger"

	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/door"
)

// DoorHandler owns IN_ACTIVITY sessions: every line goes to the door
// engine the session is bound to, except the exit command.
type DoorHandler struct {
	logger logger.Logger
	doors  *door.Service
}

func NewDoorHandler(log logger.Logger, doors *door.Service) *DoorHandler {
	return &DoorHandler{
		logger: log.WithPrefix("[door-handler]"),
		doors:  doors,
	}
}

func (h *DoorHandler) Name() string { return "door" }

func (h *DoorHandler) CanHandle(sess *domain.Session, _ string) bool {
	return sess.State == domain.StateInActivity && sess.Context.Door != nil
}

func (h *DoorHandler) Handle(ctx context.Context, sess *domain.Session, line string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	if trimmed == "/exit" || trimmed == "quit" {
		farewell, err := h.doors.Exit(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		return farewell + "Back at the main menu. Type ? for options.\r\n", nil
	}
	return h.doors.ProcessInput(ctx, sess.ID, line)
}
