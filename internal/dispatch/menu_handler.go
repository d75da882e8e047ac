package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentuity/go-common/logger"

	"github.com/lanternbbs/lantern/internal/domain"
	"github.com/lanternbbs/lantern/internal/door"
	"github.com/lanternbbs/lantern/internal/notify"
	"github.com/lanternbbs/lantern/internal/session"
	"github.com/lanternbbs/lantern/internal/storage"
)

// Oneliner produces the little quip on the main menu. Implemented by the
// assist service; a nil provider just drops the line.
type Oneliner interface {
	Oneliner(ctx context.Context) string
}

// MenuHandler is the AUTHENTICATED fallback: menus, who-lists, message
// bases, and door launching. Registered last, so it only ever sees input
// no earlier handler claimed.
type MenuHandler struct {
	logger   logger.Logger
	sessions *session.Manager
	doors    *door.Service
	messages *storage.MessageRepo
	notifier *notify.Service
	oneliner Oneliner
}

func NewMenuHandler(log logger.Logger, sessions *session.Manager, doors *door.Service, messages *storage.MessageRepo, notifier *notify.Service, oneliner Oneliner) *MenuHandler {
	return &MenuHandler{
		logger:   log.WithPrefix("[menu]"),
		sessions: sessions,
		doors:    doors,
		messages: messages,
		notifier: notifier,
		oneliner: oneliner,
	}
}

func (h *MenuHandler) Name() string { return "menu" }

func (h *MenuHandler) CanHandle(sess *domain.Session, _ string) bool {
	return sess.State == domain.StateAuthenticated
}

func (h *MenuHandler) Handle(ctx context.Context, sess *domain.Session, line string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return h.menuScreen(ctx), nil
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "?", "help", "menu":
		return h.menuScreen(ctx), nil
	case "w", "who":
		return h.whoScreen(), nil
	case "d", "doors":
		if len(args) == 0 {
			return h.doorsScreen(), nil
		}
		return h.enterDoor(ctx, sess, args[0])
	case "r", "read":
		return h.readMessages(ctx, args)
	case "p", "post":
		return h.postMessage(ctx, sess, args)
	case "g", "bye", "logoff":
		return "\x1b[1;36mThanks for calling. Hang up any time.\x1b[0m\r\n", nil
	default:
		return "Unknown command. Type ? for the menu.\r\n", nil
	}
}

func (h *MenuHandler) menuScreen(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("\x1b[1;36m--- Main Menu ---\x1b[0m\r\n")
	b.WriteString(" ?            this menu\r\n")
	b.WriteString(" w            who's online\r\n")
	b.WriteString(" d [door]     list doors / enter one\r\n")
	b.WriteString(" r <base> [p] read a message base\r\n")
	b.WriteString(" p <base> ... post to a message base\r\n")
	b.WriteString(" g            sign off\r\n")
	if h.oneliner != nil {
		if quip := h.oneliner.Oneliner(ctx); quip != "" {
			b.WriteString("\r\n\x1b[33m" + quip + "\x1b[0m\r\n")
		}
	}
	return b.String()
}

func (h *MenuHandler) whoScreen() string {
	var b strings.Builder
	b.WriteString("\x1b[1;36m--- Online Now ---\x1b[0m\r\n")
	count := 0
	for _, sess := range h.sessions.All() {
		if !sess.Authenticated() || sess.Handle == "" {
			continue
		}
		count++
		where := "main menu"
		if sess.Context.Door != nil {
			where = "in " + sess.Context.Door.DoorID
		}
		fmt.Fprintf(&b, " %-24s %s\r\n", sess.Handle, where)
	}
	if count == 0 {
		b.WriteString(" (nobody, somehow)\r\n")
	}
	return b.String()
}

func (h *MenuHandler) doorsScreen() string {
	var b strings.Builder
	b.WriteString("\x1b[1;36m--- Doors ---\x1b[0m\r\n")
	for _, e := range h.doors.Engines() {
		fmt.Fprintf(&b, " %-10s %s\r\n", e.ID(), e.Name())
	}
	b.WriteString("Enter one with: d <door>\r\n")
	return b.String()
}

func (h *MenuHandler) enterDoor(ctx context.Context, sess *domain.Session, doorID string) (string, error) {
	output, err := h.doors.Enter(ctx, sess.ID, strings.ToLower(doorID))
	if errors.Is(err, door.ErrUnknownDoor) {
		return "No door by that name. Type d to list them.\r\n", nil
	}
	if err != nil {
		return "", err
	}
	return output, nil
}

func (h *MenuHandler) readMessages(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		bases, err := h.messages.ListBases(ctx)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteString("\x1b[1;36m--- Message Bases ---\x1b[0m\r\n")
		for _, base := range bases {
			fmt.Fprintf(&b, " %-10s %s\r\n", base.ID, base.Name)
		}
		b.WriteString("Read one with: r <base>\r\n")
		return b.String(), nil
	}

	page := 1
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			page = n
		}
	}
	msgs, total, err := h.messages.List(ctx, args[0], page, 10)
	if errors.Is(err, storage.ErrBaseNotFound) {
		return "No such base. Type r to list them.\r\n", nil
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\x1b[1;36m--- %s (page %d, %d total) ---\x1b[0m\r\n", args[0], page, total)
	if len(msgs) == 0 {
		b.WriteString(" (no messages here)\r\n")
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "\x1b[32m%s\x1b[0m @ %s\r\n  %s\r\n",
			m.AuthorHandle, m.CreatedAt.Format("2006-01-02 15:04"), m.Body)
	}
	return b.String(), nil
}

func (h *MenuHandler) postMessage(ctx context.Context, sess *domain.Session, args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: p <base> <message>\r\n", nil
	}
	baseID := args[0]
	body := strings.Join(args[1:], " ")

	msg, err := h.messages.Create(ctx, baseID, sess.UserID, sess.Handle, body)
	if errors.Is(err, storage.ErrBaseNotFound) {
		return "No such base. Type r to list them.\r\n", nil
	}
	if err != nil {
		return "", err
	}

	h.notifier.Broadcast(domain.NewEvent(domain.EventMessageNew, map[string]any{
		"message_base_id": msg.BaseID,
		"message_id":      msg.ID,
		"handle":          msg.AuthorHandle,
	}))
	return "Posted to " + baseID + ".\r\n", nil
}
