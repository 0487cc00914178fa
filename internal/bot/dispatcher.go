package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/claudebot/internal/coordinator"
	"github.com/ashureev/claudebot/internal/delivery"
	"github.com/ashureev/claudebot/internal/domain"
	"github.com/ashureev/claudebot/internal/identity"
)

// Transport is the chat surface the dispatcher replies through.
type Transport interface {
	delivery.Sender
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Dispatcher routes inbound messages to commands or agent runs.
type Dispatcher struct {
	coord     *coordinator.Coordinator
	transport Transport
	channel   *delivery.Channel
	allow     *identity.Allowlist
	logger    *slog.Logger
	username  string
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. opts configure its delivery channel.
func NewDispatcher(coord *coordinator.Coordinator, transport Transport, allow *identity.Allowlist, logger *slog.Logger, opts ...delivery.Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		coord:     coord,
		transport: transport,
		channel:   delivery.NewChannel(transport, logger, opts...),
		allow:     allow,
		logger:    logger,
	}
}

// SetUsername sets the bot's own username. Commands addressed to any other
// bot with "/cmd@name" are then ignored.
func (d *Dispatcher) SetUsername(name string) {
	d.username = strings.TrimPrefix(name, "@")
}

// Dispatch handles in on its own goroutine so one user's run never blocks another.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Handler panicked",
					"user_id", in.UserID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		d.Handle(ctx, in)
	}()
}

// Wait blocks until every dispatched handler has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Handle processes one message synchronously. Users outside the allowlist are ignored.
func (d *Dispatcher) Handle(ctx context.Context, in Inbound) {
	if !d.allow.Allowed(in.UserID) {
		d.logger.Debug("Dropping message from unauthorized user", "user_id", in.UserID)
		return
	}

	user := strconv.FormatInt(in.UserID, 10)
	name, mention, args, isCommand := parseCommand(in.Text)
	if !isCommand {
		d.startRun(ctx, user, in)
		return
	}
	if mention != "" && d.username != "" && !strings.EqualFold(mention, d.username) {
		d.logger.Debug("Ignoring command for another bot", "user_id", in.UserID, "mention", mention)
		return
	}

	d.logger.Debug("Command received", "user_id", in.UserID, "command", name)
	switch name {
	case "start", "help":
		d.reply(ctx, in, helpText)
	case "setdir":
		d.setDir(ctx, user, in, args)
	case "status":
		d.status(ctx, user, in)
	case "reset":
		d.coord.Reset(user)
		d.reply(ctx, in, "Session cleared. Next message will start a new session.")
	case "cancel":
		d.cancel(ctx, user, in)
	case "sessions":
		records, active := d.coord.Sessions(ctx, user)
		d.reply(ctx, in, formatSessions(records, active))
	case "resume":
		d.resume(ctx, user, in, args)
	default:
		d.startRun(ctx, user, in)
	}
}

const helpText = "Claude Code Bot\n\n" +
	"Commands:\n" +
	"/setdir <path> - Set working directory\n" +
	"/sessions - List previous sessions\n" +
	"/resume <number> - Resume a session\n" +
	"/status - Show current session info\n" +
	"/reset - Start new session\n" +
	"/cancel - Cancel running task\n\n" +
	"Send any message to execute Claude Code."

func (d *Dispatcher) reply(ctx context.Context, in Inbound, text string) {
	d.channel.Send(ctx, in.ChatID, text)
}

func (d *Dispatcher) startRun(ctx context.Context, user string, in Inbound) {
	out := &chatOutbox{d: d, chatID: in.ChatID}
	err := d.coord.StartRun(ctx, user, in.Text, out)
	if errors.Is(err, coordinator.ErrAlreadyRunning) {
		d.reply(ctx, in, "A task is already running. Use /cancel to stop it.")
	}
}

func (d *Dispatcher) setDir(ctx context.Context, user string, in Inbound, dir string) {
	if dir == "" {
		d.reply(ctx, in, "Usage: /setdir /path/to/project")
		return
	}
	d.coord.SetWorkDir(user, dir)
	d.reply(ctx, in, "Working directory set: "+dir)
}

func (d *Dispatcher) status(ctx context.Context, user string, in Inbound) {
	st := d.coord.Status(user)
	session := st.ActiveSessionID
	if session == "" {
		session = "none"
	}
	dir := st.WorkDir
	if dir == "" {
		dir = "not set"
	}
	running := "no"
	if st.Running {
		running = "yes"
	}
	d.reply(ctx, in, fmt.Sprintf("Session: %s\nDirectory: %s\nRunning: %s", session, dir, running))
}

func (d *Dispatcher) cancel(ctx context.Context, user string, in Inbound) {
	switch d.coord.Cancel(ctx, user) {
	case coordinator.CancelNothingRunning:
		d.reply(ctx, in, "No running task.")
	case coordinator.CancelFailedCleanedUp:
		d.reply(ctx, in, "Cancel failed, but task has been cleaned up.")
	case coordinator.CancelSucceeded:
		d.reply(ctx, in, "Task cancelled.")
	}
}

func (d *Dispatcher) resume(ctx context.Context, user string, in Inbound, arg string) {
	index := 0
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			n = -1
		}
		index = n
	}

	record, pos, err := d.coord.Resume(ctx, user, index)
	var rangeErr *coordinator.IndexOutOfRangeError
	switch {
	case errors.Is(err, coordinator.ErrNothingToResume):
		d.reply(ctx, in, "No sessions to resume. Use /sessions to check.")
		return
	case errors.As(err, &rangeErr):
		d.reply(ctx, in, fmt.Sprintf("Invalid number. Use 1~%d. See /sessions.", rangeErr.Count))
		return
	case err != nil:
		d.logger.Error("Resume failed", "user_id", in.UserID, "error", err)
		return
	}

	heading := fmt.Sprintf("Resumed session #%d:", pos)
	if index == 0 {
		heading = "Resumed last session:"
	}
	d.reply(ctx, in, formatResume(heading, record))
}

// parseCommand splits "/name@bot args" into its parts.
func parseCommand(text string) (name, mention, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		rest = head[i+1:] + " " + rest
		head = head[:i]
	}
	head, mention, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", "", false
	}
	return head, mention, strings.TrimSpace(rest), true
}

func formatSessions(records []domain.SessionRecord, active string) string {
	if len(records) == 0 {
		return "No saved sessions."
	}
	entries := make([]string, 0, len(records))
	for i, r := range records {
		marker := ""
		if r.SessionID == active {
			marker = " [active]"
		}
		entries = append(entries, fmt.Sprintf("%d. [%s]%s %s\n   %s\n   cwd: %s",
			i+1,
			r.Status,
			marker,
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			domain.Ellipsize(r.Prompt, 40),
			r.CWD,
		))
	}
	return "Sessions:\n\n" + strings.Join(entries, "\n\n") + "\n\nUse /resume <number> to resume."
}

func formatResume(heading string, r domain.SessionRecord) string {
	return fmt.Sprintf("%s\nID: %s...\nPrompt: %s\nCWD: %s\n\nSend a message to continue.",
		heading,
		domain.TruncateRunes(r.SessionID, 8),
		domain.TruncateRunes(r.Prompt, 50),
		r.CWD,
	)
}

// chatOutbox sends run output to the chat the prompt came from.
type chatOutbox struct {
	d      *Dispatcher
	chatID int64
}

func (o *chatOutbox) Send(ctx context.Context, text string) {
	o.d.channel.Send(ctx, o.chatID, text)
}

func (o *chatOutbox) Placeholder(ctx context.Context, text string) func() {
	id, err := o.d.transport.Send(ctx, o.chatID, text)
	if err != nil {
		o.d.logger.Warn("Failed to post placeholder", "chat_id", o.chatID, "error", err)
		return func() {}
	}
	return func() {
		if err := o.d.transport.Delete(context.WithoutCancel(ctx), o.chatID, id); err != nil {
			o.d.logger.Debug("Failed to delete placeholder", "chat_id", o.chatID, "message_id", id, "error", err)
		}
	}
}
