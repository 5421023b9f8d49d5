package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"llmrelay/internal/domain"
)

const telegramPollTimeout = 30 // seconds, long polling

// botAPI is the subset of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram implements domain.Channel over the Telegram Bot API.
type Telegram struct {
	token     string
	endpoint  string
	parseMode string
	helpText  string
	bot       botAPI
	logger    *slog.Logger
}

type TelegramConfig struct {
	Token       string
	APIEndpoint string   // Bot API URL format, tgbotapi.APIEndpoint when empty
	ParseMode   string   // used for rich sends; "Markdown" when empty
	Prefixes    []string // listed in the /help reply
	Logger      *slog.Logger
}

var _ domain.Channel = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Telegram{
		token:     cfg.Token,
		endpoint:  cfg.APIEndpoint,
		parseMode: cfg.ParseMode,
		helpText:  HelpText(cfg.Prefixes),
		logger:    cfg.Logger.With("component", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates with Telegram. Start calls it when needed; calling it
// up front lets the process fail fast on a bad token.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	_ = tgbotapi.SetLogger(botLogger{logger: t.logger, redact: t.redact})
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", t.redactErr(err))
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return nil
}

// Start long-polls for updates and publishes text messages until ctx is done.
func (t *Telegram) Start(ctx context.Context, publish func(domain.IncomingMessage)) error {
	if err := t.Connect(); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update, publish)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update, publish func(domain.IncomingMessage)) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	if strings.TrimSpace(m.Text) == "" {
		return
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	if m.IsCommand() {
		t.handleCommand(ctx, chatID, m)
		return
	}

	name := m.From.UserName
	if name == "" {
		name = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	publish(domain.IncomingMessage{
		MessageID:  strconv.Itoa(m.MessageID),
		ChatID:     chatID,
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: name,
		Text:       m.Text,
		Timestamp:  m.Time(),
	})
}

// handleCommand answers /help and /start. Other commands are ignored.
func (t *Telegram) handleCommand(ctx context.Context, chatID string, m *tgbotapi.Message) {
	switch m.Command() {
	case "help", "start":
		err := t.Send(ctx, chatID, t.helpText, domain.SendOptions{Rich: true, DisableLinkPreview: true})
		if errors.Is(err, domain.ErrFormattingRejected) {
			err = t.Send(ctx, chatID, t.helpText, domain.SendOptions{DisableLinkPreview: true})
		}
		if err != nil {
			t.logger.Error("help reply failed", "chat_id", chatID, "err", err)
		}
	default:
		t.logger.Debug("ignoring command", "chat_id", chatID, "command", m.Command())
	}
}

// Send delivers text to chatID. A 400 response to a rich send is reported as
// domain.ErrFormattingRejected so the caller can retry without markup.
func (t *Telegram) Send(ctx context.Context, chatID, text string, opts domain.SendOptions) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}

	msg := tgbotapi.NewMessage(id, text)
	if opts.Rich {
		msg.ParseMode = t.parseMode
	}
	msg.DisableWebPagePreview = opts.DisableLinkPreview

	if _, err := t.bot.Send(msg); err != nil {
		if code, ok := apiErrorCode(err); ok && opts.Rich && code == http.StatusBadRequest {
			return fmt.Errorf("telegram send: %w: %w", domain.ErrFormattingRejected, err)
		}
		return fmt.Errorf("telegram send: %w", t.redactErr(err))
	}
	return nil
}

// SendTyping shows the "typing…" chat action.
func (t *Telegram) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	if _, err := t.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram chat action: %w", t.redactErr(err))
	}
	return nil
}

// redact masks the bot token, which tgbotapi embeds in every request URL.
func (t *Telegram) redact(s string) string {
	if t.token == "" {
		return s
	}
	return strings.ReplaceAll(s, t.token, "****")
}

// redactErr strips the token from transport errors before they reach logs.
// *url.Error keeps its type so callers can still inspect it.
func (t *Telegram) redactErr(err error) error {
	if err == nil || t.token == "" {
		return err
	}
	if ue, ok := err.(*url.Error); ok {
		clean := *ue
		clean.URL = t.redact(ue.URL)
		if !strings.Contains(clean.Error(), t.token) {
			return &clean
		}
	}
	if msg := err.Error(); strings.Contains(msg, t.token) {
		return errors.New(t.redact(msg))
	}
	return err
}

// botLogger routes tgbotapi's internal logging (polling retries) through slog.
type botLogger struct {
	logger *slog.Logger
	redact func(string) string
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Warn(l.redact(strings.TrimSuffix(fmt.Sprintln(v...), "\n")))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Warn(l.redact(fmt.Sprintf(format, v...)))
}

func apiErrorCode(err error) (int, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

// HelpText renders the /help reply for the given trigger prefixes.
func HelpText(prefixes []string) string {
	var sb strings.Builder
	sb.WriteString("🤖 *Homelab LLM Bot*\n\nTrigger the LLM using:\n\n")
	for _, p := range prefixes {
		fmt.Fprintf(&sb, "• `%s your question`\n", p)
	}
	if len(prefixes) > 0 {
		sb.WriteString("\nExamples:\n")
		fmt.Fprintf(&sb, "`%s explain kubernetes like I'm 5`\n", prefixes[0])
		if len(prefixes) > 1 {
			fmt.Fprintf(&sb, "`%s summarize docker compose`\n", prefixes[1])
		}
	}
	sb.WriteString("\nCommands:\n/help - show this help message\n")
	return sb.String()
}
