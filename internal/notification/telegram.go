package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"signal-systemv1/internal/model"
)

// TelegramNotifier sends alerts through the Telegram Bot API sendMessage call.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier takes a @BotFather token and the target chat,
// group or channel id.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: notifyTimeout},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	msg := telegramMessage{ChatID: t.chatID, Text: telegramText(alert), ParseMode: "MarkdownV2"}
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func telegramText(alert Alert) string {
	icon := "ℹ️"
	switch {
	case alert.Level == AlertCritical:
		icon = "🚨"
	case alert.Signal == model.Buy:
		icon = "🟢"
	case alert.Signal == model.Sell:
		icon = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", icon, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	if alert.RSI != nil {
		fmt.Fprintf(&b, "\n`RSI %s`", escapeMarkdown(fmt.Sprintf("%.2f", *alert.RSI)))
	}
	return b.String()
}

var markdownV2 = strings.NewReplacer(
	`_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
	`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`,
	`=`, `\=`, `|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
)

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string { return markdownV2.Replace(s) }
