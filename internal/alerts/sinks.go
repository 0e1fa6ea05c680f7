package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"github.com/spbarathg/callsbotonchain-sub000/internal/logging"
)

// ---------------------------------------------------------------------------
// JSONL sink — the durable local log
// ---------------------------------------------------------------------------

// JSONLSink appends alerts to the alerts.jsonl event log.
type JSONLSink struct {
	log *logging.EventLog
}

func NewJSONLSink(l *logging.EventLog) *JSONLSink {
	return &JSONLSink{log: l}
}

func (s *JSONLSink) Name() string  { return "jsonl" }
func (s *JSONLSink) Durable() bool { return true }

func (s *JSONLSink) Publish(_ context.Context, rec Record) error {
	return s.log.Append("alert", map[string]any{
		"token":                rec.Token,
		"symbol":               rec.Symbol,
		"final_score":          rec.FinalScore,
		"conviction_type":      rec.Conviction,
		"price":                rec.Price,
		"market_cap":           rec.MarketCap,
		"liquidity":            rec.Liquidity,
		"volume_24h":           rec.Volume24h,
		"change_1h":            rec.Change1h,
		"smart_money_detected": rec.SmartMoney,
		"reasons":              rec.Reasons,
	})
}

// ---------------------------------------------------------------------------
// Redis list sink — push to the shared alert queue
// ---------------------------------------------------------------------------

// RedisListSink pushes the alert JSON onto a redis list for downstream
// consumers (dashboard, external bots).
type RedisListSink struct {
	client *redis.Client
	list   string
}

func NewRedisListSink(client *redis.Client, list string) *RedisListSink {
	return &RedisListSink{client: client, list: list}
}

func (s *RedisListSink) Name() string  { return "redis" }
func (s *RedisListSink) Durable() bool { return false }

func (s *RedisListSink) Publish(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.client.LPush(ctx, s.list, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", s.list, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Telegram sink — HTML chat message
// ---------------------------------------------------------------------------

// TelegramSink posts a formatted alert to a chat.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramSink(botToken string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (s *TelegramSink) Name() string  { return "telegram" }
func (s *TelegramSink) Durable() bool { return false }

func (s *TelegramSink) Publish(_ context.Context, rec Record) error {
	msg := tgbotapi.NewMessage(s.chatID, FormatHTML(rec))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// FormatHTML renders the alert as a Telegram HTML message.
func FormatHTML(rec Record) string {
	emoji := "\U0001F4C8" // chart up
	if rec.SmartMoney {
		emoji = "\U0001F9E0" // brain
	}
	name := rec.Symbol
	if name == "" {
		name = shortMint(rec.Token)
	}

	body := fmt.Sprintf(
		"%s <b>%s</b> [%s]\n"+
			"Score: <b>%.1f</b>/10\n"+
			"Price: $%.10g\n"+
			"MCap: $%.0f | Liq: $%.0f\n"+
			"Vol24h: $%.0f | 1h: %+.1f%%\n"+
			"<code>%s</code>",
		emoji, name, rec.Conviction,
		rec.FinalScore, rec.Price,
		rec.MarketCap, rec.Liquidity,
		rec.Volume24h, rec.Change1h,
		rec.Token,
	)
	return body
}

func shortMint(mint string) string {
	if len(mint) <= 12 {
		return mint
	}
	return mint[:6] + ".." + mint[len(mint)-4:]
}
