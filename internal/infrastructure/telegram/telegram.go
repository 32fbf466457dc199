package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/orderflow-agent/internal/domain"
	"go.uber.org/zap"
)

const apiBase = "https://api.telegram.org"

// Client is both the outbound notifier and the inbound command source.
// Only messages from the configured chat ID are treated as commands;
// everything else still advances the update offset so it is never
// re-fetched.
type Client struct {
	base   string
	token  string
	chatID int64
	http   *http.Client
	logger *zap.Logger
}

func NewClient(token string, chatID int64, logger *zap.Logger) *Client {
	return &Client{
		base:   apiBase,
		token:  token,
		chatID: chatID,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify sends a message to the configured chat. Delivery failures are
// logged and swallowed: a dead notification channel must never stall the
// trading loop.
func (c *Client) Notify(msg string) {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.base, c.token)
	form := url.Values{
		"chat_id": {strconv.FormatInt(c.chatID, 10)},
		"text":    {msg},
	}
	resp, err := c.http.PostForm(endpoint, form)
	if err != nil {
		c.logger.Warn("telegram send failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("telegram send rejected", zap.Int("status", resp.StatusCode))
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Date int64  `json:"date"`
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// Poll fetches updates after the given offset. It returns the commands
// from the authorized chat and the highest update ID seen, regardless of
// sender, so unauthorized or non-text updates are consumed exactly once.
func (c *Client) Poll(ctx context.Context, offset int64) ([]domain.Command, int64, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d", c.base, c.token, offset+1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, offset, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, offset, fmt.Errorf("get updates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, offset, fmt.Errorf("get updates: status %d", resp.StatusCode)
	}

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, offset, fmt.Errorf("get updates: %w", err)
	}
	if !parsed.OK {
		return nil, offset, fmt.Errorf("get updates: api returned ok=false")
	}

	next := offset
	var commands []domain.Command
	for _, u := range parsed.Result {
		if u.UpdateID > next {
			next = u.UpdateID
		}
		if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
			continue
		}
		if u.Message.Chat.ID != c.chatID {
			c.logger.Warn("ignoring command from unauthorized chat",
				zap.Int64("chat_id", u.Message.Chat.ID))
			continue
		}
		commands = append(commands, domain.Command{
			UpdateID: u.UpdateID,
			ChatID:   u.Message.Chat.ID,
			Text:     u.Message.Text,
			At:       time.Unix(u.Message.Date, 0),
		})
	}
	return commands, next, nil
}

// LogNotifier is the fallback when no bot credentials are configured:
// notifications go to the structured log only.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(msg string) {
	n.logger.Info("notification", zap.String("msg", msg))
}
