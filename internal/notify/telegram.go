package notify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"perpguard/pkg/exception"
)

const (
	_baseURL            = "https://api.telegram.org"
	_defaultMaxFailures = 3
)

// Option configures the Telegram notifier. An empty Token or ChatID leaves
// the notifier unconfigured: every Send is skipped.
type Option struct {
	Token       string
	ChatID      string
	MaxFailures int
	BaseURL     string
	Timeout     time.Duration
}

// Telegram sends operator messages through the Bot API and tracks the
// number of consecutive failed sends.
type Telegram struct {
	opt    Option
	client *http.Client

	mu     sync.Mutex
	streak int
}

type sendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegram(opt Option, client *http.Client) *Telegram {
	if opt.BaseURL == "" {
		opt.BaseURL = _baseURL
	}
	if opt.MaxFailures <= 0 {
		opt.MaxFailures = _defaultMaxFailures
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Telegram{opt: opt, client: client}
}

func (t *Telegram) Configured() bool {
	return t != nil && t.opt.Token != "" && t.opt.ChatID != ""
}

// Send posts text to the configured chat. A failed send grows the failure
// streak; a successful one resets it.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Configured() {
		logs.Warnf("evt=notify_skip reason=not_configured")
		return exception.ErrNotifyNotConfigured
	}

	if err := t.post(ctx, text); err != nil {
		t.mu.Lock()
		t.streak++
		streak := t.streak
		t.mu.Unlock()
		logs.Errorf("evt=notify_error streak=%d max_failures=%d err: %+v", streak, t.opt.MaxFailures, err)
		return err
	}

	t.mu.Lock()
	t.streak = 0
	t.mu.Unlock()
	return nil
}

func (t *Telegram) post(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, t.opt.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("chat_id", t.opt.ChatID)
	form.Set("text", text)

	endpoint := strings.TrimRight(t.opt.BaseURL, "/") + "/bot" + t.opt.Token + "/sendMessage"
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(r)
	if err != nil {
		// the url carries the bot token
		return errors.Wrap(exception.ErrNotifyRequest, "send message")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body")
	}

	var res sendResponse
	if err := sonic.ConfigFastest.Unmarshal(payload, &res); err != nil {
		return errors.Wrap(exception.ErrNotifyRequest, "decode response").With("status", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 || !res.OK {
		return errors.Wrap(exception.ErrNotifyRequest, "telegram rejected message").
			With("status", resp.StatusCode).With("description", res.Description)
	}
	return nil
}

// FailureStreak is the number of consecutive failed sends.
func (t *Telegram) FailureStreak() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streak
}

// MaxFailures is the streak at which the notifier counts as down.
func (t *Telegram) MaxFailures() int {
	if t == nil {
		return 0
	}
	return t.opt.MaxFailures
}

// Down reports whether the failure streak reached MaxFailures.
func (t *Telegram) Down() bool {
	return t.FailureStreak() >= t.MaxFailures() && t.MaxFailures() > 0
}
