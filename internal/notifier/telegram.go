// Clipherd - Camera Event Correlation and Notification Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clipherd

package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/tomtom215/clipherd/internal/logging"
)

// TelegramOptions configures the Telegram notifier.
type TelegramOptions struct {
	BotToken string

	// ChannelID is a numeric chat id or an @channel username.
	ChannelID string

	// Timezone is an IANA zone name for caption timestamps; empty uses the
	// host zone.
	Timezone string

	// TimeFormat is "24h", "12h", or a Go reference layout.
	TimeFormat string

	// SendsPerMinute caps outbound messages. Telegram documents 20/min per
	// chat for bots; zero falls back to that.
	SendsPerMinute int
}

// Telegram sends clips to a channel via the Bot API. Clips go out as video
// messages with the notification sound disabled: a camera that sees a lot
// of traffic should not chime the channel all day.
type Telegram struct {
	bot      botSender
	chatID   int64
	username string
	loc      *time.Location
	layout   string
	limiter  *rate.Limiter
}

// botSender is the slice of tgbotapi.BotAPI the notifier uses.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewTelegram creates the notifier and verifies the bot token by
// connecting.
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(opts.BotToken)
	if err != nil {
		return nil, fmt.Errorf("notifier: telegram auth: %w", err)
	}
	logging.Info().Str("bot", bot.Self.UserName).Msg("telegram bot connected")
	return newTelegram(bot, opts)
}

func newTelegram(bot botSender, opts TelegramOptions) (*Telegram, error) {
	t := &Telegram{
		bot:    bot,
		layout: ParseTimeLayout(opts.TimeFormat),
	}

	if strings.HasPrefix(opts.ChannelID, "@") {
		t.username = opts.ChannelID
	} else {
		id, err := strconv.ParseInt(opts.ChannelID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("notifier: channel id %q is neither numeric nor @username", opts.ChannelID)
		}
		t.chatID = id
	}

	if opts.Timezone == "" {
		t.loc = time.Local
	} else {
		loc, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("notifier: timezone %q: %w", opts.Timezone, err)
		}
		t.loc = loc
	}

	perMinute := opts.SendsPerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)

	return t, nil
}

// Send uploads the clip with its rendered caption. Blocks on the rate
// limiter first, so a burst of ready events drains at the allowed pace
// instead of tripping Telegram's flood control.
func (t *Telegram) Send(ctx context.Context, n Notification) error {
	if len(n.Clip) == 0 {
		return fmt.Errorf("notifier: refusing to send empty clip for %q", n.DeviceName)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: rate limit wait: %w", err)
	}

	video := tgbotapi.NewVideo(t.chatID, tgbotapi.FileBytes{
		Name:  "clip.mp4",
		Bytes: n.Clip,
	})
	video.ChannelUsername = t.username
	video.Caption = RenderCaption(n, t.loc, t.layout)
	video.DisableNotification = true
	video.SupportsStreaming = true

	if _, err := t.bot.Send(video); err != nil {
		return fmt.Errorf("notifier: telegram send: %w", err)
	}
	logging.Debug().Str("device", n.DeviceName).Int("bytes", len(n.Clip)).Msg("clip sent")
	return nil
}
