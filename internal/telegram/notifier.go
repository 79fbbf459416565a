// Package telegram pushes unread-message notices to users who linked a
// Telegram chat to their profile.
package telegram

import (
	"context"
	"fmt"
	"portalchat/backend/internal/chathub"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender delivers one Telegram request. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// FeedSource serves unread feeds.
type FeedSource interface {
	Unread(ctx context.Context, userID string) ([]chathub.UnreadEntry, error)
	Subscribe(ctx context.Context, userID string, opts chathub.FeedOptions) (*chathub.Subscription[[]chathub.UnreadEntry], error)
}

// ProfileSource lists the profiles linked to a Telegram chat and signals
// profile saves on models.ProfilesTopic.
type ProfileSource interface {
	ListNotifiableProfiles(ctx context.Context) ([]models.Profile, error)
	Watch(ctx context.Context, topic string) (*storage.Watch, error)
}

// NewBotAPI connects to the Bot API with token.
func NewBotAPI(token string, log zerolog.Logger) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = false
	log.Info().Str("bot", bot.Self.UserName).Msg("authorized on telegram")
	return bot, nil
}

// Notifier sends a Telegram message whenever a room's unread count grows.
type Notifier struct {
	sender   Sender
	feeds    FeedSource
	profiles ProfileSource
	log      zerolog.Logger

	mu      sync.Mutex
	running map[string]feedWatch // by user id

	wg sync.WaitGroup
}

type feedWatch struct {
	chatID int64
	cancel context.CancelFunc
}

func NewNotifier(sender Sender, feeds FeedSource, profiles ProfileSource, log zerolog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		feeds:    feeds,
		profiles: profiles,
		log:      logging.Component(log, "telegram"),
		running:  make(map[string]feedWatch),
	}
}

// Start subscribes to the feed of every linked profile and keeps the set
// in step with profile saves. Counts present when a feed starts are the
// baseline and do not trigger notices. Feeds run until ctx ends.
func (n *Notifier) Start(ctx context.Context) error {
	w, err := n.profiles.Watch(ctx, models.ProfilesTopic)
	if err != nil {
		return fmt.Errorf("watch profiles: %w", err)
	}
	if err := n.sync(ctx); err != nil {
		w.Close()
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.C:
				if err := n.sync(ctx); err != nil {
					n.log.Warn().Err(err).Msg("resync linked profiles")
				}
			}
		}
	}()

	n.mu.Lock()
	count := len(n.running)
	n.mu.Unlock()
	n.log.Info().Int("profiles", count).Msg("telegram notifier started")
	return nil
}

// Linked returns the number of profiles with a running feed.
func (n *Notifier) Linked() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.running)
}

// sync starts feeds for newly linked profiles, restarts those whose chat
// changed and stops those that were unlinked.
func (n *Notifier) sync(ctx context.Context) error {
	profiles, err := n.profiles.ListNotifiableProfiles(ctx)
	if err != nil {
		return fmt.Errorf("list notifiable profiles: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	linked := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		linked[p.UserID] = struct{}{}
		if cur, ok := n.running[p.UserID]; ok {
			if cur.chatID == p.TelegramChatID {
				continue
			}
			cur.cancel()
			delete(n.running, p.UserID)
		}
		n.startFeed(ctx, p)
	}
	for userID, cur := range n.running {
		if _, ok := linked[userID]; !ok {
			cur.cancel()
			delete(n.running, userID)
		}
	}
	return nil
}

// startFeed runs the feed of p. Callers hold n.mu.
func (n *Notifier) startFeed(ctx context.Context, p models.Profile) {
	log := n.log.With().Str("user_id", p.UserID).Int64("chat_id", p.TelegramChatID).Logger()

	baseline, err := n.feeds.Unread(ctx, p.UserID)
	if err != nil {
		log.Error().Err(err).Msg("read unread baseline")
		return
	}
	feedCtx, cancel := context.WithCancel(ctx)
	sub, err := n.feeds.Subscribe(feedCtx, p.UserID, chathub.FeedOptions{})
	if err != nil {
		cancel()
		log.Error().Err(err).Msg("subscribe to unread feed")
		return
	}

	n.running[p.UserID] = feedWatch{chatID: p.TelegramChatID, cancel: cancel}
	n.wg.Add(1)
	go n.watch(p, counts(baseline), sub, log)
	log.Debug().Msg("unread feed started")
}

// Wait blocks until every feed has ended.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) watch(p models.Profile, last map[string]int, sub *chathub.Subscription[[]chathub.UnreadEntry], log zerolog.Logger) {
	defer n.wg.Done()
	defer sub.Close()

	for entries := range sub.Updates() {
		for _, e := range entries {
			if e.Unread <= last[e.RoomID] {
				continue
			}
			msg := tgbotapi.NewMessage(p.TelegramChatID, Notice(e))
			if _, err := n.sender.Send(msg); err != nil {
				log.Warn().Err(err).Str("room_id", e.RoomID).Msg("send telegram notice")
			}
		}
		last = counts(entries)
	}
}

func counts(entries []chathub.UnreadEntry) map[string]int {
	m := make(map[string]int, len(entries))
	for _, e := range entries {
		m[e.RoomID] = e.Unread
	}
	return m
}

// Notice renders the Telegram text for one unread entry.
func Notice(e chathub.UnreadEntry) string {
	if e.Unread == 1 {
		return fmt.Sprintf("%s: %s", e.Peer.DisplayName(), e.LastMessage)
	}
	return fmt.Sprintf("%s: %s (%d unread)", e.Peer.DisplayName(), e.LastMessage, e.Unread)
}
