// Package discord implements the messaging platform on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"orderdesk-bot/internal/platform"
	"orderdesk-bot/internal/retry"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

const (
	messagesPageLimit = 100
	membersPageLimit  = 1000
	archivedPageLimit = 100
)

var validAutoArchive = []int{60, 1440, 4320, 10080}

type Config struct {
	Token string
	// AutoArchiveMinutes is the inactivity window of new threads.
	AutoArchiveMinutes int
	Retry              retry.Config
}

type Client struct {
	session     *discordgo.Session
	logger      *slog.Logger
	retry       retry.Config
	autoArchive int
	botID       string
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages
	session.ShouldRetryOnRateLimit = true

	autoArchive := cfg.AutoArchiveMinutes
	if !lo.Contains(validAutoArchive, autoArchive) {
		autoArchive = 10080
	}

	return &Client{
		session:     session,
		logger:      logger,
		retry:       cfg.Retry,
		autoArchive: autoArchive,
	}, nil
}

// Session exposes the gateway session for event handlers.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// Open connects to the gateway and resolves the bot identity.
func (c *Client) Open(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	me, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("resolve bot user: %w", err)
	}
	c.botID = me.ID

	c.logger.Info("Discord session opened", "bot_id", me.ID, "bot_name", me.Username)
	return nil
}

func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) BotUserID() string {
	return c.botID
}

// Ready is used by the readiness check.
func (c *Client) Ready(context.Context) error {
	if c.session.DataReady {
		return nil
	}
	return errors.New("discord gateway not ready")
}

func (c *Client) FindChannel(ctx context.Context, guildID, channelID, name string) (*platform.Channel, error) {
	if channelID != "" {
		ch, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
			return c.session.Channel(channelID, opts...)
		})
		switch {
		case err == nil && ch.GuildID == guildID:
			return toChannel(ch), nil
		case err != nil && !errors.Is(err, platform.ErrNotFound):
			return nil, err
		}
	}

	if name == "" {
		return nil, platform.ErrNotFound
	}

	channels, err := call(ctx, c, func(opts ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
		return c.session.GuildChannels(guildID, opts...)
	})
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, name) {
			return toChannel(ch), nil
		}
	}
	return nil, platform.ErrNotFound
}

// CreateStaffChannel creates a text channel visible only to staff and the bot.
func (c *Client) CreateStaffChannel(ctx context.Context, guildID, name, staffRoleID string) (*platform.Channel, error) {
	allow := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory)

	data := discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildText,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			// @everyone shares the guild id
			{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
			{ID: staffRoleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: allow},
			{ID: c.botID, Type: discordgo.PermissionOverwriteTypeMember, Allow: allow},
		},
	}

	ch, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
		return c.session.GuildChannelCreateComplex(guildID, data, opts...)
	})
	if err != nil {
		return nil, err
	}
	return toChannel(ch), nil
}

// ListThreads returns active, public archived and private archived threads under parentID.
func (c *Client) ListThreads(ctx context.Context, guildID, parentID string) ([]platform.Thread, error) {
	seen := make(map[string]struct{})
	var out []platform.Thread
	add := func(chs []*discordgo.Channel) {
		for _, ch := range chs {
			if ch.ParentID != parentID {
				continue
			}
			if _, dup := seen[ch.ID]; dup {
				continue
			}
			seen[ch.ID] = struct{}{}
			out = append(out, toThread(ch))
		}
	}

	active, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.ThreadsList, error) {
		return c.session.GuildThreadsActive(guildID, opts...)
	})
	if err != nil {
		return nil, fmt.Errorf("active threads: %w", err)
	}
	add(active.Threads)

	for _, private := range []bool{false, true} {
		archived, err := c.archivedThreads(ctx, parentID, private)
		if err != nil {
			return nil, err
		}
		add(archived)
	}

	return out, nil
}

func (c *Client) archivedThreads(ctx context.Context, parentID string, private bool) ([]*discordgo.Channel, error) {
	var (
		out    []*discordgo.Channel
		before *time.Time
	)
	for {
		page, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.ThreadsList, error) {
			if private {
				return c.session.ThreadsPrivateArchived(parentID, before, archivedPageLimit, opts...)
			}
			return c.session.ThreadsArchived(parentID, before, archivedPageLimit, opts...)
		})
		if err != nil {
			return nil, fmt.Errorf("archived threads (private=%t): %w", private, err)
		}
		out = append(out, page.Threads...)

		if !page.HasMore || len(page.Threads) == 0 {
			return out, nil
		}
		last := page.Threads[len(page.Threads)-1]
		if last.ThreadMetadata == nil {
			return out, nil
		}
		ts := last.ThreadMetadata.ArchiveTimestamp
		before = &ts
	}
}

func (c *Client) GetThread(ctx context.Context, threadID string) (*platform.Thread, error) {
	ch, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
		return c.session.Channel(threadID, opts...)
	})
	if err != nil {
		return nil, err
	}
	t := toThread(ch)
	return &t, nil
}

func (c *Client) CreatePrivateThread(ctx context.Context, parentID, name string) (*platform.Thread, error) {
	ch, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
		return c.session.ThreadStartComplex(parentID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: c.autoArchive,
			Type:                discordgo.ChannelTypeGuildPrivateThread,
			Invitable:           false,
		}, opts...)
	})
	if err != nil {
		return nil, err
	}
	t := toThread(ch)
	return &t, nil
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	_, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
		return c.session.ChannelDelete(threadID, opts...)
	})
	return err
}

func (c *Client) ArchiveThread(ctx context.Context, threadID string, lock bool) error {
	archived := true
	_, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
		return c.session.ChannelEdit(threadID, &discordgo.ChannelEdit{
			Archived: &archived,
			Locked:   &lock,
		}, opts...)
	})
	return err
}

func (c *Client) AddThreadMember(ctx context.Context, threadID, userID string) error {
	return exec(ctx, c, func(opts ...discordgo.RequestOption) error {
		return c.session.ThreadMemberAdd(threadID, userID, opts...)
	})
}

// ThreadMembers returns user ids in join order.
func (c *Client) ThreadMembers(ctx context.Context, threadID string) ([]string, error) {
	members, err := call(ctx, c, func(opts ...discordgo.RequestOption) ([]*discordgo.ThreadMember, error) {
		return c.session.ThreadMembers(threadID, 100, false, "", opts...)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(members, func(m *discordgo.ThreadMember, _ int) string { return m.UserID }), nil
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (*platform.Message, error) {
	sent, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Message, error) {
		return c.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), opts...)
	})
	if err != nil {
		return nil, err
	}
	m := toMessage(sent)
	return &m, nil
}

// Messages returns up to limit of the most recent messages, newest first.
func (c *Client) Messages(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	if limit <= 0 || limit > messagesPageLimit {
		limit = messagesPageLimit
	}
	msgs, err := call(ctx, c, func(opts ...discordgo.RequestOption) ([]*discordgo.Message, error) {
		return c.session.ChannelMessages(channelID, limit, "", "", "", opts...)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(msgs, func(m *discordgo.Message, _ int) platform.Message { return toMessage(m) }), nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return exec(ctx, c, func(opts ...discordgo.RequestOption) error {
		return c.session.ChannelMessageDelete(channelID, messageID, opts...)
	})
}

func (c *Client) SendDirect(ctx context.Context, userID string, msg platform.OutgoingMessage) error {
	dm, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
		return c.session.UserChannelCreate(userID, opts...)
	})
	if err != nil {
		return fmt.Errorf("open DM channel: %w", err)
	}
	_, err = c.SendMessage(ctx, dm.ID, msg)
	return err
}

func (c *Client) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	m, err := call(ctx, c, func(opts ...discordgo.RequestOption) (*discordgo.Member, error) {
		return c.session.GuildMember(guildID, userID, opts...)
	})
	if err != nil {
		return nil, err
	}
	out := toMember(m)
	return &out, nil
}

// RoleMembers pages through the guild member list; needs the GUILD_MEMBERS intent.
func (c *Client) RoleMembers(ctx context.Context, guildID, roleID string) ([]platform.Member, error) {
	var (
		out   []platform.Member
		after string
	)
	for {
		page, err := call(ctx, c, func(opts ...discordgo.RequestOption) ([]*discordgo.Member, error) {
			return c.session.GuildMembers(guildID, after, membersPageLimit, opts...)
		})
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if lo.Contains(m.Roles, roleID) {
				out = append(out, toMember(m))
			}
		}
		if len(page) < membersPageLimit {
			return out, nil
		}
		if last := page[len(page)-1]; last.User != nil {
			after = last.User.ID
		} else {
			return out, nil
		}
	}
}

func call[T any](ctx context.Context, c *Client, op func(opts ...discordgo.RequestOption) (T, error)) (T, error) {
	return retry.Do(ctx, c.retry, retryable, func() (T, error) {
		v, err := op(discordgo.WithContext(ctx))
		return v, mapError(err)
	})
}

func exec(ctx context.Context, c *Client, op func(opts ...discordgo.RequestOption) error) error {
	_, err := call(ctx, c, func(opts ...discordgo.RequestOption) (struct{}, error) {
		return struct{}{}, op(opts...)
	})
	return err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, platform.ErrNotFound) {
		return false
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		return rest.Response != nil && retry.TransientStatus(rest.Response.StatusCode)
	}
	return true
}
