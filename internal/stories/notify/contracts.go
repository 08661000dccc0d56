package notify

import (
	"context"

	"orderdesk-bot/internal/platform"
)

type (
	Platform interface {
		SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (*platform.Message, error)
		SendDirect(ctx context.Context, userID string, msg platform.OutgoingMessage) error
		RoleMembers(ctx context.Context, guildID, roleID string) ([]platform.Member, error)
		BotUserID() string
	}

	// Mirror relays staff alerts to a secondary channel such as Telegram.
	Mirror interface {
		Broadcast(ctx context.Context, text string) error
	}
)
