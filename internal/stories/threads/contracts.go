package threads

import (
	"context"

	"orderdesk-bot/internal/platform"
)

type (
	// Platform is the messaging platform capability the controller drives.
	Platform interface {
		FindChannel(ctx context.Context, guildID, channelID, name string) (*platform.Channel, error)
		CreateStaffChannel(ctx context.Context, guildID, name, staffRoleID string) (*platform.Channel, error)
		ListThreads(ctx context.Context, guildID, parentID string) ([]platform.Thread, error)
		CreatePrivateThread(ctx context.Context, parentID, name string) (*platform.Thread, error)
		DeleteThread(ctx context.Context, threadID string) error
		ArchiveThread(ctx context.Context, threadID string, lock bool) error
		AddThreadMember(ctx context.Context, threadID, userID string) error
		ThreadMembers(ctx context.Context, threadID string) ([]string, error)
		SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (*platform.Message, error)
		Messages(ctx context.Context, channelID string, limit int) ([]platform.Message, error)
		SendDirect(ctx context.Context, userID string, msg platform.OutgoingMessage) error
		Member(ctx context.Context, guildID, userID string) (*platform.Member, error)
		RoleMembers(ctx context.Context, guildID, roleID string) ([]platform.Member, error)
		BotUserID() string
	}

	// KeepAlive keeps active threads from being auto-archived.
	KeepAlive interface {
		Schedule(thread platform.Thread, orderID string)
		Cancel(orderID string)
	}

	// Backend receives the thread link once a thread exists.
	Backend interface {
		LinkThread(ctx context.Context, orderID string, link ThreadLink) error
	}
)
