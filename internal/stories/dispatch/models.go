package dispatch

import (
	"errors"
	"slices"
	"time"

	"orderdesk-bot/internal/platform"
)

var ErrForbidden = errors.New("forbidden")

// Result is what the order webhook reports back.
type Result struct {
	// ThreadID is empty when the thread was queued or another request holds the order.
	ThreadID string
	Pending  bool
}

type Config struct {
	GuildID      string
	StaffRoleID  string
	StaffUserIDs []string
	// SweepBatch is the page size of one sweep query; a sweep walks every page.
	SweepBatch uint64
	// MaxAttempts failed creations expire a queued order; 0 means no cap.
	MaxAttempts int
	// MaxAge expires queued orders older than this; 0 means no limit.
	MaxAge time.Duration
}

// StaffChecker проверяет является ли участник сотрудником
type StaffChecker struct {
	roleID  string
	userIDs []string
}

func NewStaffChecker(roleID string, userIDs []string) *StaffChecker {
	return &StaffChecker{roleID: roleID, userIDs: userIDs}
}

// IsStaff is true for holders of the staff role and for explicitly listed users.
func (c *StaffChecker) IsStaff(m platform.Member) bool {
	if m.UserID == "" {
		return false
	}
	if c.roleID != "" && m.HasRole(c.roleID) {
		return true
	}
	return slices.Contains(c.userIDs, m.UserID)
}

func (c *StaffChecker) Authorize(m platform.Member) error {
	if !c.IsStaff(m) {
		return ErrForbidden
	}
	return nil
}

func invokerMember(inv Invocation) platform.Member {
	return platform.Member{UserID: inv.Invoker, Roles: inv.Roles}
}
