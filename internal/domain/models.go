// Package domain defines the models shared by the ticket workflow: the
// persisted Ticket row, the conversation stages, pending verification
// challenges, group rank snapshots and transfer outcomes.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Stage is the position of a ticket's conversation in the workflow.
type Stage string

const (
	StageAwaitUsername            Stage = "await_username"
	StageAwaitVerificationConfirm Stage = "await_verification_confirm"
	StageAwaitGroupSelection      Stage = "await_group_selection"
	StageTransferring             Stage = "transferring"
	StageCompleted                Stage = "completed"
	StageFailed                   Stage = "failed"
	StageAbandoned                Stage = "abandoned"
)

// Terminal reports whether no further transition can leave s.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageAbandoned:
		return true
	}
	return false
}

// Awaiting reports whether s suspends for requester input.
func (s Stage) Awaiting() bool {
	switch s {
	case StageAwaitUsername, StageAwaitVerificationConfirm, StageAwaitGroupSelection:
		return true
	}
	return false
}

// Ticket is the persisted record of one rank-transfer request. The row is
// created when the private channel is opened and updated on every stage
// transition; the final outcome is written once the conversation ends.
//
// Fields:
//   - ID: UUID primary key (char(36)), also the conversation session id.
//   - RequesterID: Discord user id of the member who opened the ticket.
//   - GuildID / ChannelID: where the scoped conversation lives.
//   - Username / AccountID: the Roblox identity, once resolved.
//   - SourceGroupID / SourceRole: the selected source entry of the snapshot.
//   - Outcome / Detail: transfer outcome kind and diagnostic detail.
//   - ClosedAt: set when the conversation reached a terminal stage.
type Ticket struct {
	ID            string         `json:"id"              gorm:"type:char(36);primaryKey"`
	RequesterID   string         `json:"requester_id"    gorm:"type:varchar(32);not null;index:idx_requester_tickets"`
	GuildID       string         `json:"guild_id"        gorm:"type:varchar(32)"`
	ChannelID     string         `json:"channel_id"      gorm:"type:varchar(32);index"`
	Stage         Stage          `json:"stage"           gorm:"type:varchar(32);not null"`
	Username      string         `json:"username,omitempty"        gorm:"type:varchar(64)"`
	AccountID     int64          `json:"account_id,omitempty"`
	SourceGroupID int64          `json:"source_group_id,omitempty"`
	SourceRole    string         `json:"source_role,omitempty"     gorm:"type:varchar(128)"`
	Outcome       OutcomeKind    `json:"outcome,omitempty"         gorm:"type:varchar(32)"`
	Detail        string         `json:"detail,omitempty"          gorm:"type:text"`
	CreatedAt     time.Time      `json:"created_at"      gorm:"index:idx_requester_tickets"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	DeletedAt     gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Ticket.
func (Ticket) TableName() string { return "tickets" }

// Open reports whether the ticket has not reached a terminal stage yet.
func (t Ticket) Open() bool { return !t.Stage.Terminal() }

// TicketProgress is the mutable part of a ticket as the conversation moves
// through its stages.
type TicketProgress struct {
	Stage         Stage
	Username      string
	AccountID     int64
	SourceGroupID int64
	SourceRole    string
}
