package domain

import (
	"fmt"
	"strings"
)

// NotInGroup is the role string recorded for groups the account is not a
// member of.
const NotInGroup = "Not in group"

// GroupRef identifies a Roblox group together with its display name.
type GroupRef struct {
	ID   int64  `yaml:"id"   json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Label returns the display name, falling back to the numeric id.
func (g GroupRef) Label() string {
	if strings.TrimSpace(g.Name) != "" {
		return g.Name
	}
	return fmt.Sprintf("%d", g.ID)
}

// Role is a role defined in a Roblox group.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// GroupRank is one entry of a GroupRankSnapshot.
type GroupRank struct {
	Group GroupRef
	Role  string
	// Degraded marks an entry whose lookup failed; Role then carries the
	// "Unknown (error: ...)" text.
	Degraded bool
}

// Member reports whether the entry holds a usable role.
func (r GroupRank) Member() bool { return !r.Degraded && r.Role != NotInGroup }

// UnknownRole formats the role string of a degraded entry.
func UnknownRole(err error) string {
	return fmt.Sprintf("Unknown (error: %v)", err)
}

// GroupRankSnapshot is an immutable, ordered capture of an account's roles
// across groups. The order is the menu order; menu numbers are 1-based.
type GroupRankSnapshot struct {
	entries []GroupRank
}

// NewGroupRankSnapshot copies entries into a snapshot.
func NewGroupRankSnapshot(entries []GroupRank) GroupRankSnapshot {
	cp := make([]GroupRank, len(entries))
	copy(cp, entries)
	return GroupRankSnapshot{entries: cp}
}

// Len returns the number of entries.
func (s GroupRankSnapshot) Len() int { return len(s.entries) }

// Choice returns the entry for a 1-based menu number.
func (s GroupRankSnapshot) Choice(n int) (GroupRank, bool) {
	if n < 1 || n > len(s.entries) {
		return GroupRank{}, false
	}
	return s.entries[n-1], true
}

// Entries returns a copy of the entries in menu order.
func (s GroupRankSnapshot) Entries() []GroupRank {
	cp := make([]GroupRank, len(s.entries))
	copy(cp, s.entries)
	return cp
}

// MenuLines renders the numbered menu, one "N:Group-Role" line per entry.
func (s GroupRankSnapshot) MenuLines() []string {
	out := make([]string, 0, len(s.entries))
	for i, e := range s.entries {
		out = append(out, fmt.Sprintf("%d:%s-%s", i+1, e.Group.Label(), e.Role))
	}
	return out
}

// OutcomeKind classifies the result of a transfer attempt.
type OutcomeKind string

const (
	OutcomeSuccess              OutcomeKind = "success"
	OutcomeNotAMember           OutcomeKind = "not_a_member"
	OutcomeRoleNotFoundInTarget OutcomeKind = "role_not_found_in_target"
	OutcomeExternalServiceError OutcomeKind = "external_service_error"
)

// TransferOutcome is the structured result of one transfer attempt.
type TransferOutcome struct {
	Kind     OutcomeKind
	RoleName string
	Detail   string
}

func TransferSucceeded(role string) TransferOutcome {
	return TransferOutcome{Kind: OutcomeSuccess, RoleName: role}
}

func TransferNotAMember(group string) TransferOutcome {
	return TransferOutcome{Kind: OutcomeNotAMember, Detail: group}
}

func TransferRoleNotFound(role string) TransferOutcome {
	return TransferOutcome{Kind: OutcomeRoleNotFoundInTarget, RoleName: role}
}

func TransferExternalError(detail string) TransferOutcome {
	return TransferOutcome{Kind: OutcomeExternalServiceError, Detail: detail}
}

// Succeeded reports whether the role was assigned.
func (o TransferOutcome) Succeeded() bool { return o.Kind == OutcomeSuccess }
