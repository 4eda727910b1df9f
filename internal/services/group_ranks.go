package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// MembershipLookup reports an account's role in one group. member is false
// when the account is not in the group.
type MembershipLookup interface {
	GroupRole(ctx context.Context, accountID, groupID int64) (role string, member bool, err error)
}

// GroupRankAggregator captures an account's roles across an ordered list of
// groups as one snapshot.
type GroupRankAggregator struct {
	Lookup MembershipLookup
	// Concurrency bounds simultaneous lookups; <= 0 means one at a time.
	Concurrency int
}

// NewGroupRankAggregator returns an aggregator with a small fan-out.
func NewGroupRankAggregator(l MembershipLookup) *GroupRankAggregator {
	return &GroupRankAggregator{Lookup: l, Concurrency: 4}
}

// Snapshot queries every group and returns the roles in the order given.
// A failed lookup degrades only its own entry to an "Unknown (error: ...)"
// role; the snapshot itself never fails.
func (a *GroupRankAggregator) Snapshot(ctx context.Context, accountID int64, groups []domain.GroupRef) domain.GroupRankSnapshot {
	ctx, span := otel.Tracer("services/GroupRankAggregator").Start(ctx, "Snapshot",
		trace.WithAttributes(
			attribute.Int64("roblox.account_id", accountID),
			attribute.Int("groups", len(groups)),
		),
	)
	defer span.End()

	entries := make([]domain.GroupRank, len(groups))

	limit := a.Concurrency
	if limit <= 0 {
		limit = 1
	}
	// Errors are folded into entries, so the group never cancels its context.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, grp := range groups {
		g.Go(func() error {
			entries[i] = a.lookup(ctx, accountID, grp)
			return nil
		})
	}
	_ = g.Wait()

	return domain.NewGroupRankSnapshot(entries)
}

func (a *GroupRankAggregator) lookup(ctx context.Context, accountID int64, grp domain.GroupRef) domain.GroupRank {
	role, member, err := a.Lookup.GroupRole(ctx, accountID, grp.ID)
	switch {
	case err != nil:
		log.Warn().Err(err).
			Int64("account_id", accountID).
			Int64("group_id", grp.ID).
			Msg("group role lookup failed")
		return domain.GroupRank{Group: grp, Role: domain.UnknownRole(err), Degraded: true}
	case !member:
		return domain.GroupRank{Group: grp, Role: domain.NotInGroup}
	default:
		return domain.GroupRank{Group: grp, Role: role}
	}
}
