package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// RoleDirectory lists the roles defined in a group.
type RoleDirectory interface {
	GroupRoleSet(ctx context.Context, groupID int64) ([]domain.Role, error)
}

// RoleAssigner sets an account's role in a group.
type RoleAssigner interface {
	AssignRole(ctx context.Context, groupID, accountID, roleID int64) error
}

// RankTransferExecutor assigns an account the role in the target group that
// carries the same name as its role in the source group.
//
// The caller guarantees that sourceRole is a real membership role and that
// the source group is not the target group; neither is re-checked here.
type RankTransferExecutor struct {
	Roles    RoleDirectory
	Assigner RoleAssigner
}

// NewRankTransferExecutor wires an executor.
func NewRankTransferExecutor(roles RoleDirectory, assigner RoleAssigner) *RankTransferExecutor {
	return &RankTransferExecutor{Roles: roles, Assigner: assigner}
}

// Transfer resolves sourceRole by exact name in targetGroupID and assigns it.
// When several roles share the name the first one listed wins. Nothing is
// retried: any upstream failure becomes an external service error outcome.
func (x *RankTransferExecutor) Transfer(ctx context.Context, accountID int64, sourceRole string, targetGroupID int64) domain.TransferOutcome {
	ctx, span := otel.Tracer("services/RankTransferExecutor").Start(ctx, "Transfer",
		trace.WithAttributes(
			attribute.Int64("roblox.account_id", accountID),
			attribute.Int64("roblox.target_group_id", targetGroupID),
			attribute.String("role.name", sourceRole),
		),
	)
	defer span.End()

	roles, err := x.Roles.GroupRoleSet(ctx, targetGroupID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "role lookup failed")
		return domain.TransferExternalError(err.Error())
	}

	roleID, ok := findRole(roles, sourceRole)
	if !ok {
		log.Warn().
			Int64("target_group_id", targetGroupID).
			Str("role", sourceRole).
			Msg("role has no counterpart in target group")
		return domain.TransferRoleNotFound(sourceRole)
	}

	if err := x.Assigner.AssignRole(ctx, targetGroupID, accountID, roleID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "role assignment failed")
		return domain.TransferExternalError(err.Error())
	}

	log.Info().
		Int64("account_id", accountID).
		Int64("target_group_id", targetGroupID).
		Int64("role_id", roleID).
		Str("role", sourceRole).
		Msg("rank transferred")
	return domain.TransferSucceeded(sourceRole)
}

func findRole(roles []domain.Role, name string) (int64, bool) {
	for _, r := range roles {
		if r.Name == name {
			return r.ID, true
		}
	}
	return 0, false
}
