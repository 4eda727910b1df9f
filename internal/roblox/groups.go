package roblox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

type membershipsResponse struct {
	Data []struct {
		Group struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"group"`
		Role struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
			Rank int    `json:"rank"`
		} `json:"role"`
	} `json:"data"`
}

type rolesResponse struct {
	GroupID int64         `json:"groupId"`
	Roles   []domain.Role `json:"roles"`
}

type assignRequest struct {
	RoleID int64 `json:"roleId"`
}

// Memberships returns the account's role name in every group it belongs to,
// keyed by group id. Concurrent calls for the same account share one request.
func (c *Client) Memberships(ctx context.Context, accountID int64) (map[int64]string, error) {
	key := strconv.FormatInt(accountID, 10)
	v, err, _ := c.memberships.Do(key, func() (any, error) {
		var out membershipsResponse
		err := c.call(ctx, "memberships", http.MethodGet,
			fmt.Sprintf("%s/v1/users/%d/groups/roles", c.groupsURL, accountID), nil, &out)
		if err != nil {
			return nil, err
		}
		m := make(map[int64]string, len(out.Data))
		for _, d := range out.Data {
			m[d.Group.ID] = d.Role.Name
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]string), nil
}

// GroupRole reports the account's role name in groupID; member is false when
// the account is not in the group.
func (c *Client) GroupRole(ctx context.Context, accountID, groupID int64) (string, bool, error) {
	m, err := c.Memberships(ctx, accountID)
	if err != nil {
		return "", false, err
	}
	role, ok := m[groupID]
	return role, ok, nil
}

// GroupRoleSet lists the roles defined in groupID. Results are cached for the
// configured TTL.
func (c *Client) GroupRoleSet(ctx context.Context, groupID int64) ([]domain.Role, error) {
	key := "roles:" + strconv.FormatInt(groupID, 10)
	if b, err := c.roles.Get(key); err == nil {
		var cached []domain.Role
		if err := json.Unmarshal(b, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		log.Warn().Err(err).Int64("group_id", groupID).Msg("role cache read failed")
	}

	var out rolesResponse
	err := c.call(ctx, "group_roles", http.MethodGet,
		fmt.Sprintf("%s/v1/groups/%d/roles", c.groupsURL, groupID), nil, &out)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(out.Roles); err == nil {
		if err := c.roles.Set(key, b); err != nil {
			log.Warn().Err(err).Int64("group_id", groupID).Msg("role cache write failed")
		}
	}
	return out.Roles, nil
}

// AssignRole sets the account's role in groupID. It needs the ranking
// account's cookie.
func (c *Client) AssignRole(ctx context.Context, groupID, accountID, roleID int64) error {
	if c.cookie == "" {
		return ErrNoCredentials
	}
	return c.call(ctx, "assign_role", http.MethodPatch,
		fmt.Sprintf("%s/v1/groups/%d/users/%d", c.groupsURL, groupID, accountID),
		assignRequest{RoleID: roleID}, nil)
}
