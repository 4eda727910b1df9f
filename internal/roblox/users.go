package roblox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type usernamesRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usernamesResponse struct {
	Data []struct {
		ID                int64  `json:"id"`
		Name              string `json:"name"`
		RequestedUsername string `json:"requestedUsername"`
	} `json:"data"`
}

type userResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ResolveUsername returns the account id for username, or ErrUserNotFound.
func (c *Client) ResolveUsername(ctx context.Context, username string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, ErrUserNotFound
	}
	var out usernamesResponse
	err := c.call(ctx, "resolve_username", http.MethodPost,
		c.usersURL+"/v1/usernames/users",
		usernamesRequest{Usernames: []string{username}, ExcludeBannedUsers: true},
		&out)
	if err != nil {
		return 0, err
	}
	if len(out.Data) == 0 || out.Data[0].ID == 0 {
		return 0, ErrUserNotFound
	}
	return out.Data[0].ID, nil
}

// ProfileDescription returns the free-text "About" field of an account.
func (c *Client) ProfileDescription(ctx context.Context, accountID int64) (string, error) {
	var out userResponse
	err := c.call(ctx, "profile", http.MethodGet,
		fmt.Sprintf("%s/v1/users/%d", c.usersURL, accountID), nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return out.Description, nil
}
