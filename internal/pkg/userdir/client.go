// Package userdir is the client of the user service.
package userdir

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/familring/album-service/internal/pkg/upstream"
)

// ErrUserNotFound is returned when the user service does not know the id.
var ErrUserNotFound = errors.New("user not found")

// User is the public profile returned by the user service.
type User struct {
	UserID        int64  `json:"userId"`
	Nickname      string `json:"userNickname"`
	ZodiacSign    string `json:"userZodiacSign,omitempty"`
	FaceSignature string `json:"userFace,omitempty"`
}

// Client fetches user profiles.
type Client struct {
	api *upstream.Client
}

// NewClient creates user service client
func NewClient(api *upstream.Client) *Client {
	return &Client{api: api}
}

// GetUser returns the profile of userID.
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	id := strconv.FormatInt(userID, 10)
	header := http.Header{}
	header.Set("X-User-ID", id)

	var user User
	if err := c.api.GetJSON(ctx, "/client/users/"+id, nil, header, &user); err != nil {
		if upstream.StatusCode(err) == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	if user.UserID == 0 {
		user.UserID = userID
	}
	return &user, nil
}
