// Package family is the client of the family service: it resolves a user to the
// owning family and lists the family roster with face signatures.
package family

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/familring/album-service/internal/pkg/upstream"
)

// ErrNoFamily is returned when the user does not belong to any family.
var ErrNoFamily = errors.New("user does not belong to a family")

// Info is the family summary returned by the family service.
type Info struct {
	FamilyID    int64  `json:"familyId"`
	FamilyCode  string `json:"familyCode,omitempty"`
	FamilyCount int    `json:"familyCount,omitempty"`
}

// Member is one roster entry.
type Member struct {
	UserID        int64  `json:"userId"`
	Nickname      string `json:"userNickname"`
	FaceSignature string `json:"userFace"`
	ZodiacSign    string `json:"userZodiacSign"`
}

// Directory resolves family membership.
type Directory interface {
	GetFamilyID(ctx context.Context, userID int64) (int64, error)
	GetFamilyMembers(ctx context.Context, userID int64) ([]Member, error)
}

// Client implements Directory over HTTP.
type Client struct {
	api *upstream.Client
}

// NewClient creates family service client
func NewClient(api *upstream.Client) *Client {
	return &Client{api: api}
}

// GetFamilyID returns the id of the family the user belongs to.
func (c *Client) GetFamilyID(ctx context.Context, userID int64) (int64, error) {
	var info Info
	err := c.api.GetJSON(ctx, "/client/family", query(userID), userHeader(userID), &info)
	if err != nil {
		if upstream.StatusCode(err) == http.StatusNotFound {
			return 0, ErrNoFamily
		}
		return 0, fmt.Errorf("get family info: %w", err)
	}
	if info.FamilyID <= 0 {
		return 0, ErrNoFamily
	}
	return info.FamilyID, nil
}

// GetFamilyMembers returns the full roster of the user's family.
func (c *Client) GetFamilyMembers(ctx context.Context, userID int64) ([]Member, error) {
	var members []Member
	err := c.api.GetJSON(ctx, "/client/family/members", query(userID), userHeader(userID), &members)
	if err != nil {
		if upstream.StatusCode(err) == http.StatusNotFound {
			return nil, ErrNoFamily
		}
		return nil, fmt.Errorf("get family members: %w", err)
	}
	return members, nil
}

func query(userID int64) url.Values {
	return url.Values{"user_id": {strconv.FormatInt(userID, 10)}}
}

func userHeader(userID int64) http.Header {
	h := http.Header{}
	h.Set("X-User-ID", strconv.FormatInt(userID, 10))
	return h
}
