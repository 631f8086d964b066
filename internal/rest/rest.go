// Package rest is the stateless request/response layer for bootstrap
// data: the user directory, the room directory, message history, room
// creation and file downloads. No retries, no caching — a call either
// returns a fully-typed result or fails.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"

	"github.com/fitchat/fitchat-client/internal/protocol"
	"github.com/fitchat/fitchat-client/internal/types"
)

const defaultTimeout = 15 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

type CreateRoomParams struct {
	Name         string         `json:"name" validate:"required"`
	Kind         types.RoomKind `json:"type" validate:"required,oneof=direct group"`
	Participants []string       `json:"participants" validate:"min=1,dive,required"`
}

// Backend is the REST surface the store consumes.
type Backend interface {
	GetUsers(ctx context.Context) ([]types.User, error)
	GetUser(ctx context.Context, id string) (types.User, error)
	GetRooms(ctx context.Context) ([]types.Room, error)
	GetRoom(ctx context.Context, id string) (types.Room, error)
	GetRoomMessages(ctx context.Context, roomId string, limit, offset int) ([]types.Message, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error)
	GetFile(ctx context.Context, fileId string) ([]byte, error)
}

type Client struct {
	http *resty.Client
}

func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json")

	if token != "" {
		c.SetAuthToken(token)
	}

	c.JSONMarshal = json.Marshal
	c.JSONUnmarshal = json.Unmarshal

	return &Client{http: c}
}

func apiErr(op string, resp *resty.Response) error {
	return fmt.Errorf("%s: %s: %s", op, resp.Status(), resp.String())
}

func (c *Client) GetUsers(ctx context.Context) ([]types.User, error) {
	var users []types.User
	resp, err := c.http.R().SetContext(ctx).SetResult(&users).Get("/users")
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr("get users", resp)
	}

	return users, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (types.User, error) {
	var user types.User
	resp, err := c.http.R().SetContext(ctx).SetResult(&user).
		SetPathParam("id", id).Get("/users/{id}")
	if err != nil {
		return types.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	if resp.IsError() {
		return types.User{}, apiErr("get user "+id, resp)
	}

	return user, nil
}

func (c *Client) GetRooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	resp, err := c.http.R().SetContext(ctx).SetResult(&rooms).Get("/rooms")
	if err != nil {
		return nil, fmt.Errorf("get rooms: %w", err)
	}
	if resp.IsError() {
		return nil, apiErr("get rooms", resp)
	}

	return rooms, nil
}

func (c *Client) GetRoom(ctx context.Context, id string) (types.Room, error) {
	var room types.Room
	resp, err := c.http.R().SetContext(ctx).SetResult(&room).
		SetPathParam("id", id).Get("/rooms/{id}")
	if err != nil {
		return types.Room{}, fmt.Errorf("get room %s: %w", id, err)
	}
	if resp.IsError() {
		return types.Room{}, apiErr("get room "+id, resp)
	}

	return room, nil
}

// GetRoomMessages fetches one page of room history, oldest first, and
// maps each wire message into the local shape.
func (c *Client) GetRoomMessages(ctx context.Context, roomId string, limit, offset int) ([]types.Message, error) {
	var wire []protocol.WireMessage
	resp, err := c.http.R().SetContext(ctx).SetResult(&wire).
		SetPathParam("id", roomId).
		SetQueryParams(map[string]string{
			"limit":  fmt.Sprintf("%d", limit),
			"offset": fmt.Sprintf("%d", offset),
		}).
		Get("/rooms/{id}/messages")
	if err != nil {
		return nil, fmt.Errorf("get messages for room %s: %w", roomId, err)
	}
	if resp.IsError() {
		return nil, apiErr("get messages for room "+roomId, resp)
	}

	msgs := make([]types.Message, len(wire))
	for i := range wire {
		msgs[i] = wire[i].ToMessage()
	}

	return msgs, nil
}

func (c *Client) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	if err := validate.Struct(params); err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	var room types.Room
	resp, err := c.http.R().SetContext(ctx).SetBody(params).SetResult(&room).Post("/rooms")
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}
	if resp.IsError() {
		return types.Room{}, apiErr("create room", resp)
	}

	return room, nil
}

func (c *Client) GetFile(ctx context.Context, fileId string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetPathParam("id", fileId).Get("/files/{id}")
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileId, err)
	}
	if resp.IsError() {
		return nil, apiErr("get file "+fileId, resp)
	}

	return resp.Body(), nil
}
