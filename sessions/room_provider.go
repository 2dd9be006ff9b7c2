// Package sessions talks to the external video-room service. Room internals
// are opaque; only creation and teardown are modelled.
package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type RoomRequest struct {
	BookingID uuid.UUID
	StartsAt  time.Time
	EndsAt    time.Time
}

type Room struct {
	ID      string `json:"id"`
	JoinURL string `json:"join_url"`
}

type RoomProvider interface {
	CreateRoom(ctx context.Context, req RoomRequest) (*Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// HTTPRoomProvider drives a REST room API authenticated with a bearer key.
type HTTPRoomProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPRoomProvider(baseURL, apiKey string) *HTTPRoomProvider {
	return &HTTPRoomProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type createRoomPayload struct {
	Name       string `json:"name"`
	NotBefore  int64  `json:"nbf"`
	ExpiresAt  int64  `json:"exp"`
	ExternalID string `json:"external_id"`
}

func (p *HTTPRoomProvider) CreateRoom(ctx context.Context, req RoomRequest) (*Room, error) {
	payload := createRoomPayload{
		Name:       "class-" + req.BookingID.String(),
		NotBefore:  req.StartsAt.Add(-15 * time.Minute).Unix(),
		ExpiresAt:  req.EndsAt.Add(30 * time.Minute).Unix(),
		ExternalID: req.BookingID.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "create room")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to create room, status %d: %s", resp.StatusCode, string(respBody))
	}

	var room Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return nil, errors.Wrap(err, "decode room")
	}
	if room.ID == "" || room.JoinURL == "" {
		return nil, errors.New("room service returned an incomplete room")
	}
	return &room, nil
}

func (p *HTTPRoomProvider) DeleteRoom(ctx context.Context, roomID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.BaseURL+"/rooms/"+roomID, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "delete room")
	}
	defer resp.Body.Close()

	// already gone counts as deleted
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode/100 == 2 {
		return nil
	}
	return fmt.Errorf("failed to delete room %s, status %d", roomID, resp.StatusCode)
}

// StaticRoomProvider derives a join link from the booking id without any
// remote call. Useful when meetings run on a fixed conferencing host.
type StaticRoomProvider struct {
	BaseURL string
}

func (p StaticRoomProvider) CreateRoom(_ context.Context, req RoomRequest) (*Room, error) {
	if p.BaseURL == "" {
		return nil, errors.New("session link base url is not configured")
	}
	id := "class-" + req.BookingID.String()
	return &Room{ID: id, JoinURL: strings.TrimRight(p.BaseURL, "/") + "/" + id}, nil
}

func (StaticRoomProvider) DeleteRoom(context.Context, string) error { return nil }
