// Package matchmaking is the room-join collaborator boundary: it hands the
// session a fresh room and peer identity and knows nothing else about it.
package matchmaking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spinchat/engine/internal/domain"
)

type matchRequest struct {
	RequestID string `json:"requestId"`
}

type matchResponse struct {
	Result int                   `json:"result"`
	Msg    string                `json:"msg"`
	Data   domain.RoomAssignment `json:"data"`
}

// Client requests room assignments from the platform's matchmaking service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

var _ domain.RoomProvider = (*Client)(nil)

// NewClient creates a matchmaking client. token is the bearer token of the
// authenticated user.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("component", "matchmaking").Logger(),
	}
}

// NextRoom asks the service for a fresh 1:1 room to search in.
func (c *Client) NextRoom(ctx context.Context) (domain.RoomAssignment, error) {
	body, err := json.Marshal(matchRequest{RequestID: uuid.NewString()})
	if err != nil {
		return domain.RoomAssignment{}, fmt.Errorf("marshal match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/match/next", bytes.NewReader(body))
	if err != nil {
		return domain.RoomAssignment{}, fmt.Errorf("create match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.RoomAssignment{}, fmt.Errorf("match request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RoomAssignment{}, fmt.Errorf("read match response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RoomAssignment{}, fmt.Errorf("matchmaking http %d: %s", resp.StatusCode, string(respBody))
	}

	var mr matchResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return domain.RoomAssignment{}, fmt.Errorf("unmarshal match response: %w", err)
	}
	if mr.Result != 0 {
		return domain.RoomAssignment{}, fmt.Errorf("matchmaking error (result=%d): %s", mr.Result, mr.Msg)
	}
	if mr.Data.RoomID == "" || mr.Data.PeerID == "" {
		return domain.RoomAssignment{}, fmt.Errorf("matchmaking returned incomplete assignment")
	}

	c.log.Debug().Str("room", mr.Data.RoomID).Msg("room assigned")
	return mr.Data, nil
}

// Local allocates rooms in-process. Paired with the in-memory signaling hub
// for offline mode and tests; a fixed RoomID makes two peers meet.
type Local struct {
	RoomID string
}

var _ domain.RoomProvider = (*Local)(nil)

// NextRoom returns the configured room (or a fresh one) with a unique peer
// identity.
func (l *Local) NextRoom(context.Context) (domain.RoomAssignment, error) {
	roomID := l.RoomID
	if roomID == "" {
		roomID = uuid.NewString()
	}
	return domain.RoomAssignment{RoomID: roomID, PeerID: uuid.NewString()}, nil
}
