package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const answerTimeout = 15 * time.Second

// signalMessage is the JSON envelope exchanged with the signaling server.
type signalMessage struct {
	Type      string `json:"type"` // offer, answer, candidate
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	StreamKey string `json:"stream_key,omitempty"`
}

// signalingClient is a thin WebSocket client for offer/answer exchange.
type signalingClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func dialSignaling(ctx context.Context, url string) (*signalingClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial signaling server: %w", err)
	}
	return &signalingClient{conn: conn}, nil
}

func (c *signalingClient) send(msg signalMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// awaitAnswer blocks until the server answers the published offer.
// Candidate messages arriving first are skipped; trickle ICE is not used
// on the push path.
func (c *signalingClient) awaitAnswer(ctx context.Context) (string, error) {
	deadline := time.Now().Add(answerTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline) //nolint:errcheck

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read signaling answer: %w", err)
		}

		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return "", fmt.Errorf("malformed signaling message: %w", err)
		}
		if msg.Type == "answer" {
			return msg.SDP, nil
		}
	}
}

func (c *signalingClient) close() error {
	return c.conn.Close()
}
