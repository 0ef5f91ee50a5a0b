package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/gradecall/internal/handlers"
	"github.com/mossy-p/gradecall/internal/models"
)

// apiClient talks to the gateway's HTTP API on behalf of one user
type apiClient struct {
	base   string
	http   *http.Client
	token  string
	userID string
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// signalURL is the WebSocket endpoint of the gateway
func (a *apiClient) signalURL() string {
	switch {
	case strings.HasPrefix(a.base, "https://"):
		return "wss://" + strings.TrimPrefix(a.base, "https://") + "/ws/signal"
	case strings.HasPrefix(a.base, "http://"):
		return "ws://" + strings.TrimPrefix(a.base, "http://") + "/ws/signal"
	}
	return a.base + "/ws/signal"
}

func (a *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *apiClient) login(ctx context.Context, username string) error {
	var resp handlers.LoginResponse
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", handlers.LoginRequest{Username: username}, &resp); err != nil {
		return err
	}
	a.token, a.userID = resp.Token, resp.UserID
	return nil
}

func (a *apiClient) iceServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var resp struct {
		ICEServers []models.ICEServer `json:"iceServers"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/ice", nil, &resp); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(resp.ICEServers))
	for _, s := range resp.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func (a *apiClient) createCall(ctx context.Context, calleeID string) (string, error) {
	var resp models.CreateCallResponse
	if err := a.do(ctx, http.MethodPost, "/api/calls", models.CreateCallRequest{CalleeID: calleeID}, &resp); err != nil {
		return "", err
	}
	return resp.CallID, nil
}

func (a *apiClient) endCall(ctx context.Context, callID string) error {
	return a.do(ctx, http.MethodDelete, "/api/calls/"+callID, nil, nil)
}
