package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexariza/voicebot/internal/api"
)

// probeClient talks to a running voice consultation server
type probeClient struct {
	baseURL string
	http    *http.Client
}

func newProbeClient(baseURL string) *probeClient {
	return &probeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *probeClient) openSession() (*api.SessionResponse, error) {
	resp, err := p.http.Post(p.baseURL+"/api/v1/sessions", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var session api.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	return &session, nil
}

// summary downloads the summary and the file name the server suggests
func (p *probeClient) summary(sessionID, token string) (string, string, error) {
	req, err := http.NewRequest(http.MethodGet, p.baseURL+"/api/v1/sessions/"+sessionID+"/summary", nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to request summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", apiError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read summary: %w", err)
	}

	fileName := "summary.txt"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		fileName = params["filename"]
	}
	return string(body), fileName, nil
}

func (p *probeClient) dial(sessionID, token string) (*websocket.Conn, error) {
	wsURL, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, err
	}
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws/" + sessionID
	q := wsURL.Query()
	q.Set("token", token)
	wsURL.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return conn, nil
}

func apiError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d: %s (%s)", resp.StatusCode, body.Error, body.Message)
}
