package main

// ---------------------------------------------------------------------------
// http.go — HTTP client helpers for API communication
// ---------------------------------------------------------------------------

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

func apiGet(url, apiKey string, timeout time.Duration) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to aegis API at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return body, fmt.Errorf("authentication failed (HTTP %d), provide --api-key or set AEGIS_API_KEY", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("API returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func apiPost(url string, payload []byte, apiKey string, timeout time.Duration) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to aegis API at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return body, fmt.Errorf("authentication failed (HTTP %d), provide --api-key or set AEGIS_API_KEY", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("API returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
