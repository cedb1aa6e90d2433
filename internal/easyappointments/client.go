// Package easyappointments talks to the Easy!Appointments REST API.
package easyappointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voicetel/appointment-reminder/internal/config"
	"github.com/voicetel/appointment-reminder/internal/models"
)

const maxBodyBytes = 10 << 20

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Resource   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d: %s", e.Resource, e.StatusCode, e.Body)
}

type Client struct {
	root       string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg config.APIConfig) *Client {
	root := cfg.Root
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return &Client{
		root:   root,
		apiKey: cfg.Key,
		httpClient: &http.Client{
			Timeout: cfg.Timeout.Duration,
		},
	}
}

func (c *Client) FetchAppointments(ctx context.Context) ([]models.Appointment, error) {
	var appointments []models.Appointment
	if err := c.getJSON(ctx, "appointments", &appointments); err != nil {
		return nil, err
	}
	return appointments, nil
}

func (c *Client) FetchCustomers(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	if err := c.getJSON(ctx, "customers", &customers); err != nil {
		return nil, err
	}
	return customers, nil
}

// Ping fetches customers and discards them; used by --check-connections.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.FetchCustomers(ctx)
	return err
}

func (c *Client) getJSON(ctx context.Context, resource string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.root+resource, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("GET %s: failed to read body: %w", resource, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("GET %s: response exceeds %d bytes", resource, maxBodyBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &StatusError{Resource: resource, StatusCode: resp.StatusCode, Body: snippet}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", resource, err)
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
