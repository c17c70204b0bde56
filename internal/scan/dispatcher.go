// Package scan turns badge scans into welcome notifications.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gatheringAccess/internal/hub"
	"gatheringAccess/models"
)

const (
	SubjScanUser = "scan_user"
	SubjWelcome  = "welcome_message"

	MsgNotFound = "User not found"
	MsgError    = "Error occurred while scanning user"
)

// ProfileFetcher resolves attendee profiles.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, id string) (*models.Attendee, error)
}

// Publisher delivers a message to every subscriber of the broadcast channel.
type Publisher interface {
	Publish(subj string, data any)
}

// Dispatcher handles scan events. It publishes exactly one welcome message
// per scan and never reports a failure to its caller.
type Dispatcher struct {
	profiles ProfileFetcher
	pub      Publisher
	log      zerolog.Logger
	// Timeout bounds scans routed from the hub, which carry no request context.
	Timeout time.Duration
}

func NewDispatcher(profiles ProfileFetcher, pub Publisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{profiles: profiles, pub: pub, log: log, Timeout: 10 * time.Second}
}

// WelcomeMessage returns the greeting broadcast for an attendee named name.
func WelcomeMessage(name string) string { return "Welcome " + name }

// HandleScan resolves id and broadcasts the resulting message.
func (d *Dispatcher) HandleScan(ctx context.Context, id string) {
	msg := d.resolve(ctx, id)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("attendee", id).Interface("panic", r).Msg("publish welcome message panicked")
		}
	}()
	d.pub.Publish(SubjWelcome, msg)
}

func (d *Dispatcher) resolve(ctx context.Context, id string) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("attendee", id).Interface("panic", r).Msg("scan lookup panicked")
			msg = MsgError
		}
	}()
	if id == "" {
		return MsgNotFound
	}
	a, err := d.profiles.FetchProfile(ctx, id)
	if err != nil {
		d.log.Error().Err(err).Str("attendee", id).Msg("scan lookup failed")
		return MsgError
	}
	if a == nil {
		d.log.Info().Str("attendee", id).Msg("scanned attendee not found")
		return MsgNotFound
	}
	d.log.Info().Str("attendee", id).Msg("attendee scanned")
	return WelcomeMessage(a.Name)
}

// Route handles scan_user messages arriving from hub connections. The body
// is the attendee id as a JSON string, a {"user_id": ...} object or a bare
// id. Each scan runs in its own goroutine so a slow store does not stall the
// hub.
func (d *Dispatcher) Route(m *hub.Msg) {
	if m.Subj != SubjScanUser {
		return
	}
	id, err := parseScanBody(m.Raw)
	if err != nil {
		d.log.Info().Err(err).Msg("malformed scan_user event")
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
		defer cancel()
		d.HandleScan(ctx, id)
	}()
}

func parseScanBody(raw []byte) (string, error) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return "", nil
	}
	switch body[0] {
	case '"':
		var id string
		if err := json.Unmarshal([]byte(body), &id); err != nil {
			return "", fmt.Errorf("decode attendee id: %w", err)
		}
		return strings.TrimSpace(id), nil
	case '{':
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return "", fmt.Errorf("decode scan request: %w", err)
		}
		return strings.TrimSpace(req.UserID), nil
	}
	return body, nil
}
