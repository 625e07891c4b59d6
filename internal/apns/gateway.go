// Package apns sends Live Activity updates, end events, and widget refresh
// pushes over the Apple Push Notification service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"

	"github.com/nightscout-labs/liveactivity/internal/activity"
	"github.com/nightscout-labs/liveactivity/internal/alert"
	"github.com/nightscout-labs/liveactivity/internal/metrics"
)

// Topic is the bundle id of the mobile app.
const Topic = "org.nightscout-labs.GlucoseDirect"

// terminalReasons are the APNs rejections that mean the device token will
// never work again. ExpiredToken has no constant in the apns2 package yet.
var terminalReasons = map[string]bool{
	apns2.ReasonBadDeviceToken: true,
	apns2.ReasonUnregistered:   true,
	"ExpiredToken":             true,
}

// PushError is an APNs rejection surfaced to the caller. Only terminal
// rejections are surfaced; everything else is logged and swallowed so the
// next cycle retries on its own cadence.
type PushError struct {
	StatusCode int
	Reason     string
}

// Error implements the error interface.
func (e *PushError) Error() string {
	return fmt.Sprintf("apns rejected push: status %d, reason %s", e.StatusCode, e.Reason)
}

// Terminal reports whether the device is permanently unreachable.
func (e *PushError) Terminal() bool {
	return terminalReasons[e.Reason]
}

// Gateway holds one JWT-credentialed APNs client per environment. It is
// stateless aside from the two clients created at startup. A gateway built
// without signing material is disabled: sends log and report success so the
// rest of the system keeps cycling.
type Gateway struct {
	development *apns2.Client
	production  *apns2.Client
	topic       string
	timeout     time.Duration
	logger      *slog.Logger
}

// GatewayOptions configures the push gateway.
type GatewayOptions struct {
	// AuthKeyPEM is the PEM-encoded APNs auth key. Empty disables sending.
	AuthKeyPEM []byte
	KeyID      string
	TeamID     string

	// Topic overrides the app bundle id. Empty uses Topic.
	Topic   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewGateway creates the per-environment APNs clients.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	topic := opts.Topic
	if topic == "" {
		topic = Topic
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	g := &Gateway{
		topic:   topic,
		timeout: timeout,
		logger:  logger,
	}

	if len(opts.AuthKeyPEM) == 0 || opts.KeyID == "" || opts.TeamID == "" {
		logger.Warn("APNs signing material missing, push sending disabled")
		return g, nil
	}

	authKey, err := token.AuthKeyFromBytes(opts.AuthKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse APNs auth key: %w", err)
	}

	t := &token.Token{
		AuthKey: authKey,
		KeyID:   opts.KeyID,
		TeamID:  opts.TeamID,
	}

	g.development = apns2.NewTokenClient(t).Development()
	g.production = apns2.NewTokenClient(t).Production()
	return g, nil
}

// Enabled reports whether the gateway can actually reach APNs.
func (g *Gateway) Enabled() bool {
	return g.production != nil
}

// SendActivityUpdate pushes a Live Activity update with the given content
// state and optional alert.
func (g *Gateway) SendActivityUpdate(ctx context.Context, env activity.Environment, deviceToken string, state ContentState, content *alert.Content, staleDate, timestamp time.Time) error {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       g.topic + ".push-type.liveactivity",
		PushType:    apns2.PushTypeLiveActivity,
		Priority:    apns2.PriorityHigh,
		Expiration:  staleDate,
		Payload:     liveActivityPayload("update", state, content, staleDate, timestamp),
	}
	return g.push(ctx, env, n, "update")
}

// SendActivityEnd pushes the final end event: no current reading, empty
// history, session expired.
func (g *Gateway) SendActivityEnd(ctx context.Context, env activity.Environment, deviceToken string) error {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       g.topic + ".push-type.liveactivity",
		PushType:    apns2.PushTypeLiveActivity,
		Priority:    apns2.PriorityHigh,
		Payload:     liveActivityPayload("end", endState(), nil, time.Time{}, time.Now()),
	}
	return g.push(ctx, env, n, "end")
}

// SendWidgetRefresh pushes a silent background refresh to a widget token.
func (g *Gateway) SendWidgetRefresh(ctx context.Context, env activity.Environment, deviceToken string) error {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       g.topic,
		PushType:    apns2.PushTypeBackground,
		Priority:    apns2.PriorityLow,
		Payload:     widgetRefreshPayload(),
	}
	return g.push(ctx, env, n, "widget")
}

// push sends one notification. Terminal rejections come back as *PushError;
// transient failures are logged and swallowed.
func (g *Gateway) push(ctx context.Context, env activity.Environment, n *apns2.Notification, kind string) error {
	if !g.Enabled() {
		g.logger.Debug("push skipped, gateway disabled", "kind", kind)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client(env).PushWithContext(ctx, n)
	if err != nil {
		g.logger.Warn("apns transport error", "kind", kind, "error", err)
		metrics.PushFailures.WithLabelValues("transport").Inc()
		return nil
	}

	if resp.Sent() {
		metrics.PushesSent.WithLabelValues(kind, string(env)).Inc()
		return nil
	}

	metrics.PushFailures.WithLabelValues(resp.Reason).Inc()
	pushErr := &PushError{StatusCode: resp.StatusCode, Reason: resp.Reason}
	if pushErr.Terminal() {
		return pushErr
	}

	g.logger.Warn("apns rejected push",
		"kind", kind,
		"status", resp.StatusCode,
		"reason", resp.Reason,
	)
	return nil
}

func (g *Gateway) client(env activity.Environment) *apns2.Client {
	if env == activity.EnvDevelopment {
		return g.development
	}
	return g.production
}
