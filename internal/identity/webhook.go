// Package identity manages the per-channel webhook that posts replies under
// a persona's name and avatar.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/charbot/internal/logging"
)

// ErrIdentity wraps every failed webhook operation.
var ErrIdentity = errors.New("identity operation failed")

// DefaultName is the well-known webhook name. Webhooks are always found by
// this name, never by a cached id.
const DefaultName = "Uc207_Bot"

// API is the subset of *discordgo.Session used for webhooks.
type API interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookDelete(webhookID string, options ...discordgo.RequestOption) error
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Manager owns the per-channel reply webhooks.
type Manager struct {
	api  API
	name string

	// seen records webhook ids found under our name so the gateway can
	// recognize our own messages in history. It is never used for lookup.
	seen sync.Map
}

// NewManager returns a manager using the given webhook name, or DefaultName.
func NewManager(api API, name string) *Manager {
	if name == "" {
		name = DefaultName
	}
	return &Manager{api: api, name: name}
}

// Name returns the webhook name the manager owns.
func (m *Manager) Name() string {
	return m.name
}

// Owns reports whether a webhook id has been seen under the managed name.
func (m *Manager) Owns(webhookID string) bool {
	if webhookID == "" {
		return false
	}
	_, ok := m.seen.Load(webhookID)
	return ok
}

// Refresh re-reads the channel's webhooks so Owns recognizes identities
// created before this process started.
func (m *Manager) Refresh(channelID string) error {
	_, err := m.find(channelID)
	return err
}

// find lists the channel's webhooks and returns those with the managed name.
func (m *Manager) find(channelID string) ([]*discordgo.Webhook, error) {
	hooks, err := m.api.ChannelWebhooks(channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: list webhooks in %s: %v", ErrIdentity, channelID, err)
	}

	var out []*discordgo.Webhook
	for _, h := range hooks {
		if h != nil && h.Name == m.name {
			m.seen.Store(h.ID, struct{}{})
			out = append(out, h)
		}
	}
	return out, nil
}

// Ensure returns the channel's webhook, creating it if none exists. Two
// concurrent calls may both create one; later lookups converge on the first
// listed and Teardown removes all of them.
func (m *Manager) Ensure(channelID string) (*discordgo.Webhook, error) {
	hooks, err := m.find(channelID)
	if err != nil {
		return nil, err
	}
	if len(hooks) > 0 {
		return hooks[0], nil
	}

	hook, err := m.api.WebhookCreate(channelID, m.name, "")
	if err != nil {
		return nil, fmt.Errorf("%w: create webhook in %s: %v", ErrIdentity, channelID, err)
	}
	m.seen.Store(hook.ID, struct{}{})
	logging.Info("identity", "Created webhook %s in channel %s", hook.ID, channelID)
	return hook, nil
}

// Teardown deletes every webhook with the managed name in the channel and
// reports whether any existed.
func (m *Manager) Teardown(channelID string) (bool, error) {
	hooks, err := m.find(channelID)
	if err != nil {
		return false, err
	}

	var errs []error
	for _, h := range hooks {
		if err := m.api.WebhookDelete(h.ID); err != nil && !isUnknownWebhook(err) {
			errs = append(errs, fmt.Errorf("delete webhook %s: %v", h.ID, err))
			continue
		}
		logging.Info("identity", "Deleted webhook %s in channel %s", h.ID, channelID)
	}
	if len(errs) > 0 {
		return true, fmt.Errorf("%w: %v", ErrIdentity, errors.Join(errs...))
	}
	return len(hooks) > 0, nil
}

// Deliver posts text through the channel's webhook as username with the
// given avatar. Long text is split into several messages. If the webhook
// vanished between lookup and send, delivery is retried once with a fresh one.
func (m *Manager) Deliver(channelID, username, avatarURL, text string) error {
	hook, err := m.Ensure(channelID)
	if err != nil {
		return err
	}

	for _, chunk := range chunkMessage(text, MaxMessageLength) {
		params := &discordgo.WebhookParams{
			Content:   chunk,
			Username:  username,
			AvatarURL: avatarURL,
		}
		_, err := m.api.WebhookExecute(hook.ID, hook.Token, false, params)
		if err != nil && isUnknownWebhook(err) {
			m.seen.Delete(hook.ID)
			if hook, err = m.Ensure(channelID); err != nil {
				return err
			}
			_, err = m.api.WebhookExecute(hook.ID, hook.Token, false, params)
		}
		if err != nil {
			return fmt.Errorf("%w: execute webhook in %s: %v", ErrIdentity, channelID, err)
		}
	}
	return nil
}

// isUnknownWebhook reports whether Discord answered 404 for the webhook.
func isUnknownWebhook(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
