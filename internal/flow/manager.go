package flow

import (
	"sync"
	"time"

	"github.com/classdesk/classdesk-portal/internal/authclient"
	"github.com/classdesk/classdesk-portal/internal/models"
	"github.com/classdesk/classdesk-portal/internal/store"
)

// Client bundles the per-client views a handler needs: the orchestrator plus
// the stores scoped to the same client.
type Client struct {
	Flow    *Orchestrator
	Creds   *store.CredentialStore
	Schools *store.SchoolContextStore
}

// Manager owns one Orchestrator per client id, lazily created over
// client-scoped views of the two shared physical tiers.
type Manager struct {
	mu      sync.Mutex
	durable store.Tier
	tab     store.Tier
	auth    authclient.API

	successDelay time.Duration
	onSuccess    func(clientID string, role models.Role)

	clients map[string]*Client
}

// NewManager creates a manager over the shared tiers.
func NewManager(durable, tab store.Tier, auth authclient.API, successDelay time.Duration) *Manager {
	return &Manager{
		durable:      durable,
		tab:          tab,
		auth:         auth,
		successDelay: successDelay,
		clients:      make(map[string]*Client),
	}
}

// SetSuccessCallback registers the callback invoked when a client's login
// flow completes (after the success-screen delay). Must be called before the
// first client is served.
func (m *Manager) SetSuccessCallback(cb func(clientID string, role models.Role)) {
	m.onSuccess = cb
}

// Client returns the bundle for clientID, creating it on first use. Creation
// resumes an interrupted second-factor flow from the client's durable mirror.
func (m *Manager) Client(clientID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[clientID]; ok {
		return c
	}

	creds := store.NewCredentialStore(
		store.Scoped(m.durable, clientID),
		store.Scoped(m.tab, clientID),
	)
	schools := store.NewSchoolContextStore(store.Scoped(m.durable, clientID))

	var onSuccess func(models.Role)
	if m.onSuccess != nil {
		cb := m.onSuccess
		onSuccess = func(role models.Role) { cb(clientID, role) }
	}

	c := &Client{
		Flow:    New(creds, schools, m.auth, m.successDelay, onSuccess),
		Creds:   creds,
		Schools: schools,
	}
	m.clients[clientID] = c
	return c
}

// Evict tears down the orchestrator for clientID. Stored state survives; the
// next request rebuilds the orchestrator from it.
func (m *Manager) Evict(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[clientID]; ok {
		c.Flow.Close()
		delete(m.clients, clientID)
	}
}

// Close tears down every orchestrator. Called on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.clients {
		c.Flow.Close()
		delete(m.clients, id)
	}
}
