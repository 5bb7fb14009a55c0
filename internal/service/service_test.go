package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository/memstore"
)

const (
	accountA = "acct-1"
	accountB = "acct-2"

	testCodeTTL = 15 * time.Minute
	testWindow  = 90 * time.Second
	testGrace   = 5 * time.Minute
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, accountID string, eventType events.Type, subject string, payload any) error {
	args := m.Called(ctx, accountID, eventType, subject, payload)
	return args.Error(0)
}

func (m *mockPublisher) assertPublished(t *testing.T, accountID string, eventType events.Type, subject string) {
	t.Helper()
	m.AssertCalled(t, "Publish", mock.Anything, accountID, eventType, subject, mock.Anything)
}

type fixture struct {
	ctx        context.Context
	store      *memstore.Store
	clock      *fakeClock
	events     *mockPublisher
	pairing    *PairingService
	presence   *PresenceService
	control    *ControlService
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	store.AddAccount(model.Account{ID: accountA, Name: "Lobby"})
	store.AddAccount(model.Account{ID: accountB, Name: "Cafe"})

	clock := newFakeClock()
	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	return &fixture{
		ctx:        context.Background(),
		store:      store,
		clock:      clock,
		events:     publisher,
		pairing:    NewPairingService(store, publisher, testCodeTTL, clock.Now),
		presence:   NewPresenceService(store, testWindow, clock.Now),
		control:    NewControlService(store, publisher, testWindow, clock.Now),
		reconciler: NewReconciler(store, publisher, testGrace, clock.Now),
	}
}

// scriptCodes makes the code generator return values in order, cycling.
func (f *fixture) scriptCodes(values ...string) {
	i := 0
	f.pairing.generator.random = func() (string, error) {
		v := values[i%len(values)]
		i++
		return v, nil
	}
}

func (f *fixture) generate(t *testing.T, accountID, code string) *model.PairingCode {
	t.Helper()
	f.scriptCodes(code)
	pc, err := f.pairing.GenerateCode(f.ctx, accountID, GenerateCodeInput{})
	require.NoError(t, err)
	return pc
}

func (f *fixture) pairDevice(t *testing.T, accountID, code, fingerprint string) *ClaimResult {
	t.Helper()
	f.generate(t, accountID, code)
	result, err := f.pairing.ClaimCode(f.ctx, accountID, ClaimInput{Code: code, Fingerprint: fingerprint})
	require.NoError(t, err)
	return result
}

func (f *fixture) addPlaylist(id, accountID string) {
	f.store.AddPlaylist(model.Playlist{ID: id, AccountID: accountID, Name: "Menu board", CreatedAt: f.clock.Now()})
}

func strPtr(s string) *string {
	return &s
}
