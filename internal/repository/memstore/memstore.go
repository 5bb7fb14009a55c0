// Package memstore is an in-memory repository.Store used by service and
// handler tests. It mirrors the constraints the Postgres schema enforces.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/signage/screen-pairing-server/internal/model"
	"github.com/signage/screen-pairing-server/internal/repository"
)

// Operation names accepted by OnCall.
const (
	OpCreateCode      = "codes.Create"
	OpFindCode        = "codes.FindUnexpiredByAccountAndCode"
	OpLinkCode        = "codes.Link"
	OpCreateDevice    = "devices.Create"
	OpReconnect       = "devices.Reconnect"
	OpRecordHeartbeat = "devices.RecordHeartbeat"
	OpApplyControl    = "devices.ApplyControl"
	OpCreateHeartbeat = "heartbeats.Create"
	OpMarkOrphaned    = "devices.MarkOrphaned"
)

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	accounts   map[string]model.Account
	playlists  map[string]model.Playlist
	codes      map[string]model.PairingCode
	devices    map[string]model.Device
	heartbeats []model.Heartbeat
	nextBeatID int64

	hooks map[string][]func() error
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:  make(map[string]model.Account),
		playlists: make(map[string]model.Playlist),
		codes:     make(map[string]model.PairingCode),
		devices:   make(map[string]model.Device),
		hooks:     make(map[string][]func() error),
	}
}

// OnCall registers a one-shot hook that runs before the next call of op.
// A non-nil error is returned from the operation without touching state.
// Hooks run unlocked, so they may modify the store to simulate a concurrent writer.
func (s *Store) OnCall(op string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[op] = append(s.hooks[op], fn)
}

func (s *Store) fire(op string) error {
	s.mu.Lock()
	queue := s.hooks[op]
	if len(queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	fn := queue[0]
	s.hooks[op] = queue[1:]
	s.mu.Unlock()
	return fn()
}

func (s *Store) Accounts() repository.AccountRepository         { return accountRepo{s} }
func (s *Store) PairingCodes() repository.PairingCodeRepository { return codeRepo{s} }
func (s *Store) Devices() repository.DeviceRepository           { return deviceRepo{s} }
func (s *Store) Heartbeats() repository.HeartbeatRepository     { return heartbeatRepo{s} }
func (s *Store) Playlists() repository.PlaylistRepository       { return playlistRepo{s} }

// WithTx serializes transactions and restores the previous state when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(txStore{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type txStore struct {
	*Store
}

func (t txStore) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	return fn(t)
}

type snapshot struct {
	codes      map[string]model.PairingCode
	devices    map[string]model.Device
	heartbeats []model.Heartbeat
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		codes:      make(map[string]model.PairingCode, len(s.codes)),
		devices:    make(map[string]model.Device, len(s.devices)),
		heartbeats: append([]model.Heartbeat(nil), s.heartbeats...),
	}
	for k, v := range s.codes {
		snap.codes[k] = v
	}
	for k, v := range s.devices {
		snap.devices[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = snap.codes
	s.devices = snap.devices
	s.heartbeats = snap.heartbeats
}

// Seeding and inspection helpers.

func (s *Store) AddAccount(a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) AddPlaylist(p model.Playlist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlists[p.ID] = p
}

func (s *Store) PutDevice(d model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
}

func (s *Store) PutCode(pc model.PairingCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[pc.ID] = pc
}

func (s *Store) Device(id string) (model.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d, ok
}

func (s *Store) Code(id string) (model.PairingCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.codes[id]
	return pc, ok
}

func (s *Store) DeviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

func (s *Store) HeartbeatCount(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, hb := range s.heartbeats {
		if hb.DeviceID == deviceID {
			n++
		}
	}
	return n
}

type accountRepo struct{ s *Store }

func (r accountRepo) WithTx(*sqlx.Tx) repository.AccountRepository { return r }

func (r accountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (r accountRepo) FindByTokenHash(_ context.Context, tokenHash string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.TokenHash != nil && *a.TokenHash == tokenHash && a.DisabledAt == nil {
			return &a, nil
		}
	}
	return nil, nil
}

type playlistRepo struct{ s *Store }

func (r playlistRepo) WithTx(*sqlx.Tx) repository.PlaylistRepository { return r }

func (r playlistRepo) FindByID(_ context.Context, id string) (*model.Playlist, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.playlists[id]; ok {
		return &p, nil
	}
	return nil, nil
}

type codeRepo struct{ s *Store }

func (r codeRepo) WithTx(*sqlx.Tx) repository.PairingCodeRepository { return r }

func (r codeRepo) FindByID(_ context.Context, id string) (*model.PairingCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if pc, ok := r.s.codes[id]; ok {
		return &pc, nil
	}
	return nil, nil
}

func (r codeRepo) FindUnexpiredByCode(_ context.Context, code string, now time.Time) (*model.PairingCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, pc := range r.s.codes {
		if pc.Code == code && now.Before(pc.ExpiresAt) {
			return &pc, nil
		}
	}
	return nil, nil
}

func (r codeRepo) newest(match func(model.PairingCode) bool) *model.PairingCode {
	var found *model.PairingCode
	for _, pc := range r.s.codes {
		if !match(pc) {
			continue
		}
		if found == nil || pc.CreatedAt.After(found.CreatedAt) {
			pc := pc
			found = &pc
		}
	}
	return found
}

func (r codeRepo) FindUnexpiredByAccountAndCode(_ context.Context, accountID, code string, now time.Time) (*model.PairingCode, error) {
	if err := r.s.fire(OpFindCode); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.newest(func(pc model.PairingCode) bool {
		return pc.AccountID == accountID && pc.Code == code && now.Before(pc.ExpiresAt)
	}), nil
}

func (r codeRepo) FindCompletableByAccountAndCode(_ context.Context, accountID, code string) (*model.PairingCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.newest(func(pc model.PairingCode) bool {
		return pc.AccountID == accountID && pc.Code == code && pc.IsCompletable()
	}), nil
}

func (r codeRepo) FindActiveByAccountID(_ context.Context, accountID string, now time.Time) ([]model.PairingCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var codes []model.PairingCode
	for _, pc := range r.s.codes {
		if pc.AccountID == accountID && pc.CompletedAt == nil && now.Before(pc.ExpiresAt) {
			codes = append(codes, pc)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].CreatedAt.After(codes[j].CreatedAt) })
	return codes, nil
}

func (r codeRepo) CountActiveByAccountID(_ context.Context, accountID string, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, pc := range r.s.codes {
		if pc.AccountID == accountID && pc.IsClaimable(now) {
			n++
		}
	}
	return n, nil
}

func (r codeRepo) Create(_ context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	if err := r.s.fire(OpCreateCode); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pc := model.PairingCode{
		ID:                  uuid.NewString(),
		Code:                params.Code,
		AccountID:           params.AccountID,
		IntendedDeviceLabel: params.IntendedDeviceLabel,
		IntendedDeviceType:  params.IntendedDeviceType,
		TargetDeviceID:      params.TargetDeviceID,
		CreatedAt:           params.CreatedAt,
		ExpiresAt:           params.ExpiresAt,
	}
	r.s.codes[pc.ID] = pc
	return &pc, nil
}

func (r codeRepo) Link(_ context.Context, id, deviceID string, claimedAt time.Time) (bool, error) {
	if err := r.s.fire(OpLinkCode); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pc, ok := r.s.codes[id]
	if !ok || pc.ClaimedAt != nil {
		return false, nil
	}
	pc.DeviceID = &deviceID
	pc.ClaimedAt = &claimedAt
	r.s.codes[id] = pc
	return true, nil
}

func (r codeRepo) LinkAndComplete(_ context.Context, id, deviceID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pc, ok := r.s.codes[id]
	if !ok || pc.ClaimedAt != nil {
		return false, nil
	}
	pc.DeviceID = &deviceID
	pc.ClaimedAt = &now
	pc.CompletedAt = &now
	r.s.codes[id] = pc
	return true, nil
}

func (r codeRepo) MarkCompleted(_ context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pc, ok := r.s.codes[id]
	if !ok || !pc.IsCompletable() {
		return false, nil
	}
	pc.CompletedAt = &now
	r.s.codes[id] = pc
	return true, nil
}

func (r codeRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, pc := range r.s.codes {
		if pc.ClaimedAt == nil && pc.ExpiresAt.Before(before) {
			delete(r.s.codes, id)
			for did, d := range r.s.devices {
				if d.PairingCodeID != nil && *d.PairingCodeID == id {
					d.PairingCodeID = nil
					r.s.devices[did] = d
				}
			}
			n++
		}
	}
	return n, nil
}

type deviceRepo struct{ s *Store }

func (r deviceRepo) WithTx(*sqlx.Tx) repository.DeviceRepository { return r }

func (r deviceRepo) FindByID(_ context.Context, id string) (*model.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d, ok := r.s.devices[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (r deviceRepo) FindByTokenHash(_ context.Context, tokenHash string) (*model.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.devices {
		if d.TokenHash != nil && *d.TokenHash == tokenHash && d.AccountID != nil {
			return &d, nil
		}
	}
	return nil, nil
}

func matchesStatus(d model.Device, filter model.DeviceFilter) bool {
	if filter.Status == nil {
		return true
	}
	stale := d.LastSeen == nil || d.LastSeen.Before(filter.StaleBefore)
	if *filter.Status == model.DeviceStatusOffline {
		return d.Status == model.DeviceStatusOffline || stale
	}
	return d.Status == *filter.Status && !stale
}

func (r deviceRepo) ListByAccount(_ context.Context, accountID string, filter model.DeviceFilter) ([]model.Device, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []model.Device
	for _, d := range r.s.devices {
		if d.OwnedBy(accountID) && matchesStatus(d, filter) {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r deviceRepo) ListStale(_ context.Context, accountID string, staleBefore time.Time) ([]model.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var stale []model.Device
	for _, d := range r.s.devices {
		if !d.OwnedBy(accountID) || d.Status == model.DeviceStatusOffline {
			continue
		}
		if d.LastSeen == nil || d.LastSeen.Before(staleBefore) {
			stale = append(stale, d)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		a, b := stale[i].LastSeen, stale[j].LastSeen
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	return stale, nil
}

func (r deviceRepo) FindUnlinked(_ context.Context, createdBefore time.Time) ([]model.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	linked := make(map[string]bool)
	for _, pc := range r.s.codes {
		if pc.DeviceID != nil {
			linked[*pc.DeviceID] = true
		}
	}
	var unlinked []model.Device
	for _, d := range r.s.devices {
		if d.OrphanedAt == nil && d.CreatedAt.Before(createdBefore) && !linked[d.ID] {
			unlinked = append(unlinked, d)
		}
	}
	sort.Slice(unlinked, func(i, j int) bool { return unlinked[i].CreatedAt.Before(unlinked[j].CreatedAt) })
	return unlinked, nil
}

func (r deviceRepo) Create(_ context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	if err := r.s.fire(OpCreateDevice); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.devices[params.ID]; ok {
		return nil, repository.ErrDuplicate
	}
	for _, d := range r.s.devices {
		if d.PairingCodeID != nil && *d.PairingCodeID == params.PairingCodeID {
			return nil, repository.ErrDuplicate
		}
		if d.TokenHash != nil && *d.TokenHash == params.TokenHash {
			return nil, repository.ErrDuplicate
		}
	}

	accountID := params.AccountID
	tokenHash := params.TokenHash
	codeID := params.PairingCodeID
	now := params.Now
	caps := params.Capabilities
	if len(caps) == 0 {
		caps = []byte("{}")
	}
	d := model.Device{
		ID:                 params.ID,
		AccountID:          &accountID,
		Name:               params.Name,
		DeviceType:         params.DeviceType,
		Platform:           params.Platform,
		Capabilities:       caps,
		ScreenResolution:   params.ScreenResolution,
		Fingerprint:        params.Fingerprint,
		TokenHash:          &tokenHash,
		PairingCodeID:      &codeID,
		Status:             model.DeviceStatusOnline,
		PlaylistStatus:     model.PlaylistStatusNone,
		PerformanceMetrics: []byte("{}"),
		LastSeen:           &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	r.s.devices[d.ID] = d
	return &d, nil
}

func (r deviceRepo) update(id string, fn func(d *model.Device) bool) (*model.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.devices[id]
	if !ok || !fn(&d) {
		return nil, nil
	}
	r.s.devices[id] = d
	return &d, nil
}

func (r deviceRepo) Reconnect(_ context.Context, id string, params model.ReconnectDeviceParams) (*model.Device, error) {
	if err := r.s.fire(OpReconnect); err != nil {
		return nil, err
	}
	return r.update(id, func(d *model.Device) bool {
		if params.Platform != nil {
			d.Platform = params.Platform
		}
		if params.ScreenResolution != nil {
			d.ScreenResolution = params.ScreenResolution
		}
		if params.Fingerprint != nil {
			d.Fingerprint = params.Fingerprint
		}
		tokenHash := params.TokenHash
		now := params.Now
		d.TokenHash = &tokenHash
		d.Status = model.DeviceStatusOnline
		d.LastSeen = &now
		d.OrphanedAt = nil
		d.UpdatedAt = now
		return true
	})
}

func (r deviceRepo) UpdateDetails(_ context.Context, id string, name, deviceType *string, now time.Time) (*model.Device, error) {
	return r.update(id, func(d *model.Device) bool {
		if name != nil {
			d.Name = *name
		}
		if deviceType != nil {
			d.DeviceType = deviceType
		}
		d.UpdatedAt = now
		return true
	})
}

func (r deviceRepo) RecordHeartbeat(_ context.Context, id string, params model.HeartbeatParams) (*model.Device, error) {
	if err := r.s.fire(OpRecordHeartbeat); err != nil {
		return nil, err
	}
	return r.update(id, func(d *model.Device) bool {
		now := params.Now
		d.Status = params.Status
		d.CurrentMediaID = params.CurrentMediaID
		d.PlaybackProgress = params.Progress
		d.PerformanceMetrics = params.PerformanceMetrics
		if len(d.PerformanceMetrics) == 0 {
			d.PerformanceMetrics = []byte("{}")
		}
		d.LastSeen = &now
		d.OrphanedAt = nil
		d.UpdatedAt = now
		return true
	})
}

func (r deviceRepo) AssignPlaylist(_ context.Context, id string, playlistID *string, now time.Time) (*model.Device, error) {
	return r.update(id, func(d *model.Device) bool {
		d.AssignedPlaylistID = playlistID
		d.PlaylistStatus = model.PlaylistStatusNone
		if playlistID != nil {
			d.PlaylistStatus = model.PlaylistStatusAssigned
		}
		d.UpdatedAt = now
		return true
	})
}

func (r deviceRepo) ApplyControl(_ context.Context, id string, params model.ControlParams) (*model.Device, error) {
	if err := r.s.fire(OpApplyControl); err != nil {
		return nil, err
	}
	return r.update(id, func(d *model.Device) bool {
		if params.Action.RequiresPlaylist() && d.AssignedPlaylistID == nil {
			return false
		}
		if d.AssignedPlaylistID == nil {
			d.PlaylistStatus = model.PlaylistStatusNone
		} else {
			d.PlaylistStatus = params.PlaylistStatus
		}
		action := params.Action
		now := params.Now
		d.LastControlAction = &action
		d.LastControlTime = &now
		d.UpdatedAt = now
		return true
	})
}

func (r deviceRepo) MarkOrphaned(_ context.Context, id string, now time.Time) error {
	if err := r.s.fire(OpMarkOrphaned); err != nil {
		return err
	}
	_, err := r.update(id, func(d *model.Device) bool {
		if d.OrphanedAt != nil {
			return false
		}
		d.OrphanedAt = &now
		d.UpdatedAt = now
		return true
	})
	return err
}

func (r deviceRepo) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.devices[id]; !ok {
		return false, nil
	}
	delete(r.s.devices, id)
	for codeID, pc := range r.s.codes {
		switch {
		case pc.TargetDeviceID != nil && *pc.TargetDeviceID == id:
			delete(r.s.codes, codeID)
		case pc.DeviceID != nil && *pc.DeviceID == id:
			pc.DeviceID = nil
			r.s.codes[codeID] = pc
		}
	}
	kept := r.s.heartbeats[:0]
	for _, hb := range r.s.heartbeats {
		if hb.DeviceID != id {
			kept = append(kept, hb)
		}
	}
	r.s.heartbeats = kept
	return true, nil
}

type heartbeatRepo struct{ s *Store }

func (r heartbeatRepo) WithTx(*sqlx.Tx) repository.HeartbeatRepository { return r }

func (r heartbeatRepo) Create(_ context.Context, deviceID string, params model.HeartbeatParams) error {
	if err := r.s.fire(OpCreateHeartbeat); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextBeatID++
	metrics := params.PerformanceMetrics
	if len(metrics) == 0 {
		metrics = []byte("{}")
	}
	r.s.heartbeats = append(r.s.heartbeats, model.Heartbeat{
		ID:                 r.s.nextBeatID,
		DeviceID:           deviceID,
		Status:             params.Status,
		CurrentMediaID:     params.CurrentMediaID,
		Progress:           params.Progress,
		PerformanceMetrics: metrics,
		CreatedAt:          params.Now,
	})
	return nil
}

func (r heartbeatRepo) ListByDevice(_ context.Context, deviceID string, limit int) ([]model.Heartbeat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var beats []model.Heartbeat
	for i := len(r.s.heartbeats) - 1; i >= 0; i-- {
		if r.s.heartbeats[i].DeviceID == deviceID {
			beats = append(beats, r.s.heartbeats[i])
		}
	}
	sort.SliceStable(beats, func(i, j int) bool { return beats[i].CreatedAt.After(beats[j].CreatedAt) })
	if limit > 0 && len(beats) > limit {
		beats = beats[:limit]
	}
	return beats, nil
}

func (r heartbeatRepo) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	kept := r.s.heartbeats[:0]
	for _, hb := range r.s.heartbeats {
		if hb.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, hb)
	}
	r.s.heartbeats = kept
	return n, nil
}
