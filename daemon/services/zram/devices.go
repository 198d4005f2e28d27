package zram

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
)

// AddDevice appends a new device to the configuration and reconciles.
// index must not already be in use.
func (m *Manager) AddDevice(ctx context.Context, d dto.ZramDevice) (dto.ZramConfig, error) {
	m.mu.Lock()
	next := cloneConfig(m.config)
	m.mu.Unlock()

	for _, existing := range next.Devices {
		if existing.Index == d.Index {
			return dto.ZramConfig{}, fmt.Errorf("zram index %d already configured", d.Index)
		}
	}
	if d.ID == "" {
		id, err := generateID()
		if err != nil {
			return dto.ZramConfig{}, err
		}
		d.ID = id
	}
	next.Devices = append(next.Devices, d)
	if next.ZramDevices <= d.Index {
		next.ZramDevices = d.Index + 1
	}

	if err := m.ApplyConfig(ctx, next); err != nil {
		return dto.ZramConfig{}, err
	}
	return m.GetConfig(), nil
}

// UpdateDevice applies changes to an existing device by id, rejecting any
// attempt to change its id, index, or uuid (spec.md 4.J: those fields are
// immutable once set).
func (m *Manager) UpdateDevice(ctx context.Context, id string, changes dto.ZramDevice) (dto.ZramConfig, error) {
	m.mu.Lock()
	next := cloneConfig(m.config)
	m.mu.Unlock()

	found := false
	for i := range next.Devices {
		if next.Devices[i].ID != id {
			continue
		}
		found = true
		current := next.Devices[i]
		if changes.Index != current.Index {
			return dto.ZramConfig{}, fmt.Errorf("device %s: index is immutable", id)
		}
		if changes.UUID != "" && current.UUID != "" && changes.UUID != current.UUID {
			return dto.ZramConfig{}, fmt.Errorf("device %s: uuid is immutable", id)
		}
		updated := changes
		updated.ID = current.ID
		updated.Index = current.Index
		if updated.UUID == "" {
			updated.UUID = current.UUID
		}
		next.Devices[i] = updated
	}
	if !found {
		return dto.ZramConfig{}, fmt.Errorf("no zram device with id %s", id)
	}

	if err := m.ApplyConfig(ctx, next); err != nil {
		return dto.ZramConfig{}, err
	}
	return m.GetConfig(), nil
}

// DeleteDevice removes a device by id and reconciles the smaller
// configuration (its kernel device is torn down and shrunk away).
func (m *Manager) DeleteDevice(ctx context.Context, id string) (dto.ZramConfig, error) {
	m.mu.Lock()
	next := cloneConfig(m.config)
	m.mu.Unlock()

	kept := make([]dto.ZramDevice, 0, len(next.Devices))
	found := false
	for _, d := range next.Devices {
		if d.ID == id {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return dto.ZramConfig{}, fmt.Errorf("no zram device with id %s", id)
	}
	next.Devices = kept

	if err := m.ApplyConfig(ctx, next); err != nil {
		return dto.ZramConfig{}, err
	}
	return m.GetConfig(), nil
}

func cloneConfig(cfg dto.ZramConfig) dto.ZramConfig {
	out := dto.ZramConfig{Enabled: cfg.Enabled, ZramDevices: cfg.ZramDevices}
	out.Devices = append(out.Devices, cfg.Devices...)
	return out
}

func generateID() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "zd-" + hex.EncodeToString(raw), nil
}
