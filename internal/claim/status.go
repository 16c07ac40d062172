package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/trapfleet/internal/store"
)

// ClaimCheck is the answer to a device polling after it showed a claim code.
type ClaimCheck struct {
	Claimed     bool         `json:"claimed"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// CheckClaimStatus reports whether the MAC has been claimed and, if so, hands back the
// stored credentials so the polling device can finish setup.
func (s *Service) CheckClaimStatus(ctx context.Context, mac string) (*ClaimCheck, error) {
	clientID, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDeviceByClientID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return &ClaimCheck{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up device: %w", err)
	}
	if !d.Live() {
		return &ClaimCheck{}, nil
	}
	return &ClaimCheck{Claimed: true, Credentials: s.credentials(d, d.MQTTPassword)}, nil
}

// ClaimStatus is the lightweight poll a claimed device runs. It returns ErrDeviceRevoked when
// the device's latest row is soft-deleted, telling it to stop retrying and re-enter setup.
func (s *Service) ClaimStatus(ctx context.Context, mac string) (bool, error) {
	clientID, err := NormalizeMAC(mac)
	if err != nil {
		return false, err
	}
	d, err := s.store.GetDeviceByClientID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up device: %w", err)
	}
	if !d.Live() {
		return false, ErrDeviceRevoked
	}
	return true, nil
}
