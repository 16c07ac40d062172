package claim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

// ClaimingModeTTL is how long a claiming-mode announcement stays visible.
const ClaimingModeTTL = 10 * time.Minute

// ClaimingMode records that a device entered claiming mode (physical button) so discovery
// screens can show its MAC. Repeated announcements refresh the expiry.
func (s *Service) ClaimingMode(ctx context.Context, mac string, serial, ip *string) (time.Time, error) {
	clientID, err := NormalizeMAC(mac)
	if err != nil {
		return time.Time{}, err
	}
	now := s.now().UTC()
	entry := &models.ClaimingQueueEntry{
		MACAddress: FormatMAC(clientID),
		Serial:     trimmed(serial),
		IP:         trimmed(ip),
		ExpiresAt:  now.Add(ClaimingModeTTL),
		CreatedAt:  now,
	}
	if err := s.store.UpsertClaimingQueueEntry(ctx, entry); err != nil {
		return time.Time{}, fmt.Errorf("record claiming mode: %w", err)
	}
	return entry.ExpiresAt, nil
}

// ListClaimingQueue returns unexpired announcements, newest first.
func (s *Service) ListClaimingQueue(ctx context.Context) ([]*models.ClaimingQueueEntry, error) {
	entries, err := s.store.ListClaimingQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("list claiming queue: %w", err)
	}
	return entries, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
