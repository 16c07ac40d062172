package claim

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/store"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
)

const (
	// codeAlphabet omits I, L, O, 0 and 1.
	codeAlphabet     = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength       = 8
	maxCodeAttempts  = 5
	maxDeviceNameLen = 100

	// ClaimCodeTTL is how long an issued code can be redeemed.
	ClaimCodeTTL = 7 * 24 * time.Hour
)

// IssueClaimCode creates a single-use code that binds the next device to redeem it to
// tenantID under deviceName.
func (s *Service) IssueClaimCode(ctx context.Context, tenantID uuid.UUID, deviceName string, createdBy *uuid.UUID) (*models.ClaimCode, error) {
	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		return nil, invalid("deviceName", "is required")
	}
	if len(deviceName) > maxDeviceNameLen {
		return nil, invalid("deviceName", fmt.Sprintf("must be at most %d characters", maxDeviceNameLen))
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && tenant.Deleted()) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up tenant: %w", err)
	}

	now := s.now().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}
		cc := &models.ClaimCode{
			ID:         uuid.New(),
			Code:       code,
			TenantID:   tenantID,
			DeviceName: deviceName,
			Status:     models.ClaimCodeActive,
			ExpiresAt:  now.Add(ClaimCodeTTL),
			CreatedBy:  createdBy,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err = s.store.CreateClaimCode(ctx, cc)
		if errors.Is(err, store.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create claim code: %w", err)
		}
		return cc, nil
	}
	return nil, fmt.Errorf("create claim code: no unique code after %d attempts", maxCodeAttempts)
}

func generateCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate claim code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
