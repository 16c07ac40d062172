package claim

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ClaimTokenMaxSkew bounds |now - timestamp| for a device-signed claim token. The bound is
// inclusive.
const ClaimTokenMaxSkew = 300 * time.Second

// SignClaimToken computes hex(HMAC-SHA256(secret, mac + ":" + timestamp)), the assertion a
// device's setup portal sends with a self-registration.
func SignClaimToken(secret, mac string, timestamp int64) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(mac + ":" + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// verifyClaimToken accepts a token signed with the current or the previous secret.
func (s *Service) verifyClaimToken(mac, token string, timestamp int64) error {
	skew := s.now().Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > ClaimTokenMaxSkew {
		return ErrInvalidClaimToken
	}

	got, err := hex.DecodeString(strings.ToLower(token))
	if err != nil {
		return ErrInvalidClaimToken
	}
	for _, secret := range []string{s.cfg.HMACSecret, s.cfg.HMACPreviousSecret} {
		if secret == "" {
			continue
		}
		want, _ := hex.DecodeString(SignClaimToken(secret, mac, timestamp))
		if hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrInvalidClaimToken
}
