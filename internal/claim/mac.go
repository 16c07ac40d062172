package claim

import (
	"regexp"
	"strings"
)

var (
	clientIDPattern = regexp.MustCompile(`^[0-9A-F]{12}$`)
	colonMACPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
)

// NormalizeMAC turns a MAC address in any common notation into the MQTT client id:
// separators stripped, upper case, 12 hex digits.
func NormalizeMAC(mac string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(mac))
	s = strings.NewReplacer(":", "", "-", "", ".", "").Replace(s)
	if !clientIDPattern.MatchString(s) {
		return "", invalid("mac", "must be a 48-bit MAC address")
	}
	return s, nil
}

// FormatMAC renders a client id as AA:BB:CC:DD:EE:FF.
func FormatMAC(clientID string) string {
	if len(clientID) != 12 {
		return clientID
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(clientID[i : i+2])
	}
	return b.String()
}
