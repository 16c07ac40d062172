package credstore

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// Mosquitto "$7$" entries: PBKDF2-HMAC-SHA512, base64 salt and key.
const (
	hashIterations = 101
	saltLen        = 12
	keyLen         = 64
)

var ErrInvalidUsername = errors.New("username must be non-empty and must not contain ':' or newlines")

// Credential is one broker account.
type Credential struct {
	Username string
	Password string
}

// PasswordFile owns the broker's password file. Every mutation rewrites the whole file through
// a temp file and rename, so the broker never reads a half-written file.
type PasswordFile struct {
	path string
	mu   sync.Mutex
}

func NewPasswordFile(path string) *PasswordFile {
	return &PasswordFile{path: path}
}

func (f *PasswordFile) Path() string { return f.path }

// Upsert adds or replaces the given accounts in one write.
func (f *PasswordFile) Upsert(creds ...Credential) error {
	for _, c := range creds {
		if !validUsername(c.Username) {
			return ErrInvalidUsername
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return err
	}
	for _, c := range creds {
		line, err := hashPassword(c.Password)
		if err != nil {
			return err
		}
		entries[c.Username] = line
	}
	return f.write(entries)
}

// Remove deletes an account. Removing an absent account is not an error.
func (f *PasswordFile) Remove(username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := entries[username]; !ok {
		return nil
	}
	delete(entries, username)
	return f.write(entries)
}

// Reconcile upserts creds and drops every device account that is neither in creds nor kept,
// in one write. Accounts that are not device-shaped are left alone. It returns the removed names.
func (f *PasswordFile) Reconcile(creds []Credential, keep func(username string) bool) ([]string, error) {
	for _, c := range creds {
		if !validUsername(c.Username) {
			return nil, ErrInvalidUsername
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return nil, err
	}
	synced := make(map[string]bool, len(creds))
	for _, c := range creds {
		line, err := hashPassword(c.Password)
		if err != nil {
			return nil, err
		}
		entries[c.Username] = line
		synced[c.Username] = true
	}

	var removed []string
	for name := range entries {
		if synced[name] || !IsDeviceUsername(name) || (keep != nil && keep(name)) {
			continue
		}
		delete(entries, name)
		removed = append(removed, name)
	}
	sort.Strings(removed)

	if len(creds) == 0 && len(removed) == 0 {
		return nil, nil
	}
	return removed, f.write(entries)
}

// IsDeviceUsername reports whether username has the shape of a device account: a MAC as
// twelve upper-case hex digits.
func IsDeviceUsername(username string) bool {
	if len(username) != 12 {
		return false
	}
	for _, r := range username {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}

func (f *PasswordFile) verify(username, password string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return false, err
	}
	stored, ok := entries[username]
	if !ok {
		return false, nil
	}
	return checkPassword(stored, password), nil
}

func (f *PasswordFile) usernames() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *PasswordFile) read() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read password file: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		entries[user] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan password file: %w", err)
	}
	return entries, nil
}

func (f *PasswordFile) write(entries map[string]string) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte(':')
		buf.WriteString(entries[name])
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".passwd-*")
	if err != nil {
		return fmt.Errorf("create temp password file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp password file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp password file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp password file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp password file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace password file: %w", err)
	}
	return nil
}

func validUsername(u string) bool {
	return u != "" && !strings.ContainsAny(u, ":\r\n")
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return formatHash(password, salt), nil
}

func formatHash(password string, salt []byte) string {
	key := pbkdf2.Key([]byte(password), salt, hashIterations, keyLen, sha512.New)
	return fmt.Sprintf("$7$%d$%s$%s", hashIterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key))
}

func checkPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	// "", "7", iterations, salt, key
	if len(parts) != 5 || parts[1] != "7" {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
