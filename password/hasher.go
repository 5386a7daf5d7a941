package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrUnsupportedHash is returned for stored hashes in an unknown format.
	ErrUnsupportedHash = errors.New("unsupported password hash format")
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password is empty")
)

// Config holds the argon2id cost parameters used for new hashes.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the argon2id parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher produces argon2id PHC strings and verifies both argon2id and legacy bcrypt
// hashes. Legacy hashes always report NeedsRehash so they migrate on next login.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return &Hasher{config: cfg}, nil
}

// Hash returns the PHC encoding of an argon2id hash of password:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Password bytes are used exactly as provided (no Unicode normalization).
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.config.Memory, h.config.Time, h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares password against encoded in constant time. needsRehash is true
// when the stored hash is legacy bcrypt or uses weaker argon2id parameters than the
// current configuration.
func (h *Hasher) Verify(password, encoded string) (ok bool, needsRehash bool, err error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return true, true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, false, nil
		default:
			return false, false, fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
		}
	}

	p, err := decodePHC(encoded)
	if err != nil {
		return false, false, err
	}
	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	if subtle.ConstantTimeCompare(computed, p.key) != 1 {
		return false, false, nil
	}
	return true, h.weakerThanConfig(p), nil
}

func (h *Hasher) weakerThanConfig(p *phc) bool {
	return h.config.Memory > p.memory ||
		h.config.Time > p.time ||
		h.config.Parallelism > p.parallelism ||
		h.config.KeyLength != uint32(len(p.key))
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func decodePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrUnsupportedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: argon2 version %q", ErrUnsupportedHash, parts[2])
	}

	p := &phc{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return nil, fmt.Errorf("%w: parameters %q", ErrUnsupportedHash, parts[3])
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || p.parallelism < minParallelism {
		return nil, fmt.Errorf("%w: parameters below minimum", ErrUnsupportedHash)
	}

	var err error
	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrUnsupportedHash)
	}
	if p.key, err = decodeB64(parts[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("%w: key", ErrUnsupportedHash)
	}
	return p, nil
}

// decodeB64 accepts both the unpadded PHC encoding and padded standard base64.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
