package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2Params struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLength: 32, SaltLength: 16}
}

// Hasher stores passwords as "base64(salt)$base64(argon2id key)".
type Hasher struct {
	params Argon2Params
}

func NewHasher(p Argon2Params) *Hasher {
	d := DefaultArgon2Params()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.Memory == 0 {
		p.Memory = d.Memory
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	if p.KeyLength == 0 {
		p.KeyLength = d.KeyLength
	}
	if p.SaltLength == 0 {
		p.SaltLength = d.SaltLength
	}
	return &Hasher{params: p}
}

func (h *Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := h.key(password, salt)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func (h *Hasher) VerifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(hash, h.key(password, salt)) == 1
}

func (h *Hasher) key(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLength)
}
