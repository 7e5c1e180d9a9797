package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"
)

const (
	verifierInfo  = "passvault:verifier:v1"
	recordKeyInfo = "passvault:record-key:v1"
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// Normalize applies NFKC so that visually identical master passwords typed
// on different keyboards derive the same key.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	key := argon2.IDKey([]byte(Normalize(passphrase)), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

// MasterKeys are the two independent subkeys derived from a master password.
// Verifier is stored to authenticate the password; RecordKey encrypts
// credential passwords and is never stored.
type MasterKeys struct {
	Verifier  []byte
	RecordKey []byte
}

// Wipe zeroes both subkeys.
func (k *MasterKeys) Wipe() {
	WipeBytes(k.Verifier)
	WipeBytes(k.RecordKey)
}

// DeriveMasterKeys stretches the master password with Argon2id and splits the
// result with HKDF-SHA256.
func DeriveMasterKeys(masterPassword string, salt []byte, params Argon2idParams) (*MasterKeys, error) {
	root, err := DeriveArgon2idKey(masterPassword, salt, params)
	if err != nil {
		return nil, err
	}
	defer WipeBytes(root)

	verifier, err := expand(root, salt, verifierInfo)
	if err != nil {
		return nil, err
	}
	recordKey, err := expand(root, salt, recordKeyInfo)
	if err != nil {
		WipeBytes(verifier)
		return nil, err
	}
	return &MasterKeys{Verifier: verifier, RecordKey: recordKey}, nil
}

// VerifierMatches compares two verifiers in constant time.
func VerifierMatches(got, want []byte) bool {
	return subtle.ConstantTimeCompare(got, want) == 1
}

func expand(seed, salt []byte, info string) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, []byte(info))
	k := make([]byte, AESKeySize)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
