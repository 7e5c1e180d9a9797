package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/passvault/internal/util"
	"github.com/jmcleod/passvault/internal/uuid"
	"github.com/jmcleod/passvault/vault"
)

var (
	errEmailTaken          = errors.New("email already registered")
	errAccountNotFound     = errors.New("account not found")
	errRecordNotFound      = errors.New("record not found")
	errInvalidVerification = errors.New("invalid or expired verification token")
	errWrongMasterPassword = errors.New("master password does not match")
)

const (
	saltLen              = 16
	verificationTokenLen = 24
)

// account is a registered user. Only the argon2id-derived verifier and its
// salt are kept; the master password itself is never stored.
type account struct {
	ID          string
	Email       string
	Salt        []byte
	Verifier    []byte
	Verified    bool
	VerifyToken string
	CreatedAt   time.Time
}

// storedRecord is a credential sealed with the owner's record key.
type storedRecord struct {
	vault.Record
	OwnerID string
	Sealed  []byte
	seq     uint64
}

// store holds accounts and records in memory.
type store struct {
	mu       sync.RWMutex
	params   util.Argon2idParams
	accounts map[string]*account // by email
	byID     map[string]*account
	tokens   map[string]string // verification token -> email
	records  map[string]*storedRecord
	nextSeq  uint64
	now      func() time.Time
}

func newStore(params util.Argon2idParams, now func() time.Time) *store {
	return &store{
		params:   params,
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		tokens:   make(map[string]string),
		records:  make(map[string]*storedRecord),
		now:      now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// createAccount registers email and returns the verification token.
func (s *store) createAccount(email, masterPassword string, verified bool) (*account, error) {
	email = normalizeEmail(email)

	s.mu.RLock()
	_, exists := s.accounts[email]
	s.mu.RUnlock()
	if exists {
		return nil, errEmailTaken
	}

	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return nil, err
	}
	keys, err := util.DeriveMasterKeys(masterPassword, salt, s.params)
	if err != nil {
		return nil, fmt.Errorf("deriving master keys: %w", err)
	}
	defer keys.Wipe()

	token, err := util.RandomChars(verificationTokenLen)
	if err != nil {
		return nil, err
	}
	acct := &account{
		ID:          uuid.New(),
		Email:       email,
		Salt:        salt,
		Verifier:    util.CopyBytes(keys.Verifier),
		Verified:    verified,
		VerifyToken: token,
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		return nil, errEmailTaken
	}
	s.accounts[email] = acct
	s.byID[acct.ID] = acct
	if !verified {
		s.tokens[token] = email
	}
	return acct, nil
}

func (s *store) verifyEmail(token string) (*account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.tokens[token]
	if !ok {
		return nil, errInvalidVerification
	}
	delete(s.tokens, token)
	acct := s.accounts[email]
	acct.Verified = true
	return acct, nil
}

func (s *store) accountByEmail(email string) (*account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[normalizeEmail(email)]
	if !ok {
		return nil, errAccountNotFound
	}
	return acct, nil
}

func (s *store) accountByID(id string) (*account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return nil, errAccountNotFound
	}
	return acct, nil
}

// unlock derives the account's keys from masterPassword and checks them
// against the stored verifier. The caller must Wipe the result.
func (s *store) unlock(acct *account, masterPassword string) (*util.MasterKeys, error) {
	keys, err := util.DeriveMasterKeys(masterPassword, acct.Salt, s.params)
	if err != nil {
		return nil, fmt.Errorf("deriving master keys: %w", err)
	}
	if !util.VerifierMatches(keys.Verifier, acct.Verifier) {
		keys.Wipe()
		return nil, errWrongMasterPassword
	}
	return keys, nil
}

// addRecord seals password under the owner's record key.
func (s *store) addRecord(owner *account, keys *util.MasterKeys, req vault.NewRecord) (*vault.Record, error) {
	rec := vault.Record{
		ID:        uuid.New(),
		AppName:   strings.TrimSpace(req.AppName),
		LoginURL:  strings.TrimSpace(req.LoginURL),
		Username:  strings.TrimSpace(req.Username),
		CreatedAt: vault.Timestamp{Time: s.now().UTC()},
	}
	sealed, err := util.EncryptAESWithAAD([]byte(req.Password), keys.RecordKey, []byte(rec.ID))
	if err != nil {
		return nil, fmt.Errorf("sealing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.records[rec.ID] = &storedRecord{Record: rec, OwnerID: owner.ID, Sealed: sealed, seq: s.nextSeq}
	return &rec, nil
}

func (s *store) listRecords(ownerID string) []vault.Record {
	s.mu.RLock()
	owned := make([]*storedRecord, 0)
	for _, r := range s.records {
		if r.OwnerID == ownerID {
			owned = append(owned, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool { return owned[i].seq < owned[j].seq })
	out := make([]vault.Record, len(owned))
	for i, r := range owned {
		out[i] = r.Record
	}
	return out
}

// record returns ownerID's record. Records owned by someone else are
// reported as not found.
func (s *store) record(ownerID, id string) (*storedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok || r.OwnerID != ownerID {
		return nil, fmt.Errorf("%s: %w", id, errRecordNotFound)
	}
	return r, nil
}

// reveal decrypts a record's password. The caller must wipe the result.
func (s *store) reveal(r *storedRecord, keys *util.MasterKeys) ([]byte, error) {
	plain, err := util.DecryptAESWithAAD(r.Sealed, keys.RecordKey, []byte(r.ID))
	if err != nil {
		return nil, fmt.Errorf("opening record %s: %w", r.ID, err)
	}
	return plain, nil
}
