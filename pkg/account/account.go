// Package account validates logon credentials for the three logon flows and
// manages GrowID registration and login tokens.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/boltstore"
	"github.com/nova-gt/novaserver/pkg/session"
)

var (
	ErrInvalidCredentials = errors.New("account: invalid name or password")
	ErrInvalidName        = errors.New("account: invalid name")
	ErrNameTaken          = errors.New("account: name already registered")
	ErrBanned             = errors.New("account: banned")
	ErrGuestsDisabled     = errors.New("account: guest logons are disabled")
	ErrTooManyGuests      = errors.New("account: too many guests")
	ErrInvalidToken       = errors.New("account: invalid login token")
	ErrPasswordTooShort   = errors.New("account: password too short")
)

// Name limits for GrowIDs and requested guest names.
const (
	MinNameLen     = 3
	MaxNameLen     = 18
	MinPasswordLen = 8
)

// Options configures a Store.
type Options struct {
	JWTSecret     string
	TokenExpiry   time.Duration
	GuestsEnabled bool
	MaxGuests     int
}

// Store validates credentials against accounts persisted in bbolt.
type Store struct {
	db     *boltstore.Store
	opts   Options
	jwtKey []byte
	guests *GuestManager
	log    *zap.Logger
}

// NewStore creates an account store. If JWTSecret is empty a random key is
// generated, which invalidates issued tokens on restart.
func NewStore(db *boltstore.Store, opts Options, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TokenExpiry <= 0 {
		opts.TokenExpiry = 24 * time.Hour
	}
	secret := opts.JWTSecret
	if secret == "" {
		secret = GenerateJWTSecret()
		log.Warn("jwt_secret not set, login tokens will not survive a restart")
	}
	return &Store{
		db:     db,
		opts:   opts,
		jwtKey: []byte(secret),
		guests: NewGuestManager(opts.MaxGuests),
		log:    log.Named("account"),
	}
}

// Guests returns the guest name tracker.
func (s *Store) Guests() *GuestManager { return s.guests }

// ReleaseGuest frees a guest name when its session ends.
func (s *Store) ReleaseGuest(name string) { s.guests.Release(name) }

// ValidName checks a GrowID or requested guest name.
func ValidName(name string) error {
	if len(name) < MinNameLen || len(name) > MaxNameLen {
		return fmt.Errorf("%w: length must be %d-%d", ErrInvalidName, MinNameLen, MaxNameLen)
	}
	for _, r := range name {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return fmt.Errorf("%w: only letters and digits", ErrInvalidName)
		}
	}
	return nil
}

// ValidateGuest admits a guest under a unique name derived from requestedName.
func (s *Store) ValidateGuest(ctx context.Context, requestedName string) (session.Identity, error) {
	if err := ctx.Err(); err != nil {
		return session.Identity{}, err
	}
	if !s.opts.GuestsEnabled {
		return session.Identity{}, ErrGuestsDisabled
	}
	if err := ValidName(requestedName); err != nil {
		return session.Identity{}, err
	}
	name, err := s.guests.Acquire(requestedName)
	if err != nil {
		return session.Identity{}, err
	}
	return session.Identity{Name: name, Guest: true}, nil
}

// ValidateRegistered checks a GrowID and password. Legacy DES hashes are
// upgraded to bcrypt on successful logon.
func (s *Store) ValidateRegistered(ctx context.Context, name, password string) (session.Identity, error) {
	if err := ctx.Err(); err != nil {
		return session.Identity{}, err
	}
	a, err := s.db.GetAccountByName(name)
	if errors.Is(err, boltstore.ErrNotFound) {
		return session.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return session.Identity{}, fmt.Errorf("account: lookup %q: %w", name, err)
	}
	if !CheckPassword(password, a.PassHash) {
		return session.Identity{}, ErrInvalidCredentials
	}
	if a.Banned {
		return session.Identity{}, ErrBanned
	}

	if !isBcrypt(a.PassHash) {
		if hash, err := HashPassword(password); err == nil {
			a.PassHash = hash
			s.log.Info("upgraded legacy password hash", zap.String("account", a.Name))
		}
	}
	a.LastLogon = time.Now()
	if err := s.db.PutAccount(a); err != nil {
		s.log.Warn("update account", zap.String("account", a.Name), zap.Error(err))
	}
	return session.Identity{UserID: a.ID, Name: a.Name}, nil
}

// ValidateToken checks an ltoken issued by IssueToken and that its account
// still exists and is not banned.
func (s *Store) ValidateToken(ctx context.Context, ltoken string) (session.Identity, error) {
	if err := ctx.Err(); err != nil {
		return session.Identity{}, err
	}
	claims, err := s.parseToken(ltoken)
	if err != nil {
		return session.Identity{}, err
	}
	a, err := s.db.GetAccount(claims.AccountID)
	if errors.Is(err, boltstore.ErrNotFound) {
		return session.Identity{}, fmt.Errorf("%w: unknown account", ErrInvalidToken)
	}
	if err != nil {
		return session.Identity{}, fmt.Errorf("account: lookup #%d: %w", claims.AccountID, err)
	}
	if a.Banned {
		return session.Identity{}, ErrBanned
	}
	return session.Identity{UserID: a.ID, Name: a.Name}, nil
}

// Login checks a name and password and returns a fresh ltoken.
func (s *Store) Login(ctx context.Context, name, password string) (string, error) {
	id, err := s.ValidateRegistered(ctx, name, password)
	if err != nil {
		return "", err
	}
	return s.IssueToken(id.UserID, id.Name)
}

// Register creates a GrowID.
func (s *Store) Register(ctx context.Context, name, password, email string) (*boltstore.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidName(name); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLen {
		return nil, ErrPasswordTooShort
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("account: hash password: %w", err)
	}
	a := &boltstore.Account{Name: name, PassHash: hash, Email: email}
	if err := s.db.CreateAccount(a); err != nil {
		if errors.Is(err, boltstore.ErrExists) {
			return nil, ErrNameTaken
		}
		return nil, err
	}
	s.log.Info("account registered", zap.String("account", name), zap.Uint64("id", a.ID))
	return a, nil
}

// SetBanned toggles the banned flag of an account.
func (s *Store) SetBanned(name string, banned bool) error {
	a, err := s.db.GetAccountByName(name)
	if err != nil {
		return err
	}
	a.Banned = banned
	return s.db.PutAccount(a)
}
