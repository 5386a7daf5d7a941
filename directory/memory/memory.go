// Package memory is an in-process goIdentity.UserDirectory for tests, demos and
// single-node deployments. Records are partitioned by the tenant carried in the
// context.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// ErrDuplicateEmail is returned by Put when another user already owns the email.
var ErrDuplicateEmail = errors.New("email already registered")

type tenantKey struct {
	tenant string
	email  string
}

// Directory is safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	byEmail map[tenantKey]*goIdentity.UserRecord
	byID    map[tenantKey]*goIdentity.UserRecord
}

func New() *Directory {
	return &Directory{
		byEmail: make(map[tenantKey]*goIdentity.UserRecord),
		byID:    make(map[tenantKey]*goIdentity.UserRecord),
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Put inserts or replaces the record with rec.UserID in the tenant of ctx.
func (d *Directory) Put(ctx context.Context, rec goIdentity.UserRecord) error {
	if rec.UserID == "" || rec.Email == "" {
		return errors.New("user id and email are required")
	}
	if rec.Profile != nil && rec.Role != "" && rec.Profile.Role() != rec.Role {
		return errors.New("profile does not match role")
	}
	tenant := goIdentity.TenantID(ctx)
	rec.Email = normalize(rec.Email)

	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.byEmail[tenantKey{tenant, rec.Email}]; ok && owner.UserID != rec.UserID {
		return ErrDuplicateEmail
	}
	if prev, ok := d.byID[tenantKey{tenant, rec.UserID}]; ok && prev.Email != rec.Email {
		delete(d.byEmail, tenantKey{tenant, prev.Email})
	}
	stored := rec
	d.byEmail[tenantKey{tenant, rec.Email}] = &stored
	d.byID[tenantKey{tenant, rec.UserID}] = &stored
	return nil
}

// Get returns a copy of the record with userID.
func (d *Directory) Get(ctx context.Context, userID string) (goIdentity.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.byID[tenantKey{goIdentity.TenantID(ctx), userID}]
	if !ok {
		return goIdentity.UserRecord{}, goIdentity.ErrUserNotFound
	}
	return *rec, nil
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (goIdentity.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.byEmail[tenantKey{goIdentity.TenantID(ctx), normalize(email)}]
	if !ok {
		return goIdentity.UserRecord{}, goIdentity.ErrUserNotFound
	}
	return *rec, nil
}

func (d *Directory) MarkVerified(ctx context.Context, userID string) error {
	return d.update(ctx, userID, func(rec *goIdentity.UserRecord) { rec.Verified = true })
}

func (d *Directory) UpdatePassword(ctx context.Context, userID, hash string) error {
	return d.update(ctx, userID, func(rec *goIdentity.UserRecord) { rec.PasswordHash = hash })
}

func (d *Directory) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return d.update(ctx, userID, func(rec *goIdentity.UserRecord) {
		rec.LastLogin = at
		rec.LoginCount++
	})
}

func (d *Directory) update(ctx context.Context, userID string, fn func(*goIdentity.UserRecord)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.byID[tenantKey{goIdentity.TenantID(ctx), userID}]
	if !ok {
		return goIdentity.ErrUserNotFound
	}
	fn(rec)
	return nil
}

var _ goIdentity.UserDirectory = (*Directory)(nil)
