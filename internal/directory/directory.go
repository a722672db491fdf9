// Package directory caches the tenant's identity list for recipient
// resolution. The cache is an immutable snapshot swapped atomically on
// reload, so scoring reads never observe a partially loaded directory.
package directory

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// Lister is the subset of the graph source the directory needs.
type Lister interface {
	ListUsers(ctx context.Context) ([]core.GraphUser, error)
}

// Directory resolves recipient identities to display names and domains.
type Directory struct {
	source     Lister
	snapshot   atomic.Pointer[map[string]core.UserRecord]
	emailIndex atomic.Pointer[map[string]string]
	logger     *zap.Logger
}

// New creates an empty directory backed by source.
func New(source Lister, logger *zap.Logger) *Directory {
	d := &Directory{source: source, logger: logger}
	empty := make(map[string]core.UserRecord)
	d.snapshot.Store(&empty)
	emptyIndex := make(map[string]string)
	d.emailIndex.Store(&emptyIndex)
	return d
}

// Reload fetches the full identity list and swaps it in wholesale. On failure
// the previous snapshot stays active and the error is returned.
func (d *Directory) Reload(ctx context.Context) error {
	users, err := d.source.ListUsers(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]core.UserRecord, len(users))
	for _, user := range users {
		if user.ID == "" {
			continue
		}
		email := user.Address()
		next[user.ID] = core.UserRecord{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			Email:       email,
			Domain:      domainOf(email),
			UserType:    userTypeOrMember(user.UserType),
		}
	}

	index := make(map[string]string, len(next))
	for id, record := range next {
		if record.Email != "" {
			index[strings.ToLower(record.Email)] = id
		}
	}

	d.snapshot.Store(&next)
	d.emailIndex.Store(&index)
	d.logger.Info("Identity directory reloaded", zap.Int("users", len(next)))
	return nil
}

// Get returns the record for userID, if known.
func (d *Directory) Get(userID string) (core.UserRecord, bool) {
	record, ok := (*d.snapshot.Load())[userID]
	return record, ok
}

// ResolveEmail returns the record whose address matches email, if any.
func (d *Directory) ResolveEmail(email string) (core.UserRecord, bool) {
	id, ok := (*d.emailIndex.Load())[strings.ToLower(email)]
	if !ok {
		return core.UserRecord{}, false
	}
	return d.Get(id)
}

// Count reports the number of cached identities.
func (d *Directory) Count() int {
	return len(*d.snapshot.Load())
}

// Records returns the cached records for the given user ids, skipping unknown
// ids.
func (d *Directory) Records(userIDs []string) []core.UserRecord {
	snapshot := *d.snapshot.Load()
	out := make([]core.UserRecord, 0, len(userIDs))
	for _, id := range userIDs {
		if record, ok := snapshot[id]; ok {
			out = append(out, record)
		}
	}
	return out
}

func domainOf(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return strings.ToLower(email[at+1:])
	}
	return ""
}

func userTypeOrMember(userType string) string {
	if userType == "" {
		return "Member"
	}
	return userType
}
