package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Ledger records which jobs of one session have already been included in a page
type Ledger interface {
	HasBeenPaged(ctx context.Context, jobID string) (bool, error)
	MarkPaged(ctx context.Context, jobID string, page int) error
	PagedJobs(ctx context.Context) ([]string, error)
}

// LedgerProvider opens the ledger of a session. listing is the session
// listing the caller already holds; providers that keep markers elsewhere
// ignore it.
type LedgerProvider interface {
	Open(ctx context.Context, user, session string, listing []Object) (Ledger, error)
}

// ObjectLedgerProvider keeps paged markers as objects next to the snapshots
type ObjectLedgerProvider struct {
	store ObjectStore
}

// NewObjectLedgerProvider creates a marker-object ledger provider
func NewObjectLedgerProvider(store ObjectStore) *ObjectLedgerProvider {
	return &ObjectLedgerProvider{store: store}
}

// Open builds the ledger from the marker keys present in listing
func (p *ObjectLedgerProvider) Open(_ context.Context, user, session string, listing []Object) (Ledger, error) {
	prefix := SessionPrefix(user, session)
	ledger := &ObjectLedger{
		store:   p.store,
		user:    user,
		session: session,
		paged:   make(map[string]struct{}),
	}
	for _, obj := range listing {
		if parsed := ParseSessionKey(prefix, obj.Key); parsed.Kind == KindPaged {
			ledger.paged[parsed.JobID] = struct{}{}
		}
	}
	return ledger, nil
}

// ObjectLedger is the marker-object ledger of one session
type ObjectLedger struct {
	store   ObjectStore
	user    string
	session string

	mu    sync.Mutex
	paged map[string]struct{}
}

// HasBeenPaged reports whether a marker exists for jobID
func (l *ObjectLedger) HasBeenPaged(_ context.Context, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.paged[jobID]
	return ok, nil
}

// MarkPaged writes the marker for jobID; its body is the page number
func (l *ObjectLedger) MarkPaged(ctx context.Context, jobID string, page int) error {
	key := PagedKey(l.user, l.session, jobID)
	if err := l.store.Put(ctx, key, []byte(strconv.Itoa(page))); err != nil {
		return errors.Wrapf(err, "mark job %s paged", jobID)
	}
	l.mu.Lock()
	l.paged[jobID] = struct{}{}
	l.mu.Unlock()
	return nil
}

// PagedJobs returns every marked job id in order
func (l *ObjectLedger) PagedJobs(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.paged))
	for id := range l.paged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
