package pagination

import (
	"context"
	"encoding/json"
	"sort"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/monitoring"
	"foqus-orchestrator/storage"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrLedgerInconsistent is returned when the ledger names jobs with no finished snapshot
	ErrLedgerInconsistent = errors.New("paged ledger references jobs without a finished snapshot")
	// ErrPageConflict is returned when every attempt lost the next page number to another request
	ErrPageConflict = errors.New("result page number taken by a concurrent request")
	// ErrPageNotFound is returned by GetPage for a page that was never written
	ErrPageNotFound = errors.New("result page not found")
)

// DefaultPageAttempts is used when no attempt limit is configured
const DefaultPageAttempts = 3

// Paginator groups finished jobs into numbered result pages
type Paginator struct {
	objects  storage.ObjectStore
	ledgers  storage.LedgerProvider
	metrics  *monitoring.Collector
	attempts int
}

// NewPaginator creates a paginator
func NewPaginator(objects storage.ObjectStore, ledgers storage.LedgerProvider, metrics *monitoring.Collector, attempts int) *Paginator {
	if attempts < 1 {
		attempts = DefaultPageAttempts
	}
	return &Paginator{
		objects:  objects,
		ledgers:  ledgers,
		metrics:  metrics,
		attempts: attempts,
	}
}

// RequestPage writes a page holding every finished job not yet paged and
// returns its number. When nothing new has finished it returns the number of
// the latest page, zero if there is none.
func (p *Paginator) RequestPage(ctx context.Context, user, session string) (int, error) {
	logger := log.WithFields(log.Fields{"user": user, "session": session})
	for attempt := 1; attempt <= p.attempts; attempt++ {
		n, err := p.requestPage(ctx, user, session)
		if !errors.Is(err, storage.ErrExists) {
			return n, err
		}
		p.metrics.RecordPageConflict()
		logger.WithField("attempt", attempt).Warn("Page number taken by a concurrent request, retrying")
	}
	return 0, ErrPageConflict
}

// sessionListing is one listing of a session prefix split by key kind
type sessionListing struct {
	objects   []storage.Object
	pageCount int
	finished  map[string]storage.ParsedKey
}

func (p *Paginator) list(ctx context.Context, user, session string) (*sessionListing, error) {
	prefix := storage.SessionPrefix(user, session)
	objects, err := p.objects.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "list session %s", session)
	}

	listing := &sessionListing{objects: objects, finished: make(map[string]storage.ParsedKey)}
	for _, obj := range objects {
		parsed := storage.ParseSessionKey(prefix, obj.Key)
		switch parsed.Kind {
		case storage.KindPage:
			if parsed.Page > listing.pageCount {
				listing.pageCount = parsed.Page
			}
		case storage.KindFinished:
			listing.finished[parsed.JobID] = parsed
		}
	}
	return listing, nil
}

func (p *Paginator) requestPage(ctx context.Context, user, session string) (int, error) {
	logger := log.WithFields(log.Fields{"user": user, "session": session})

	listing, err := p.list(ctx, user, session)
	if err != nil {
		return 0, err
	}
	ledger, err := p.ledgers.Open(ctx, user, session, listing.objects)
	if err != nil {
		return 0, errors.Wrapf(err, "open paged ledger of session %s", session)
	}

	paged, err := ledger.PagedJobs(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "read paged ledger of session %s", session)
	}
	if listing.pageCount > 0 {
		// An empty ledger with pages on record was lost, not never written
		first := listing.pageCount
		if len(paged) == 0 {
			first = 1
			logger.WithField("pages", listing.pageCount).Warn("Paged ledger is empty, rebuilding from written pages")
		}
		for number := first; number <= listing.pageCount; number++ {
			if err := p.heal(ctx, ledger, user, session, number); err != nil {
				return 0, err
			}
		}
		if paged, err = ledger.PagedJobs(ctx); err != nil {
			return 0, errors.Wrapf(err, "read paged ledger of session %s", session)
		}
	}
	pagedSet := make(map[string]struct{}, len(paged))
	var orphans []string
	for _, id := range paged {
		pagedSet[id] = struct{}{}
		if _, ok := listing.finished[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		logger.WithField("jobs", orphans).Error("Paged ledger references jobs without finished snapshots")
		return 0, errors.Wrapf(ErrLedgerInconsistent, "session %s: %d jobs", session, len(orphans))
	}

	var fresh []storage.ParsedKey
	for id, key := range listing.finished {
		if _, ok := pagedSet[id]; !ok {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) == 0 {
		return listing.pageCount, nil
	}
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].Timestamp == fresh[j].Timestamp {
			return fresh[i].JobID < fresh[j].JobID
		}
		return fresh[i].Timestamp < fresh[j].Timestamp
	})

	page := make(models.Page, 0, len(fresh))
	for _, key := range fresh {
		body, err := p.objects.Get(ctx, key.Key)
		if err != nil {
			return 0, errors.Wrapf(err, "read snapshot %s", key.Key)
		}
		var snapshot models.FinishedJob
		if err := json.Unmarshal(body, &snapshot); err != nil {
			return 0, errors.Wrapf(err, "decode snapshot %s", key.Key)
		}
		page = append(page, snapshot)
	}

	number := listing.pageCount + 1
	body, err := json.Marshal(page)
	if err != nil {
		return 0, errors.Wrap(err, "encode page")
	}
	if err := p.objects.PutIfAbsent(ctx, storage.PageKey(user, session, number), body); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return 0, err
		}
		return 0, errors.Wrapf(err, "write page %d of session %s", number, session)
	}

	for _, snapshot := range page {
		if err := ledger.MarkPaged(ctx, snapshot.ID, number); err != nil {
			return 0, err
		}
	}
	p.metrics.RecordPage(len(page))
	logger.WithFields(log.Fields{"page": number, "jobs": len(page)}).Info("Result page written")
	return number, nil
}

// heal restores the markers of one page, which a crash may have left unmarked
func (p *Paginator) heal(ctx context.Context, ledger storage.Ledger, user, session string, number int) error {
	page, err := p.readPage(ctx, user, session, number)
	if err != nil {
		return err
	}
	for _, snapshot := range page {
		paged, err := ledger.HasBeenPaged(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		if paged {
			continue
		}
		if err := ledger.MarkPaged(ctx, snapshot.ID, number); err != nil {
			return err
		}
		log.WithFields(log.Fields{"session": session, "job": snapshot.ID, "page": number}).
			Warn("Restored missing paged marker")
	}
	return nil
}

func (p *Paginator) readPage(ctx context.Context, user, session string, number int) (models.Page, error) {
	body, err := p.objects.Get(ctx, storage.PageKey(user, session, number))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read page %d of session %s", number, session)
	}
	var page models.Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrapf(err, "decode page %d of session %s", number, session)
	}
	return page, nil
}

// GetPage returns a previously written page
func (p *Paginator) GetPage(ctx context.Context, user, session string, number int) (models.Page, error) {
	if number < 1 {
		return nil, ErrPageNotFound
	}
	return p.readPage(ctx, user, session, number)
}
