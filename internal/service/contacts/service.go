package contacts

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/pagination"
	"github.com/ignite/emailfinder/internal/pkg/distlock"
	"github.com/ignite/emailfinder/internal/pkg/logger"
	"github.com/ignite/emailfinder/internal/visibility"
)

// MaintenanceLockKey guards de-duplication, delete-all and reindex.
const MaintenanceLockKey = "contacts:maintenance"

// Options configures a Service. Zero values fall back to the defaults
// noted on each field.
type Options struct {
	// Pagination for search (default limit 100, max 1000, sort email).
	Pagination pagination.Engine
	// CompanyPagination for the company listing (default 25, max 100,
	// sorted by created_at descending).
	CompanyPagination pagination.Engine
	Visibility        visibility.Policy

	// Delete-all completion polling (default every 5s, 120 attempts).
	ClearPollInterval time.Duration
	ClearPollAttempts int

	// MaxBulkDelete caps the emails accepted by one bulk delete (default 10000).
	MaxBulkDelete int

	Cache    Cache
	Recorder Recorder
	Locks    distlock.Factory
	Now      func() time.Time
}

// Service implements search and the mutation coordinator. It is safe for
// concurrent use.
type Service struct {
	store Store
	index Index
	cache Cache
	audit Recorder
	locks distlock.Factory
	opts  Options
	now   func() time.Time
}

// NewService creates a contacts service over a record store and a search
// index.
func NewService(store Store, index Index, opts Options) *Service {
	if opts.Pagination.DefaultLimit == 0 {
		opts.Pagination = pagination.Engine{
			DefaultLimit:     100,
			MaxLimit:         1000,
			DefaultSortField: domain.FieldEmail,
			SortableFields: []string{
				domain.FieldEmail, domain.FieldName, domain.FieldCompanyName,
				domain.FieldRole, domain.FieldWebsite, domain.FieldCreatedAt, domain.FieldUpdatedAt,
			},
			MaxResultWindow: 10000,
		}
	}
	if opts.CompanyPagination.DefaultLimit == 0 {
		opts.CompanyPagination = pagination.Engine{
			DefaultLimit:     25,
			MaxLimit:         100,
			DefaultSortField: domain.FieldCreatedAt,
			SortableFields:   []string{domain.FieldCreatedAt},
			MaxResultWindow:  opts.Pagination.MaxResultWindow,
		}
	}
	if opts.Visibility.UnmaskedLimit == 0 && opts.Visibility.VisiblePrefix == 0 {
		opts.Visibility = visibility.DefaultPolicy()
	}
	if opts.ClearPollInterval <= 0 {
		opts.ClearPollInterval = 5 * time.Second
	}
	if opts.ClearPollAttempts <= 0 {
		opts.ClearPollAttempts = 120
	}
	if opts.MaxBulkDelete <= 0 {
		opts.MaxBulkDelete = 10000
	}

	s := &Service{store: store, index: index, opts: opts}
	s.cache = opts.Cache
	if s.cache == nil {
		s.cache = nopCache{}
	}
	s.audit = opts.Recorder
	if s.audit == nil {
		s.audit = NopRecorder{}
	}
	s.locks = opts.Locks
	if s.locks == nil {
		s.locks = distlock.NewFactory(nil, nil, 0)
	}
	s.now = opts.Now
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Get returns one contact by email. The index answers first; the record
// store is consulted when the index misses or is unavailable.
func (s *Service) Get(ctx context.Context, email string) (*domain.ContactRecord, error) {
	email = domain.NormalizeEmail(email)
	if !domain.IsEmailShaped(email) {
		return nil, invalidInput(map[string]string{"email": email}, "not a valid email address")
	}

	rec, err := s.index.Get(ctx, email)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrIndexNotFound) {
		logger.Warn("contacts: index lookup failed, reading record store", "email", email, "error", err)
	}

	rec, err = s.store.Get(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(email)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Stats compares the record store and the search index.
type Stats struct {
	StoreCount int64 `json:"store_count"`
	IndexCount int64 `json:"index_count"`
	Drift      int64 `json:"drift"`
}

// Stats counts both stores concurrently.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.Count(gctx)
		st.StoreCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.index.Count(gctx)
		st.IndexCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	st.Drift = st.StoreCount - st.IndexCount
	return &st, nil
}

// withMaintenanceLock runs fn while holding the maintenance lock.
func (s *Service) withMaintenanceLock(ctx context.Context, op string, fn func() error) error {
	return RunLocked(ctx, s.locks(MaintenanceLockKey), op, fn)
}

// RunLocked runs fn under lock, returning ErrBusy if another holder has it.
func RunLocked(ctx context.Context, lock distlock.DistLock, op string, fn func() error) error {
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Kind: KindBusy, Msg: "another maintenance job is running", Details: map[string]string{"op": op}}
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("contacts: lock release failed", "op", op, "error", err)
		}
	}()
	return fn()
}
