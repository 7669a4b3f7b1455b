package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/HatiCode/gridservices/pkg/sampler"
	"github.com/HatiCode/gridservices/pkg/storage"
)

// Service wraps one periodic workload.
//
// A Service starts Uninitialized and moves to Initialized exactly once, on the
// first successful Init. Refresh and the configuration accessors do nothing
// useful before that.
type Service struct {
	id       string
	kind     Kind
	handlers Handlers
	env      Env
	configs  *storage.Cached[Document]

	// refreshing serializes refresh hooks; a tick arriving while the previous
	// refresh still runs is skipped.
	refreshing sync.Mutex

	mu          sync.Mutex
	appID       string
	plantID     string
	sampleTime  int64
	initialized bool
	removed     bool
	initTick    int64
	lastRefresh int64
	refreshed   bool
	state       State
	generation  uint64
}

func newService(id string, kind Kind, h Handlers, env Env, configs *storage.Cached[Document]) *Service {
	env.ID = id
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	env.Logger = env.Logger.With("service", id, "kind", string(kind))
	return &Service{
		id:       id,
		kind:     kind,
		handlers: h,
		env:      env,
		configs:  configs,
	}
}

// ID returns the service id.
func (s *Service) ID() string { return s.id }

// Kind returns the service variant.
func (s *Service) Kind() Kind { return s.kind }

// Initialized reports whether Init has completed.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// State returns a copy of the variant state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record returns the service's runtime view.
func (s *Service) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Record{
		ID:          s.id,
		Type:        s.kind,
		AppID:       s.appID,
		PlantID:     s.plantID,
		SampleTime:  s.sampleTime,
		Initialized: s.initialized,
	}
	if s.initialized {
		t := s.initTick
		r.InitTick = &t
	}
	if s.refreshed {
		t := s.lastRefresh
		r.LastRefreshTick = &t
	}
	return r
}

// Init initializes the service from doc at tick. It is a no-op once the
// service is initialized. Nothing is recorded if the init hook fails.
func (s *Service) Init(ctx context.Context, tick int64, doc Document) error {
	if s.Initialized() {
		return nil
	}

	st := State{}
	if s.handlers.Init != nil {
		next, err := s.handlers.Init(ctx, s.env, tick, doc)
		if err != nil {
			return fmt.Errorf("init service %s: %w", s.id, err)
		}
		st = next
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	s.appID = doc.AppID
	s.plantID = doc.PlantID
	s.sampleTime = doc.SampleTime
	s.state = st
	s.initTick = tick
	s.initialized = true
	return nil
}

// Refresh runs the refresh hook if the service is initialized and tick
// matches its sample time. The last refresh tick only advances on success; a
// hook failure is returned as *RefreshHookError.
func (s *Service) Refresh(ctx context.Context, tick int64) error {
	_, err := s.refresh(ctx, tick)
	return err
}

// refresh reports whether the hook ran.
func (s *Service) refresh(ctx context.Context, tick int64) (bool, error) {
	s.mu.Lock()
	if !s.initialized || !sampler.SampleTimeMatches(tick, s.sampleTime) {
		s.mu.Unlock()
		return false, nil
	}
	st, gen := s.state, s.generation
	s.mu.Unlock()

	if !s.refreshing.TryLock() {
		s.env.Logger.Debug("refresh still running, tick skipped", "tick", tick)
		return false, nil
	}
	defer s.refreshing.Unlock()
	if s.isRemoved() {
		return false, nil
	}

	next := st
	if s.handlers.Refresh != nil {
		var err error
		next, err = s.handlers.Refresh(ctx, s.env, tick, st)
		if err != nil {
			return true, &RefreshHookError{ServiceID: s.id, Tick: tick, Err: err}
		}
	}

	s.mu.Lock()
	// A configuration update during the hook owns the state now.
	if s.generation == gen {
		s.state = next
	}
	s.lastRefresh = tick
	s.refreshed = true
	s.mu.Unlock()
	return true, nil
}

// retire waits for a running refresh to return and stops all later ones, so
// nothing is persisted for the service afterwards.
func (s *Service) retire() {
	s.refreshing.Lock()
	defer s.refreshing.Unlock()
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
}

func (s *Service) isRemoved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

// Config returns the persisted configuration document.
func (s *Service) Config(ctx context.Context) (Document, error) {
	if !s.Initialized() {
		return Document{}, ErrNotInitialized
	}
	doc, found, err := s.configs.Get(ctx, s.id)
	if err != nil {
		return Document{}, err
	}
	if !found {
		return Document{}, fmt.Errorf("%w: configuration of %s", ErrNotFound, s.id)
	}
	return doc, nil
}

// SetConfig persists doc and then runs the SetStorageData hook. The service
// type cannot change.
func (s *Service) SetConfig(ctx context.Context, doc Document) error {
	if !s.Initialized() {
		return ErrNotInitialized
	}
	if doc.ServiceType == "" {
		doc.ServiceType = s.kind
	}
	if doc.ServiceType != s.kind {
		return configErr(s.kind, "cannot change service type to %q", doc.ServiceType)
	}
	if err := validate(map[Kind]Handlers{s.kind: s.handlers}, doc); err != nil {
		return err
	}

	if err := s.configs.Set(ctx, s.id, doc); err != nil {
		return err
	}

	st := s.State()
	if s.handlers.SetStorageData != nil {
		next, err := s.handlers.SetStorageData(ctx, s.env, doc, st)
		if err != nil {
			return fmt.Errorf("apply configuration of %s: %w", s.id, err)
		}
		st = next
	}

	s.mu.Lock()
	s.appID = doc.AppID
	s.plantID = doc.PlantID
	s.sampleTime = doc.SampleTime
	s.state = st
	s.generation++
	s.mu.Unlock()
	return nil
}
