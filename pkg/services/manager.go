// Package services implements the periodic per-plant services and the Manager
// that keeps them alive on the sampler's ticks.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/gridservices/pkg/sampler"
	"github.com/HatiCode/gridservices/pkg/storage"
)

// Observer receives Manager activity. Implementations must be safe for
// concurrent use.
type Observer interface {
	// TickHandled is called once per tick after every refresh has settled.
	TickHandled(tick int64, d time.Duration, failures int)

	// RefreshCompleted is called for every refresh hook that ran.
	RefreshCompleted(kind Kind, d time.Duration, err error)

	// ServicesRegistered reports the registry size after it changed.
	ServicesRegistered(n int)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSignalSource sets the source load monitoring services pull from.
func WithSignalSource(src SignalSource) Option {
	return func(m *Manager) { m.signals = src }
}

// WithObserver reports activity to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithCacheObserver reports document cache hits and misses to o.
func WithCacheObserver(o storage.CacheObserver) Option {
	return func(m *Manager) { m.cacheObserver = o }
}

// WithKeyPrefix prepends prefix to every storage key.
func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) { m.keyPrefix = prefix }
}

// WithVariants replaces the built-in variant table.
func WithVariants(v map[Kind]Handlers) Option {
	return func(m *Manager) { m.variants = maps.Clone(v) }
}

// WithIDGenerator sets the id generator used by Create.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// Manager is the single authority over the set of live services.
//
// It owns the configuration and output caches, the service registry and the
// sampler. Every operation except Init fails with ErrNotInitialized until
// Init succeeds.
type Manager struct {
	sampler       *sampler.Sampler
	signals       SignalSource
	variants      map[Kind]Handlers
	logger        *slog.Logger
	observer      Observer
	cacheObserver storage.CacheObserver
	keyPrefix     string
	newID         func() string

	configs *storage.Cached[Document]
	outputs *storage.Cached[Output]

	initMu sync.Mutex

	mu          sync.RWMutex
	services    map[string]*Service
	initialized bool
	initTick    int64
	lastRefresh int64
	refreshed   bool
}

// NewManager creates an uninitialized Manager over backend, driven by smp.
// A nil sampler is replaced by one on the real clock.
func NewManager(backend storage.Backend, smp *sampler.Sampler, opts ...Option) *Manager {
	if smp == nil {
		smp = sampler.New()
	}
	m := &Manager{
		sampler:  smp,
		variants: defaultVariants,
		logger:   slog.Default(),
		newID:    uuid.NewString,
		services: make(map[string]*Service),
	}
	for _, opt := range opts {
		opt(m)
	}

	var cacheOpts []storage.CachedOption
	if m.cacheObserver != nil {
		cacheOpts = append(cacheOpts, storage.WithCacheObserver(m.cacheObserver))
	}
	m.configs = storage.NewCached[Document]("configs", backend, m.namespace(ConfigNamespace), cacheOpts...)
	m.outputs = storage.NewCached[Output]("outputs", backend, m.namespace(OutputNamespace), cacheOpts...)
	return m
}

func (m *Manager) namespace(ns storage.Namespace) storage.Namespace {
	ns.Prefix = m.keyPrefix + ns.Prefix
	return ns
}

// Init loads every stored service, initializes it with the current tick,
// registers it and starts driving the registry from the sampler. It is a
// no-op once the Manager is initialized.
//
// A document that cannot be loaded, has an unknown type or fails to
// initialize is logged and skipped. Only a failure to list the stored
// documents aborts Init.
func (m *Manager) Init(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.Initialized() {
		return nil
	}

	m.configs.Reset()
	m.outputs.Reset()
	ids, err := m.configs.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list service configurations: %w", err)
	}

	tick := m.sampler.Now()
	registry := make(map[string]*Service, len(ids))
	for _, id := range ids {
		svc, err := m.load(ctx, id, tick)
		if err != nil {
			m.logger.Error("skipping service", "id", id, "error", err)
			continue
		}
		registry[id] = svc
	}

	m.mu.Lock()
	m.services = registry
	m.initialized = true
	m.initTick = tick
	m.mu.Unlock()
	m.observeRegistry(len(registry))

	m.sampler.SetHandler(m.HandleTick)
	m.sampler.Start(ctx)

	m.logger.Info("service manager initialized",
		"services", len(registry),
		"skipped", len(ids)-len(registry),
		"tick", tick,
	)
	return nil
}

func (m *Manager) load(ctx context.Context, id string, tick int64) (*Service, error) {
	doc, found, err := m.configs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s disappeared during init", ErrNotFound, id)
	}
	svc, err := m.build(id, doc)
	if err != nil {
		return nil, err
	}
	if err := svc.Init(ctx, tick, doc); err != nil {
		return nil, err
	}
	return svc, nil
}

func (m *Manager) build(id string, doc Document) (*Service, error) {
	if err := validate(m.variants, doc); err != nil {
		return nil, err
	}
	env := Env{
		Signals: m.signals,
		Outputs: m.outputs,
		Logger:  m.logger,
	}
	return newService(id, doc.ServiceType, m.variants[doc.ServiceType], env, m.configs), nil
}

// HandleTick refreshes every registered service concurrently and waits for
// all of them. Failures are logged per service and never stop the others.
// The Manager's last refresh tick is recorded once everything has settled.
func (m *Manager) HandleTick(ctx context.Context, tick int64) error {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil
	}
	registry := maps.Clone(m.services)
	m.mu.RUnlock()

	start := time.Now()
	results := Settle(ctx, registry, func(ctx context.Context, _ string, svc *Service) error {
		t0 := time.Now()
		ran, err := svc.refresh(ctx, tick)
		if ran && m.observer != nil {
			m.observer.RefreshCompleted(svc.Kind(), time.Since(t0), err)
		}
		return err
	})

	failures := Failures(results)
	for _, r := range failures {
		m.logger.Error("service refresh failed", "id", r.ID, "tick", tick, "error", r.Err)
	}

	m.mu.Lock()
	m.lastRefresh = tick
	m.refreshed = true
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.TickHandled(tick, time.Since(start), len(failures))
	}
	return nil
}

// Initialized reports whether Init has completed.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// InitTick returns the tick at which Init completed.
func (m *Manager) InitTick() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initTick, m.initialized
}

// LastRefreshTick returns the last tick fanned out to the registry.
func (m *Manager) LastRefreshTick() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRefresh, m.refreshed
}

// Len returns the number of registered services.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// Exists reports whether id is registered.
func (m *Manager) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return false, ErrNotInitialized
	}
	_, ok := m.services[id]
	return ok, nil
}

// List returns the records matching f, sorted by id.
func (m *Manager) List(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	registry := maps.Clone(m.services)
	m.mu.RUnlock()

	records := make([]Record, 0, len(registry))
	for _, svc := range registry {
		if r := svc.Record(); f.matches(r) {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Get returns the record of id.
func (m *Manager) Get(_ context.Context, id string) (Record, error) {
	svc, err := m.lookup(id)
	if err != nil {
		return Record{}, err
	}
	return svc.Record(), nil
}

// Config returns the stored configuration of id.
func (m *Manager) Config(ctx context.Context, id string) (Document, error) {
	svc, err := m.lookup(id)
	if err != nil {
		return Document{}, err
	}
	return svc.Config(ctx)
}

// Update replaces the configuration of id.
func (m *Manager) Update(ctx context.Context, id string, doc Document) error {
	svc, err := m.lookup(id)
	if err != nil {
		return err
	}
	return svc.SetConfig(ctx, doc)
}

// Forecast returns the latest output persisted by id's refresh hook.
func (m *Manager) Forecast(ctx context.Context, id string) (Output, error) {
	if _, err := m.lookup(id); err != nil {
		return Output{}, err
	}
	out, found, err := m.outputs.Get(ctx, id)
	if err != nil {
		return Output{}, err
	}
	if !found {
		return Output{}, fmt.Errorf("%w: no output for %s yet", ErrNotFound, id)
	}
	return out, nil
}

// Create validates doc, persists it under a fresh id, initializes the new
// service and registers it. If initialization fails the persisted document
// is deleted again.
func (m *Manager) Create(ctx context.Context, doc Document) (Record, error) {
	if !m.Initialized() {
		return Record{}, ErrNotInitialized
	}

	id := m.newID()
	svc, err := m.build(id, doc)
	if err != nil {
		return Record{}, err
	}
	if err := m.configs.Set(ctx, id, doc); err != nil {
		return Record{}, err
	}

	if err := svc.Init(ctx, m.sampler.Now(), doc); err != nil {
		if derr := m.configs.Delete(ctx, id); derr != nil {
			m.logger.Warn("rollback of service configuration failed", "id", id, "error", derr)
		}
		return Record{}, err
	}

	m.mu.Lock()
	m.services[id] = svc
	n := len(m.services)
	m.mu.Unlock()
	m.observeRegistry(n)

	m.logger.Info("service created", "id", id, "type", string(doc.ServiceType))
	return svc.Record(), nil
}

// Remove deletes the configuration of id and drops it from the registry. It
// then waits for a refresh still running for id before deleting its output
// document. A failure to delete the output is logged only.
func (m *Manager) Remove(ctx context.Context, id string) error {
	svc, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := m.configs.Delete(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.services, id)
	n := len(m.services)
	m.mu.Unlock()
	m.observeRegistry(n)

	svc.retire()
	if err := m.outputs.Delete(ctx, id); err != nil {
		m.logger.Warn("failed to delete service output", "id", id, "error", err)
	}

	m.logger.Info("service removed", "id", id)
	return nil
}

// Close stops the sampler and waits for in-flight ticks, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.sampler.SetHandler(nil)
	return m.sampler.Stop(ctx)
}

func (m *Manager) lookup(id string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	svc, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return svc, nil
}

func (m *Manager) observeRegistry(n int) {
	if m.observer != nil {
		m.observer.ServicesRegistered(n)
	}
}
