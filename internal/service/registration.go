package service

import (
	"context"
	"log/slog"
	"sync"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"
)

// Watcher produces the balance-change stream of one wallet.
type Watcher interface {
	Watch(ctx context.Context, wallet string) (<-chan domain.BalanceChange, error)
}

// Enricher turns a balance change into a priced transfer event.
type Enricher interface {
	Enrich(ctx context.Context, change domain.BalanceChange) (domain.TransferEvent, error)
}

// Dispatcher delivers a priced transfer event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.TransferEvent) domain.DeliveryOutcome
}

type watchTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// RegistrationService creates wallet->device bindings and owns one watch task per wallet.
type RegistrationService struct {
	registry   *SessionRegistry
	watcher    Watcher
	enricher   Enricher
	dispatcher Dispatcher
	metrics    *infra.Metrics

	baseCtx context.Context
	mu      sync.Mutex
	watches map[string]*watchTask
}

// NewRegistrationService creates the service. Watch tasks live until ctx is cancelled or StopAll.
func NewRegistrationService(ctx context.Context, registry *SessionRegistry, watcher Watcher, enricher Enricher, dispatcher Dispatcher, metrics *infra.Metrics) *RegistrationService {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	return &RegistrationService{
		registry:   registry,
		watcher:    watcher,
		enricher:   enricher,
		dispatcher: dispatcher,
		metrics:    metrics,
		baseCtx:    ctx,
		watches:    make(map[string]*watchTask),
	}
}

// Register upserts the binding and makes sure the wallet is watched.
// The upsert is visible when Register returns; the watch starts in the background.
// A watch that fails to start is logged and released, so the next Register retries it.
func (s *RegistrationService) Register(wallet, device string) {
	reg, created := s.registry.Upsert(wallet, device)
	if created {
		slog.Info("📝 Device registered", slog.String("wallet", wallet), slog.String("device", device))
	} else {
		slog.Info("📝 Device address updated",
			slog.String("wallet", wallet),
			slog.String("device", device),
			slog.Bool("session_bound", reg.IsBound()),
		)
	}

	s.ensureWatch(wallet)
}

// ensureWatch reserves the wallet's watch slot unless one is already taken.
func (s *RegistrationService) ensureWatch(wallet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[wallet]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	task := &watchTask{cancel: cancel, done: make(chan struct{})}
	s.watches[wallet] = task
	go s.startWatch(ctx, wallet, task)
}

func (s *RegistrationService) startWatch(ctx context.Context, wallet string, task *watchTask) {
	changes, err := s.watcher.Watch(ctx, wallet)
	if err != nil {
		slog.Error("Error setting up transaction listener", slog.String("wallet", wallet), slog.Any("error", err))
		task.cancel()
		s.forget(wallet, task)
		close(task.done)
		return
	}

	s.metrics.IncrementWatches()
	s.consume(ctx, wallet, task, changes)
}

func (s *RegistrationService) consume(ctx context.Context, wallet string, task *watchTask, changes <-chan domain.BalanceChange) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Watch task panic recovered", slog.String("wallet", wallet), slog.Any("panic", r))
		}
		task.cancel()
		s.forget(wallet, task)
		s.metrics.DecrementWatches()
		close(task.done)
	}()

	for change := range changes {
		ev, err := s.enricher.Enrich(ctx, change)
		if err != nil {
			s.metrics.RecordRateFailure()
			slog.Error("Transfer dropped, enrichment failed",
				slog.String("wallet", wallet),
				slog.Int64("lamports", change.DeltaLamports),
				slog.Any("error", err),
			)
			continue
		}
		s.dispatcher.Dispatch(ctx, ev)
	}
	slog.Info("Watch stopped", slog.String("wallet", wallet))
}

func (s *RegistrationService) forget(wallet string, task *watchTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watches[wallet] == task {
		delete(s.watches, wallet)
	}
}

// Registrations returns the number of registered wallets.
func (s *RegistrationService) Registrations() int {
	return s.registry.Count()
}

// IsWatching reports whether a watch task exists for wallet, starting or running.
func (s *RegistrationService) IsWatching(wallet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watches[wallet]
	return ok
}

// ActiveWatches returns the number of watch tasks.
func (s *RegistrationService) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Stop cancels the wallet's watch and waits for it to exit. The registration is kept.
func (s *RegistrationService) Stop(wallet string) bool {
	s.mu.Lock()
	task, ok := s.watches[wallet]
	s.mu.Unlock()
	if !ok {
		return false
	}
	task.cancel()
	<-task.done
	return true
}

// StopAll cancels every watch and waits for them to exit.
func (s *RegistrationService) StopAll() {
	s.mu.Lock()
	tasks := make([]*watchTask, 0, len(s.watches))
	for _, t := range s.watches {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}
