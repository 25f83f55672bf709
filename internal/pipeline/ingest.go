package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/frahmantamala/invoice-approval/internal"
	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

// Handler processes one inbound thread message.
type Handler func(ctx context.Context, ev invoice.MessageEvent)

type worker struct {
	id         int
	workerPool chan chan invoice.MessageEvent
	jobChannel chan invoice.MessageEvent
	logger     *slog.Logger
}

func newWorker(id int, workerPool chan chan invoice.MessageEvent, logger *slog.Logger) *worker {
	return &worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan invoice.MessageEvent),
		logger:     logger,
	}
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, handle Handler) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.workerPool <- w.jobChannel

			select {
			case ev := <-w.jobChannel:
				w.logger.Debug("worker processing message", "worker_id", w.id, "thread_ref", ev.ThreadRef)
				handle(internal.ContextWithActor(ctx, ev.AuthorID), ev)
			case <-ctx.Done():
				w.logger.Debug("worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

// Ingest is the bounded pool that decouples inbound chat events from the
// state machine. A full queue rejects rather than blocks: the chat surface
// retries, the agent does not wedge.
type Ingest struct {
	logger *slog.Logger

	jobQueue   chan invoice.MessageEvent
	workerPool chan chan invoice.MessageEvent
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewIngest(cfg internal.IngestConfig, handle Handler, logger *slog.Logger) *Ingest {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	ing := &Ingest{
		logger:     logger,
		maxWorkers: workers,
		jobQueue:   make(chan invoice.MessageEvent, queueSize),
		workerPool: make(chan chan invoice.MessageEvent, workers),
		ctx:        ctx,
		cancel:     cancel,
	}
	ing.startWorkerPool(handle)
	return ing
}

func (i *Ingest) startWorkerPool(handle Handler) {
	i.once.Do(func() {
		for id := 0; id < i.maxWorkers; id++ {
			w := newWorker(id, i.workerPool, i.logger)
			w.start(i.ctx, &i.wg, handle)
		}

		i.wg.Add(1)
		go i.dispatch()

		i.logger.Info("message ingest pool started",
			"workers", i.maxWorkers,
			"queue_size", cap(i.jobQueue))
	})
}

func (i *Ingest) dispatch() {
	defer i.wg.Done()

	for {
		select {
		case ev := <-i.jobQueue:
			select {
			case jobChannel := <-i.workerPool:
				select {
				case jobChannel <- ev:
				case <-i.ctx.Done():
					i.logger.Info("dispatcher shutting down")
					return
				}
			case <-i.ctx.Done():
				i.logger.Info("dispatcher shutting down")
				return
			}
		case <-i.ctx.Done():
			i.logger.Info("dispatcher shutting down")
			return
		}
	}
}

// Enqueue hands a message event to the pool without blocking.
func (i *Ingest) Enqueue(ev invoice.MessageEvent) error {
	select {
	case i.jobQueue <- ev:
		return nil
	default:
		i.logger.Warn("ingest queue full, rejecting message", "thread_ref", ev.ThreadRef)
		return internal.ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight messages to finish.
func (i *Ingest) Shutdown() {
	i.logger.Info("shutting down message ingest pool")
	i.cancel()
	i.wg.Wait()
	i.logger.Info("message ingest pool shutdown complete")
}
