// Copyright 2026 The Nimbus Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package router

import (
	"context"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

// defaultMailboxSize bounds how many inbound messages from one worker
// can queue before Dispatch blocks, the same backpressure role
// defaultHandlerOperationTimeout plays in the teacher's manager.
const defaultMailboxSize = 256

// Handler processes one decoded message. Returning an error classified
// as PROTOCOL by pkg/errors closes that worker's mailbox and reports
// the worker lost, per §7.
type Handler func(ctx context.Context, msg Message) error

// Sender delivers an outbound message to a worker connection. The
// router does not own the transport; it only guarantees Sender is
// never called concurrently for the same worker and always in the
// order Send was called.
type Sender func(ctx context.Context, worker model.WorkerID, msg Message) error

// mailbox is one worker's ordered inbound queue plus the single
// goroutine draining it, mirroring the teacher's one-channel-per-topic
// design (engine/pkg/p2p/message_handler_manager.go) but keyed by
// worker connection instead of topic, since per-worker delivery order
// is what §6 requires.
type mailbox struct {
	queue  chan Message
	cancel context.CancelFunc
	done   chan struct{}
}

// Router dispatches inbound worker messages to registered per-Kind
// handlers, preserving arrival order within a connection, and
// serializes outbound messages to each worker through a Sender.
type Router struct {
	mu sync.Mutex

	handlers map[Kind]Handler
	inboxes  map[model.WorkerID]*mailbox
	outboxes map[model.WorkerID]*sync.Mutex

	send   Sender
	logger *zap.Logger

	onProtocolError func(worker model.WorkerID, err error)
}

// New builds a Router. onProtocolError is invoked (from the mailbox's
// own goroutine) whenever a handler reports a PROTOCOL-classified
// error, so the caller can mark the worker LOST and drive rewind.
func New(send Sender, onProtocolError func(worker model.WorkerID, err error)) *Router {
	return &Router{
		handlers:        make(map[Kind]Handler),
		inboxes:         make(map[model.WorkerID]*mailbox),
		outboxes:        make(map[model.WorkerID]*sync.Mutex),
		send:            send,
		logger:          log.L().With(zap.String("component", "router")),
		onProtocolError: onProtocolError,
	}
}

// RegisterHandler installs the handler for kind. Only one handler per
// kind is allowed, matching the teacher's one-handler-per-topic rule.
func (r *Router) RegisterHandler(kind Kind, fn Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[kind]; ok {
		return false
	}
	r.handlers[kind] = fn
	return true
}

// Dispatch enqueues an inbound message for worker, starting its
// mailbox goroutine on first use. It never blocks past
// defaultMailboxSize queued messages, at which point a slow handler
// applies backpressure to the caller rather than unbounded buffering.
func (r *Router) Dispatch(ctx context.Context, msg Message) {
	r.mu.Lock()
	mb, ok := r.inboxes[msg.Worker]
	if !ok {
		mbCtx, cancel := context.WithCancel(context.Background())
		mb = &mailbox{
			queue:  make(chan Message, defaultMailboxSize),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		r.inboxes[msg.Worker] = mb
		go r.drainInbox(mbCtx, msg.Worker, mb)
	}
	r.mu.Unlock()

	select {
	case mb.queue <- msg:
	case <-ctx.Done():
	}
}

func (r *Router) drainInbox(ctx context.Context, worker model.WorkerID, mb *mailbox) {
	defer close(mb.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mb.queue:
			r.handleOne(ctx, worker, msg)
		}
	}
}

func (r *Router) handleOne(ctx context.Context, worker model.WorkerID, msg Message) {
	r.mu.Lock()
	fn, ok := r.handlers[msg.Kind]
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("no handler registered for message kind", zap.Stringer("kind", msg.Kind), zap.Int64("worker", int64(worker)))
		return
	}
	if err := fn(ctx, msg); err != nil {
		if cerrors.Classify(err) == cerrors.KindProtocol {
			r.logger.Warn("protocol error, closing worker mailbox", zap.Int64("worker", int64(worker)), zap.Error(err))
			r.CloseWorker(worker)
			if r.onProtocolError != nil {
				r.onProtocolError(worker, err)
			}
			return
		}
		r.logger.Warn("handler error", zap.Stringer("kind", msg.Kind), zap.Int64("worker", int64(worker)), zap.Error(err))
	}
}

// Send delivers an outbound message to worker, serialized against any
// other Send to the same worker so command order matches the order
// the assigner issued them.
func (r *Router) Send(ctx context.Context, worker model.WorkerID, msg Message) error {
	r.mu.Lock()
	lock, ok := r.outboxes[worker]
	if !ok {
		lock = &sync.Mutex{}
		r.outboxes[worker] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return r.send(ctx, worker, msg)
}

// CloseWorker stops the worker's inbound mailbox goroutine and drops
// its outbox, used on PROTOCOL error or worker loss.
func (r *Router) CloseWorker(worker model.WorkerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mb, ok := r.inboxes[worker]; ok {
		mb.cancel()
		delete(r.inboxes, worker)
	}
	delete(r.outboxes, worker)
}
