// Package sync owns the lifecycle of one room's message synchronization:
// initial load, live feed, polling fallback, reconnect and the reconciliation
// of optimistic sends against their server echoes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gapchat/gap/internal/bus"
	"github.com/gapchat/gap/internal/gateway"
	"github.com/gapchat/gap/internal/status"
	"github.com/gapchat/gap/internal/store"
)

var (
	// ErrEmptyContent rejects a send whose content is blank after trimming.
	ErrEmptyContent = errors.New("sync: empty message content")
	// ErrContentTooLong rejects a send exceeding the content length bound.
	ErrContentTooLong = errors.New("sync: message content too long")
	// ErrClosed is returned when the session is closed or was never opened.
	ErrClosed = errors.New("sync: session closed")
)

// Config holds the engine's timing knobs. Zero values fall back to defaults.
type Config struct {
	PollInterval  time.Duration // polling fallback period
	BackoffBase   time.Duration // first retry delay, doubled per attempt
	BackoffCap    time.Duration // upper bound on retry delay
	FetchAttempts int           // bounded attempts for the initial load
	PendingWindow int           // poll cycles before a pending send is presumed delivered
	MaxContentLen int           // content bound in runes
	OpTimeout     time.Duration // per-operation network timeout
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = 5
	}
	if c.PendingWindow <= 0 {
		c.PendingWindow = 3
	}
	if c.MaxContentLen <= 0 {
		c.MaxContentLen = 500
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	return c
}

// History is an optional local cache of confirmed messages. The engine
// preloads it before the network fetch resolves and persists confirmed
// messages as they arrive.
type History interface {
	List(roomID string) ([]store.Message, error)
	Put(m store.Message) error
}

// SendAck is the payload of message.send_ack events.
type SendAck struct {
	RoomID string
	TempID string
	MsgID  string
}

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	RoomID string
	TempID string
	Err    error
}

// Engine synchronizes one room. All store and reconciler mutation funnels
// through a single loop goroutine, so a locally sent message and its server
// echo can never race into two separate entries.
type Engine struct {
	roomID  string
	userID  string
	gw      gateway.Gateway
	store   *store.Store
	history History
	machine *status.Machine
	rec     *reconciler
	bus     *bus.Bus
	logger  *zap.Logger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	feed   chan store.Message
	done   chan struct{}

	// Loop-owned; never touched outside the run goroutine.
	sub            gateway.Subscription
	lastSeen       time.Time
	reconnect      *time.Timer
	reconnectArmed bool
	attempt        int
}

// New creates an engine for one room. hist and b may be nil.
func New(roomID, userID string, gw gateway.Gateway, st *store.Store, hist History, b *bus.Bus, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		roomID:  roomID,
		userID:  userID,
		gw:      gw,
		store:   st,
		history: hist,
		machine: status.NewMachine(roomID, b),
		rec:     newReconciler(),
		bus:     b,
		logger:  logger.With(zap.String("room_id", roomID)),
		cfg:     cfg.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func(), 64),
		feed:    make(chan store.Message, 256),
		done:    make(chan struct{}),
	}
}

// Store returns the engine's working set for read access.
func (e *Engine) Store() *store.Store {
	return e.store
}

// RoomID returns the room this engine synchronizes.
func (e *Engine) RoomID() string {
	return e.roomID
}

// State returns the current session state.
func (e *Engine) State() status.State {
	return e.machine.Current()
}

// Open performs the initial load and brings the session live. It blocks
// until the load succeeds or its bounded retries are exhausted. On failure
// the session ends in Failed and the error is returned.
func (e *Engine) Open(ctx context.Context) error {
	if e.machine.Current() != status.Idle {
		return fmt.Errorf("sync: session already opened (%s)", e.machine.Current())
	}
	if err := e.machine.Transition(status.Loading); err != nil {
		return err
	}

	loaded := make(chan error, 1)
	go e.run(loaded)

	select {
	case err := <-loaded:
		if err != nil {
			return fmt.Errorf("initial load: %w", err)
		}
		return nil
	case <-ctx.Done():
		e.Close()
		return ctx.Err()
	}
}

// Close shuts the session down, releasing the live subscription and the poll
// ticker on every path. Idempotent and safe to call concurrently; in-flight
// operation results are discarded once the session is closed.
func (e *Engine) Close() {
	e.cancel()
	if e.machine.Current() == status.Idle {
		// Never opened; there is no loop to wait for.
		_ = e.machine.Transition(status.Closed)
		return
	}
	<-e.done
}

// Send validates and dispatches a message. The pending entry appears in the
// store immediately and either settles into its confirmed echo or is rolled
// back with a message.send_failed event. Valid while the session is Loading,
// Live or Reconnecting. Returns the temporary id of the pending message.
// There is no automatic retry; the caller may re-invoke Send with the same
// text.
func (e *Engine) Send(ctx context.Context, text string) (string, error) {
	switch e.machine.Current() {
	case status.Loading, status.Live, status.Reconnecting:
	default:
		return "", ErrClosed
	}

	content := strings.TrimSpace(text)
	if content == "" {
		return "", ErrEmptyContent
	}
	if n := utf8.RuneCountInString(content); n > e.cfg.MaxContentLen {
		return "", fmt.Errorf("%w: %d > %d runes", ErrContentTooLong, n, e.cfg.MaxContentLen)
	}

	tempID := store.TempIDPrefix + uuid.NewString()
	msg := store.Message{
		ID:        tempID,
		RoomID:    e.roomID,
		SenderID:  e.userID,
		Content:   content,
		Type:      "text",
		CreatedAt: time.Now(),
		State:     store.StatePending,
	}
	if !e.do(func() {
		e.store.Upsert(msg)
		e.rec.track(msg)
		// The insert starts only once the pending entry is matchable, so its
		// echo can never outrun the tracking and land as a separate entry.
		go e.dispatch(ctx, tempID, content)
	}) {
		return "", ErrClosed
	}
	return tempID, nil
}

// dispatch performs the remote insert off the loop and funnels the outcome
// back into it.
func (e *Engine) dispatch(ctx context.Context, tempID, content string) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	confirmed, err := e.gw.Insert(opCtx, e.roomID, e.userID, content)
	cancel()

	if err != nil {
		e.logger.Warn("send failed", zap.String("temp_id", tempID), zap.Error(err))
		e.do(func() {
			// Roll back the optimistic entry; the caller may retry the send.
			e.rec.drop(tempID)
			e.store.RemovePending(tempID)
			e.publish(bus.KindSendFailed, SendFailure{RoomID: e.roomID, TempID: tempID, Err: err})
		})
		return
	}
	e.do(func() { e.ingest(confirmed) })
}

// do funnels fn into the engine loop, preserving the single-writer
// discipline. Returns false when the session closed first; the work is
// discarded in that case.
func (e *Engine) do(fn func()) bool {
	select {
	case e.cmds <- fn:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *Engine) run(loaded chan<- error) {
	defer close(e.done)
	defer e.shutdown()

	e.preload()

	msgs, err := e.initialFetch()
	if err != nil {
		_ = e.machine.Transition(status.Failed)
		loaded <- err
		return
	}
	for _, m := range msgs {
		e.ingest(m)
	}
	_ = e.machine.Transition(status.Live)
	loaded <- nil

	// The live feed and the poll ticker run concurrently; the reconciler and
	// the idempotent store absorb the duplicate deliveries.
	e.subscribe()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var subErr <-chan error
		if e.sub != nil {
			subErr = e.sub.Err()
		}
		select {
		case <-e.ctx.Done():
			return
		case m := <-e.feed:
			e.ingest(m)
		case <-ticker.C:
			e.poll()
			e.expire()
		case fn := <-e.cmds:
			fn()
		case err := <-subErr:
			e.onFeedDrop(err)
		case <-e.reconnectChan():
			e.reconnectArmed = false
			e.resubscribe()
		}
	}
}

func (e *Engine) shutdown() {
	if e.sub != nil {
		_ = e.sub.Close()
		e.sub = nil
	}
	if e.reconnect != nil {
		e.reconnect.Stop()
	}
	_ = e.machine.Transition(status.Closed)
	e.logger.Info("session closed")
}

// preload seeds the store from the local cache so history shows before the
// network fetch resolves. The cache high-water mark makes the initial fetch
// incremental.
func (e *Engine) preload() {
	if e.history == nil {
		return
	}
	msgs, err := e.history.List(e.roomID)
	if err != nil {
		e.logger.Warn("history preload failed", zap.Error(err))
		return
	}
	for _, m := range msgs {
		e.store.Upsert(m)
	}
	e.lastSeen = e.store.LastCreatedAt()
	if len(msgs) > 0 {
		e.logger.Info("history preloaded", zap.Int("messages", len(msgs)))
	}
}

func (e *Engine) initialFetch() ([]store.Message, error) {
	backoff := e.cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= e.cfg.FetchAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(e.ctx, e.cfg.OpTimeout)
		msgs, err := e.gw.Fetch(opCtx, e.roomID, e.lastSeen)
		cancel()
		if err == nil {
			return msgs, nil
		}
		lastErr = err
		e.logger.Warn("initial fetch failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == e.cfg.FetchAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-e.ctx.Done():
			return nil, e.ctx.Err()
		}
		backoff = min(backoff*2, e.cfg.BackoffCap)
	}
	return nil, lastErr
}

// ingest applies one confirmed message: it settles a matching pending send
// in place, or inserts as new. The high-water mark only ever advances, which
// keeps polling incremental and idempotent.
func (e *Engine) ingest(m store.Message) {
	if m.RoomID != e.roomID {
		return
	}
	if tempID, ok := e.rec.resolve(m); ok {
		e.store.Confirm(tempID, m)
		e.publish(bus.KindSendAck, SendAck{RoomID: e.roomID, TempID: tempID, MsgID: m.ID})
	} else {
		e.store.Upsert(m)
	}
	if m.CreatedAt.After(e.lastSeen) {
		e.lastSeen = m.CreatedAt
	}
	if e.history != nil {
		if err := e.history.Put(m); err != nil {
			e.logger.Warn("cache write failed", zap.String("msg_id", m.ID), zap.Error(err))
		}
	}
}

func (e *Engine) poll() {
	opCtx, cancel := context.WithTimeout(e.ctx, e.cfg.OpTimeout)
	msgs, err := e.gw.Fetch(opCtx, e.roomID, e.lastSeen)
	cancel()
	if err != nil {
		e.logger.Warn("poll failed", zap.Error(err))
		return
	}
	for _, m := range msgs {
		e.ingest(m)
	}
}

func (e *Engine) expire() {
	for _, tempID := range e.rec.tick(e.cfg.PendingWindow) {
		e.logger.Info("pending message presumed delivered", zap.String("temp_id", tempID))
		e.store.MarkConfirmed(tempID)
	}
}

func (e *Engine) subscribe() {
	sub, err := e.gw.Subscribe(e.roomID, e.deliver)
	if err != nil {
		e.logger.Warn("subscribe failed, polling only", zap.Error(err))
		_ = e.machine.Transition(status.Reconnecting)
		e.scheduleResubscribe()
		return
	}
	e.sub = sub
}

// deliver runs on the gateway's feed goroutine and hands the message to the
// loop. A full buffer drops the event; the next poll re-fetches it.
func (e *Engine) deliver(m store.Message) {
	select {
	case e.feed <- m:
	default:
	}
}

func (e *Engine) onFeedDrop(err error) {
	e.logger.Warn("live feed dropped", zap.Error(err))
	if e.sub != nil {
		_ = e.sub.Close()
		e.sub = nil
	}
	_ = e.machine.Transition(status.Reconnecting)

	// Close the gap now rather than waiting out the poll interval.
	e.publish(bus.KindGapPoll, e.roomID)
	e.poll()
	e.scheduleResubscribe()
}

func (e *Engine) scheduleResubscribe() {
	e.attempt++
	delay := e.cfg.BackoffBase
	for i := 1; i < e.attempt && delay < e.cfg.BackoffCap; i++ {
		delay *= 2
	}
	delay = min(delay, e.cfg.BackoffCap)

	if e.reconnect == nil {
		e.reconnect = time.NewTimer(delay)
	} else {
		e.reconnect.Reset(delay)
	}
	e.reconnectArmed = true
}

func (e *Engine) reconnectChan() <-chan time.Time {
	if !e.reconnectArmed {
		return nil
	}
	return e.reconnect.C
}

func (e *Engine) resubscribe() {
	sub, err := e.gw.Subscribe(e.roomID, e.deliver)
	if err != nil {
		e.logger.Warn("resubscribe failed", zap.Int("attempt", e.attempt), zap.Error(err))
		e.scheduleResubscribe()
		return
	}
	e.sub = sub
	e.attempt = 0
	_ = e.machine.Transition(status.Live)
	e.logger.Info("live feed restored")

	// Anything inserted while resubscribing is picked up immediately.
	e.poll()
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
