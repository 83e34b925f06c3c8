package collabclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"section-collab-be/pkg/collaberr"
	"section-collab-be/pkg/events"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

const (
	DefaultDebounce        = 800 * time.Millisecond
	DefaultHighlightTTL    = 2 * time.Second
	DefaultRetryInterval   = 250 * time.Millisecond
	DefaultRetryMaxElapsed = 30 * time.Second
)

var ErrClosed = errors.New("editor closed")

type Options struct {
	// Debounce is the quiet period after the last edit before a section is committed.
	Debounce time.Duration
	// HighlightTTL is how long a remotely changed section stays flagged.
	HighlightTTL         time.Duration
	RetryInitialInterval time.Duration
	// RetryMaxElapsed bounds retries of commits that failed to reach the server.
	RetryMaxElapsed time.Duration
	Logger          Logger
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.HighlightTTL <= 0 {
		o.HighlightTTL = DefaultHighlightTTL
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = DefaultRetryInterval
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = DefaultRetryMaxElapsed
	}
	if o.Logger == nil {
		o.Logger = NewDevelopmentLogger()
	}
	return o
}

type FocusResult struct {
	SectionId string
	// Holder is set when another editor holds the section.
	Holder *events.Holder
	Err    error
}

type SectionView struct {
	Section
	Editing     bool
	Dirty       bool
	ReadOnly    bool
	LockLost    bool
	JustUpdated bool
	Holder      *events.Holder
}

type View struct {
	VersionNumber int
	Sections      []SectionView
}

type sectionState struct {
	held      bool
	acquiring bool
	releasing bool
	blurring  bool
	dirty     bool
	// the lease went away while the section had local edits
	lost bool

	seq      uint64
	inflight int

	gen   uint64
	timer *time.Timer

	focusWaiters []chan FocusResult
	blurWaiters  []chan error
}

// Editor drives one user's editing session on one document. All state is owned
// by a single loop goroutine; network calls run on workers that post their
// results back to the loop, so no public method waits on the network.
type Editor struct {
	backend    Backend
	documentId uuid.UUID
	userId     uuid.UUID
	opts       Options
	log        Logger

	cmds   chan func()
	quit   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sub    Subscription
	once   sync.Once

	// loop-owned
	ws       *Workspace
	states   map[string]*sectionState
	holders  map[string]*events.Holder
	lockSeen map[string]bool
	editing  string
	closing  bool
}

// NewEditor subscribes to the document, loads its current snapshot and starts the loop.
func NewEditor(ctx context.Context, backend Backend, documentId, userId uuid.UUID, opts Options) (*Editor, error) {
	opts = opts.withDefaults()
	workerCtx, cancel := context.WithCancel(context.Background())

	e := &Editor{
		backend:    backend,
		documentId: documentId,
		userId:     userId,
		opts:       opts,
		log:        opts.Logger,
		cmds:       make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        workerCtx,
		cancel:     cancel,
		ws:         NewWorkspace(opts.HighlightTTL),
		states:     make(map[string]*sectionState),
		holders:    make(map[string]*events.Holder),
		lockSeen:   make(map[string]bool),
	}
	go e.loop()

	// Subscribe before fetching so nothing committed in between is missed;
	// the version filter drops whatever the snapshot already covers.
	sub, err := backend.Subscribe(ctx, documentId, Handlers{
		OnSnapshot:   e.ApplySnapshot,
		OnVersion:    e.ApplyVersion,
		OnLockChange: e.ApplyLockChange,
	})
	if err != nil {
		e.stop()
		return nil, err
	}
	e.sub = sub

	snap, err := backend.FetchSnapshot(ctx, documentId)
	if err != nil {
		_ = sub.Close()
		e.stop()
		return nil, err
	}
	if err := e.call(func() { e.applySnapshot(*snap) }); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Editor) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.quit:
			return
		}
	}
}

// post hands fn to the loop without waiting for it to run.
func (e *Editor) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.done:
	}
}

// call runs fn on the loop and waits for it.
func (e *Editor) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case e.cmds <- func() { defer close(ran); fn() }:
		<-ran
		return nil
	case <-e.done:
		return ErrClosed
	}
}

func (e *Editor) spawn(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

func (e *Editor) state(sectionId string) *sectionState {
	st, ok := e.states[sectionId]
	if !ok {
		st = &sectionState{}
		e.states[sectionId] = st
	}
	return st
}

// Focus asks for the section's lease. The channel yields exactly one result.
func (e *Editor) Focus(sectionId string) <-chan FocusResult {
	res := make(chan FocusResult, 1)
	if err := e.call(func() { e.focus(sectionId, res) }); err != nil {
		res <- FocusResult{SectionId: sectionId, Err: err}
	}
	return res
}

func (e *Editor) focus(id string, res chan FocusResult) {
	if e.closing {
		res <- FocusResult{SectionId: id, Err: ErrClosed}
		return
	}
	sec, ok := e.ws.Section(id)
	if !ok {
		res <- FocusResult{SectionId: id, Err: collaberr.NotFound("section", id)}
		return
	}
	if !sec.Editable {
		res <- FocusResult{SectionId: id, Err: collaberr.ErrNotEditable}
		return
	}

	if e.editing != "" && e.editing != id {
		e.blur(e.editing, nil)
	}
	e.editing = id

	st := e.state(id)
	if st.held {
		if st.blurring {
			// refocused before the release went out
			e.finishBlur(id, nil)
		}
		res <- FocusResult{SectionId: id}
		return
	}

	st.focusWaiters = append(st.focusWaiters, res)
	if st.acquiring || st.releasing {
		return
	}
	e.startAcquire(id)
}

func (e *Editor) startAcquire(id string) {
	st := e.state(id)
	st.acquiring = true
	e.spawn(func(ctx context.Context) {
		holder, err := e.backend.AcquireLock(ctx, e.documentId, id)
		e.post(func() { e.acquired(id, holder, err) })
	})
}

func (e *Editor) acquired(id string, holder *events.Holder, err error) {
	st := e.state(id)
	st.acquiring = false
	waiters := st.focusWaiters
	st.focusWaiters = nil

	result := FocusResult{SectionId: id}
	switch {
	case err == nil && (e.editing != id || e.closing):
		st.held = true
		e.blur(id, nil)
		result.Err = fmt.Errorf("%w: focus moved before the lock was granted", collaberr.ErrNotEditing)

	case err == nil:
		st.held = true
		st.lost = false
		if holder != nil {
			e.holders[id] = holder
		}
		if st.dirty {
			// edits left over from a lost lease
			e.schedule(id)
		}

	default:
		if e.editing == id {
			e.editing = ""
		}
		result.Err = err

		var denied *collaberr.LockDeniedError
		if errors.As(err, &denied) {
			h := &events.Holder{
				UserId:     denied.Holder.UserId,
				AcquiredAt: denied.Holder.AcquiredAt,
				ExpiresAt:  denied.Holder.ExpiresAt,
			}
			e.holders[id] = h
			result.Holder = h
		} else if errors.Is(err, collaberr.ErrTransport) {
			result.Err = fmt.Errorf("unable to edit right now: %w", err)
		}
		e.finishBlur(id, nil)
	}

	for _, w := range waiters {
		w <- result
	}
}

// Edit updates the working copy at once and restarts the section's debounce timer.
func (e *Editor) Edit(sectionId, content string) error {
	var err error
	if cerr := e.call(func() { err = e.edit(sectionId, content) }); cerr != nil {
		return cerr
	}
	return err
}

func (e *Editor) edit(id, content string) error {
	st, ok := e.states[id]
	if e.editing != id || !ok || !st.held {
		return collaberr.ErrNotEditing
	}
	e.ws.SetContent(id, content)
	st.dirty = true
	e.schedule(id)
	return nil
}

func (e *Editor) schedule(id string) {
	st := e.state(id)
	st.gen++
	gen := st.gen
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(e.opts.Debounce, func() {
		e.post(func() { e.debounced(id, gen) })
	})
}

func (e *Editor) cancelTimer(st *sectionState) {
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (e *Editor) debounced(id string, gen uint64) {
	st := e.state(id)
	if st.gen != gen {
		return
	}
	st.timer = nil
	e.commit(id)
}

func (e *Editor) commit(id string) {
	st := e.state(id)
	if !st.dirty || !st.held {
		return
	}
	sec, ok := e.ws.Section(id)
	if !ok {
		return
	}

	st.seq++
	seq, content := st.seq, sec.Content
	st.inflight++
	e.spawn(func(ctx context.Context) {
		version, err := e.commitWithRetry(ctx, id, content, seq)
		e.post(func() { e.committed(id, seq, content, version, err) })
	})
}

func (e *Editor) commitWithRetry(ctx context.Context, id, content string, seq uint64) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInitialInterval

	return backoff.Retry(ctx, func() (int, error) {
		version, err := e.backend.CommitSection(ctx, e.documentId, id, content, seq)
		if err == nil {
			return version, nil
		}
		if errors.Is(err, collaberr.ErrTransport) {
			return 0, err
		}
		return 0, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(e.opts.RetryMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.log.Warn("Editor", "Commit failed, retrying", map[string]interface{}{
				"section_id": id,
				"seq":        seq,
				"retry_in":   next.String(),
				"error":      err.Error(),
			})
		}),
	)
}

func (e *Editor) committed(id string, seq uint64, content string, version int, err error) {
	st := e.state(id)
	st.inflight--

	switch {
	case err == nil:
		if seq < st.seq {
			e.log.Debug("Editor", "Discarding stale commit acknowledgment", map[string]interface{}{
				"section_id": id,
				"seq":        seq,
				"latest":     st.seq,
			})
			break
		}
		if sec, ok := e.ws.Section(id); ok && sec.Content == content {
			st.dirty = false
		}
		e.log.Debug("Editor", "Section committed", map[string]interface{}{
			"section_id":     id,
			"seq":            seq,
			"version_number": version,
		})

	case errors.Is(err, collaberr.ErrLockDenied):
		e.leaseLost(id)
		e.finishBlur(id, err)
		return

	case seq < st.seq:
		// superseded by a newer commit of the same section
		e.log.Debug("Editor", "Older commit failed", map[string]interface{}{"section_id": id, "seq": seq, "error": err.Error()})

	case errors.Is(err, collaberr.ErrTransport) && st.held && st.dirty && !e.closing:
		// Still unreachable after a full backoff run: tell blur waiters, then
		// start another run. A pending blur still releases once it lands.
		e.log.Warn("Editor", "Commit still failing, will retry", map[string]interface{}{
			"section_id": id,
			"seq":        seq,
			"error":      err.Error(),
		})
		e.notifyBlur(id, err)
		e.schedule(id)
		return

	default:
		e.log.Warn("Editor", "Commit failed, keeping local content", map[string]interface{}{
			"section_id": id,
			"seq":        seq,
			"error":      err.Error(),
		})
		e.finishBlur(id, err)
		return
	}

	e.maybeRelease(id)
}

func (e *Editor) leaseLost(id string) {
	st := e.state(id)
	st.held = false
	st.lost = true
	e.cancelTimer(st)
	if e.editing == id {
		e.editing = ""
	}
	e.log.Warn("Editor", "Lost the lease on a section, local content kept", map[string]interface{}{
		"section_id": id,
		"dirty":      st.dirty,
	})
}

// Blur commits unsaved content and then releases the lease. The channel yields
// nil once the lease is released, or the commit error that kept it held.
func (e *Editor) Blur(sectionId string) <-chan error {
	res := make(chan error, 1)
	if err := e.call(func() { e.blur(sectionId, res) }); err != nil {
		res <- err
	}
	return res
}

func (e *Editor) blur(id string, waiter chan error) {
	if e.editing == id {
		e.editing = ""
	}

	st, ok := e.states[id]
	switch {
	case !ok:
		notify(waiter, nil)
		return
	case st.acquiring || st.releasing:
		// settled by acquired or released
		if waiter != nil {
			st.blurWaiters = append(st.blurWaiters, waiter)
		}
		return
	case !st.held:
		notify(waiter, nil)
		return
	}

	if waiter != nil {
		st.blurWaiters = append(st.blurWaiters, waiter)
	}
	e.cancelTimer(st)
	st.blurring = true
	e.commit(id)
	e.maybeRelease(id)
}

func (e *Editor) maybeRelease(id string) {
	st := e.state(id)
	if !st.blurring || st.inflight > 0 || st.dirty {
		return
	}
	if !st.held {
		e.finishBlur(id, nil)
		return
	}

	st.held = false
	st.releasing = true
	delete(e.holders, id)
	e.spawn(func(ctx context.Context) {
		err := e.backend.ReleaseLock(ctx, e.documentId, id)
		e.post(func() { e.released(id, err) })
	})
}

func (e *Editor) released(id string, err error) {
	st := e.state(id)
	st.releasing = false
	if err != nil {
		e.log.Warn("Editor", "Release failed, the lease will expire on its own", map[string]interface{}{
			"section_id": id,
			"error":      err.Error(),
		})
	}
	e.finishBlur(id, nil)

	if len(st.focusWaiters) == 0 {
		return
	}
	if e.editing == id && !e.closing {
		e.startAcquire(id)
		return
	}
	waiters := st.focusWaiters
	st.focusWaiters = nil
	for _, w := range waiters {
		w <- FocusResult{SectionId: id, Err: collaberr.ErrNotEditing}
	}
}

func (e *Editor) finishBlur(id string, err error) {
	e.state(id).blurring = false
	e.notifyBlur(id, err)
}

func (e *Editor) notifyBlur(id string, err error) {
	st := e.state(id)
	for _, w := range st.blurWaiters {
		w <- err
	}
	st.blurWaiters = nil
}

func notify(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

// ApplySnapshot, ApplyVersion and ApplyLockChange feed broadcaster events into
// the editor. They are safe to call from any goroutine.
func (e *Editor) ApplySnapshot(snap events.Snapshot) {
	e.post(func() { e.applySnapshot(snap) })
}

func (e *Editor) ApplyVersion(v events.VersionCommitted) {
	e.post(func() { e.applyVersion(v) })
}

func (e *Editor) ApplyLockChange(l events.LockChanged) {
	e.post(func() { e.applyLockChange(l) })
}

func (e *Editor) applySnapshot(snap events.Snapshot) {
	e.applyVersion(snap.Version)

	// Lock events already seen are newer than any snapshot.
	inSnapshot := make(map[string]bool, len(snap.Locks))
	for _, l := range snap.Locks {
		if l.DocumentId != e.documentId || l.Holder == nil {
			continue
		}
		inSnapshot[l.SectionId] = true
		if !e.lockSeen[l.SectionId] {
			e.holders[l.SectionId] = l.Holder
		}
	}
	for id := range e.holders {
		if !inSnapshot[id] && !e.lockSeen[id] {
			delete(e.holders, id)
		}
	}
}

func (e *Editor) applyVersion(v events.VersionCommitted) {
	if v.DocumentId != e.documentId {
		return
	}
	applied, updated := e.ws.ApplyVersion(v, e.protected())
	if applied && len(updated) > 0 {
		e.log.Debug("Editor", "Remote changes applied", map[string]interface{}{
			"version_number": v.VersionNumber,
			"sections":       updated,
		})
	}
}

// protected lists the sections whose local copy must survive reconciliation:
// the one being edited, those still held while a blur commit is in flight,
// and any with unsaved content.
func (e *Editor) protected() map[string]bool {
	out := make(map[string]bool, len(e.states)+1)
	if e.editing != "" {
		out[e.editing] = true
	}
	for id, st := range e.states {
		if st.held || st.dirty {
			out[id] = true
		}
	}
	return out
}

func (e *Editor) applyLockChange(l events.LockChanged) {
	if l.DocumentId != e.documentId {
		return
	}
	id := l.SectionId
	e.lockSeen[id] = true
	st := e.states[id]

	if l.Holder == nil {
		// A FREE for a lease we hold is an echo of an earlier lease; a real
		// loss surfaces on the next commit.
		if st == nil || !st.held {
			delete(e.holders, id)
		}
		return
	}

	e.holders[id] = l.Holder
	if l.Holder.UserId != e.userId && st != nil && st.held {
		e.leaseLost(id)
	}
}

// View returns a consistent copy of the editor state for rendering.
func (e *Editor) View() View {
	var v View
	_ = e.call(func() {
		v.VersionNumber = e.ws.VersionNumber()
		for _, s := range e.ws.Sections() {
			sv := SectionView{
				Section:     s,
				Holder:      e.holders[s.Id],
				JustUpdated: e.ws.JustUpdated(s.Id),
			}
			if st, ok := e.states[s.Id]; ok {
				sv.Editing = e.editing == s.Id && st.held
				sv.Dirty = st.dirty
				sv.LockLost = st.lost
			}
			sv.ReadOnly = sv.Holder != nil && sv.Holder.UserId != e.userId
			v.Sections = append(v.Sections, sv)
		}
	})
	return v
}

// Close blurs every section still held, waits for those commits and releases
// (or ctx), then unsubscribes and stops the loop.
func (e *Editor) Close(ctx context.Context) error {
	var pending []chan error
	err := e.call(func() {
		e.closing = true
		for id, st := range e.states {
			if st.held || st.acquiring || st.releasing {
				ch := make(chan error, 1)
				e.blur(id, ch)
				pending = append(pending, ch)
			}
		}
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, ch := range pending {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
		if ctx.Err() != nil {
			break
		}
	}

	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.stop()
	return errors.Join(errs...)
}

func (e *Editor) stop() {
	e.once.Do(func() {
		e.cancel()
		close(e.quit)
		<-e.done
		e.wg.Wait()
	})
}
