/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package watch implements the Watch Dispatcher (C9): debounces filesystem
// events into coalesced, batched compilation jobs, generalizing the
// debounce-timer pattern in the teacher's generate.WatchSession to the
// insertion-ordered PendingChange map and chunked all-settled batch
// processing described in §4.7.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"ignite.build/core/internal/logging"
	"ignite.build/core/internal/platform"
	"ignite.build/core/transform"
)

// Action is the kind of filesystem change for a pending path.
type Action string

const (
	ActionAdd    Action = "add"
	ActionChange Action = "change"
	ActionUnlink Action = "unlink"
)

// PendingChange is one coalesced filesystem event awaiting batch processing
// (§3).
type PendingChange struct {
	Path       string
	Action     Action
	EnqueuedAt time.Time
}

const (
	// DefaultDebounceDelay is DEBOUNCE_DELAY (§4.7).
	DefaultDebounceDelay = 300 * time.Millisecond
	// DefaultBatchSize is BATCH_SIZE (§4.7).
	DefaultBatchSize = 10
)

// Handler processes one coalesced file batch. CompileOne is invoked for
// every add/change path (outside the additional-watch globs); Unlink is
// invoked, sequentially and first, for every unlink path; AdditionalWatch is
// invoked for a path matched only by an additional-watch glob and always
// yields a full-reload directive without compilation.
type Handler struct {
	CompileOne      func(ctx context.Context, path string) error
	Unlink          func(ctx context.Context, path string) error
	AdditionalWatch func(ctx context.Context, path string)
}

// Dispatcher is the Watch Dispatcher (C9).
type Dispatcher struct {
	handler Handler

	debounceDelay time.Duration
	batchSize     int
	sourceRoots   []string
	additionalGlobs []string
	ignore        *gitignore.GitIgnore

	watcher platform.FileWatcher

	mu      sync.Mutex
	pending map[string]PendingChange
	timer   *time.Timer
	inFlight bool
}

// Options configures a Dispatcher.
type Options struct {
	DebounceDelay   time.Duration
	BatchSize       int
	SourceRoots     []string
	AdditionalWatch []string
	// GitignorePath, if non-empty, is loaded to exclude matching paths from
	// the watch set (SUPPLEMENTED FEATURE 1 in SPEC_FULL.md).
	GitignorePath string
}

// New constructs a Dispatcher wired to an fsnotify-backed FileWatcher.
func New(watcher platform.FileWatcher, handler Handler, opts Options) *Dispatcher {
	delay := opts.DebounceDelay
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	var ign *gitignore.GitIgnore
	if opts.GitignorePath != "" {
		if compiled, err := gitignore.CompileIgnoreFile(opts.GitignorePath); err == nil {
			ign = compiled
		}
	}

	return &Dispatcher{
		handler:         handler,
		debounceDelay:   delay,
		batchSize:       batch,
		sourceRoots:     opts.SourceRoots,
		additionalGlobs: opts.AdditionalWatch,
		ignore:          ign,
		watcher:         watcher,
		pending:         make(map[string]PendingChange),
	}
}

// Run consumes watcher events until ctx is cancelled, debouncing into
// batches per §4.7.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			logging.Warning("watch: file watcher error: %v", err)
		}
	}
}

func (d *Dispatcher) handleEvent(event platform.FileWatchEvent) {
	if d.shouldIgnore(event.Name) {
		return
	}

	action := actionFor(event.Op)

	d.mu.Lock()
	d.enqueueLocked(event.Name, action)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounceDelay, d.flush)
	d.mu.Unlock()
}

// enqueueLocked inserts or merges a pending change. Compatible-action
// collapsing per §4.7: add/change collapse to the latest action, unlink
// dominates, and add-after-unlink resets the entry to add.
func (d *Dispatcher) enqueueLocked(path string, action Action) {
	existing, ok := d.pending[path]
	if !ok {
		d.pending[path] = PendingChange{Path: path, Action: action, EnqueuedAt: time.Now()}
		return
	}

	next := existing.Action
	switch {
	case existing.Action == ActionUnlink && action == ActionAdd:
		next = ActionAdd
	case existing.Action == ActionUnlink:
		next = ActionUnlink // unlink dominates unless followed by add
	case action == ActionUnlink:
		next = ActionUnlink
	default:
		next = action // add/change collapse to the latest
	}
	d.pending[path] = PendingChange{Path: path, Action: next, EnqueuedAt: existing.EnqueuedAt}
}

func actionFor(op platform.WatchOp) Action {
	switch {
	case op&platform.Remove != 0:
		return ActionUnlink
	case op&platform.Create != 0:
		return ActionAdd
	default:
		return ActionChange
	}
}

func (d *Dispatcher) shouldIgnore(path string) bool {
	if d.ignore != nil && d.ignore.MatchesPath(path) {
		return true
	}
	base := filepath.Base(path)
	return base == ".git" || filepath.Ext(base) == ".swp" || len(base) > 0 && base[len(base)-1] == '~'
}

// flush is invoked by the debounce timer. Re-entrancy per §4.7: a fresh
// PendingChange map is installed before processing begins, so events that
// arrive mid-batch enqueue into the next batch rather than being dropped.
// The dispatcher processes one batch at a time.
func (d *Dispatcher) flush() {
	d.mu.Lock()
	if d.inFlight {
		// A batch is already running; its own completion will re-arm the
		// timer if new events arrived meanwhile. Re-debounce instead of
		// running two batches concurrently.
		d.timer = time.AfterFunc(d.debounceDelay, d.flush)
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = make(map[string]PendingChange)
	d.inFlight = true
	d.mu.Unlock()

	d.processBatch(context.Background(), batch)

	d.mu.Lock()
	d.inFlight = false
	hasMore := len(d.pending) > 0
	d.mu.Unlock()

	if hasMore {
		d.mu.Lock()
		d.timer = time.AfterFunc(d.debounceDelay, d.flush)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) processBatch(ctx context.Context, batch map[string]PendingChange) {
	var unlinks, rest []PendingChange
	for _, c := range batch {
		if c.Action == ActionUnlink {
			unlinks = append(unlinks, c)
		} else {
			rest = append(rest, c)
		}
	}

	// unlink events are handled first, sequentially.
	for _, c := range unlinks {
		if d.handler.Unlink != nil {
			if err := d.handler.Unlink(ctx, c.Path); err != nil {
				logging.Warning("watch: unlink handler failed for %s: %v", c.Path, err)
			}
		}
	}

	// Remaining events are chunked to BATCH_SIZE and processed all-settled.
	for i := 0; i < len(rest); i += d.batchSize {
		end := min(i+d.batchSize, len(rest))
		d.processChunk(ctx, rest[i:end])
	}
}

func (d *Dispatcher) processChunk(ctx context.Context, chunk []PendingChange) {
	var wg sync.WaitGroup
	for _, c := range chunk {
		wg.Add(1)
		go func(c PendingChange) {
			defer wg.Done()
			d.processOne(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (d *Dispatcher) processOne(ctx context.Context, c PendingChange) {
	if d.isAdditionalWatchOnly(c.Path) {
		if d.handler.AdditionalWatch != nil {
			d.handler.AdditionalWatch(ctx, c.Path)
		}
		return
	}
	if d.handler.CompileOne != nil {
		if err := d.handler.CompileOne(ctx, c.Path); err != nil {
			logging.Warning("watch: compile failed for %s: %v", c.Path, err)
		}
	}
}

// isAdditionalWatchOnly reports whether path is matched only by the
// additional-watch globs (and so should skip compilation entirely, per
// §4.7 "Additional-watch files"): it lies outside every configured source
// root, but matches one of the additional-watch globs.
func (d *Dispatcher) isAdditionalWatchOnly(path string) bool {
	for _, root := range d.sourceRoots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return false // under a source root: compile normally
		}
	}
	return transform.MatchesAdditionalWatch(path, d.additionalGlobs)
}
