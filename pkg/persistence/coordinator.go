// Package persistence keeps a room's shared document in two tiers: a local cache that is
// always writable and a remote workspace snapshot that only the host writes.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/astromechza/menuroom/pkg/errs"
	"github.com/astromechza/menuroom/pkg/shareddoc"
	"github.com/astromechza/menuroom/pkg/workspace"
)

const (
	DefaultName        = "Untitled Workspace"
	DefaultDescription = "Collaborative menu workspace"
)

type Options struct {
	RoomID string
	Doc    *shareddoc.Document
	Cache  LocalCache
	// Store may be nil for sessions that never publish a snapshot.
	Store workspace.Store
	// IsHost is consulted before every remote write.
	IsHost           func() bool
	AutosaveInterval time.Duration
	FlushInterval    time.Duration
	// OnFatal is called when the local cache fails; the session has no durable foundation left.
	OnFatal func(error)
	// OnAutosave is called after each periodic save attempt with its result.
	OnAutosave func(error)
}

type Coordinator struct {
	opts   Options
	loaded chan struct{}

	mu          sync.Mutex
	workspaceID string
	knownName   string
	knownDesc   string
	lastSaved   time.Time
	dirty       bool
	discarded   bool
	unsubscribe func()
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = 10 * time.Second
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.IsHost == nil {
		opts.IsHost = func() bool { return false }
	}
	return &Coordinator{opts: opts, loaded: make(chan struct{})}
}

// Open attaches the local cache: any state cached under the room id is merged into the
// document before Loaded fires. A failure here is fatal to the session.
func (c *Coordinator) Open(ctx context.Context) error {
	raw, ok, err := c.opts.Cache.Load(ctx, c.opts.RoomID)
	if err != nil {
		return errs.LocalPersistence("open", err)
	}
	if ok {
		if err := c.opts.Doc.MergeRaw(raw); err != nil {
			return errs.LocalPersistence("open", err)
		}
		slog.InfoContext(ctx, "rehydrated room from local cache", "room", c.opts.RoomID, "bytes", len(raw))
	}
	if n, err := c.opts.Doc.NewerRecords(); err == nil && n > 0 {
		slog.WarnContext(ctx, "document contains records from a newer schema", "room", c.opts.RoomID, "records", n)
	}
	c.mu.Lock()
	c.unsubscribe = c.opts.Doc.OnChange(func(shareddoc.Change) {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
	})
	c.mu.Unlock()
	close(c.loaded)
	return nil
}

// Loaded is closed once local state has been applied.
func (c *Coordinator) Loaded() <-chan struct{} {
	return c.loaded
}

// Run flushes the local cache and autosaves the remote snapshot until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	flush := time.NewTicker(c.opts.FlushInterval)
	defer flush.Stop()
	autosave := time.NewTicker(c.opts.AutosaveInterval)
	defer autosave.Stop()
	for {
		select {
		case <-flush.C:
			if err := c.FlushLocal(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to write local cache", "err", err)
				if c.opts.OnFatal != nil {
					c.opts.OnFatal(err)
				}
				return
			}
		case <-autosave.C:
			if !c.opts.IsHost() || c.WorkspaceID() == "" {
				continue
			}
			err := c.Save(ctx, false)
			if c.opts.OnAutosave != nil {
				c.opts.OnAutosave(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// FlushLocal writes the document to the local cache if it changed since the last flush.
func (c *Coordinator) FlushLocal(ctx context.Context) error {
	c.mu.Lock()
	if !c.dirty || c.discarded {
		c.mu.Unlock()
		return nil
	}
	c.dirty = false
	c.mu.Unlock()
	if err := c.opts.Cache.Store(ctx, c.opts.RoomID, c.opts.Doc.Save()); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return errs.LocalPersistence("flush", err)
	}
	return nil
}

// WorkspaceID returns the established workspace id, falling back to the id carried by the
// document (set by whichever peer first persisted the workspace).
func (c *Coordinator) WorkspaceID() string {
	c.mu.Lock()
	id := c.workspaceID
	c.mu.Unlock()
	if id != "" {
		return id
	}
	meta, err := c.opts.Doc.WorkspaceMeta()
	if err != nil {
		return ""
	}
	return meta.ID
}

func (c *Coordinator) LastSaved() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved
}

// EnsureWorkspace establishes a workspace id, creating a remote workspace if neither this
// coordinator nor the document has one. Host only.
func (c *Coordinator) EnsureWorkspace(ctx context.Context) (string, error) {
	if id := c.WorkspaceID(); id != "" {
		c.mu.Lock()
		c.workspaceID = id
		c.mu.Unlock()
		return id, nil
	}
	if !c.opts.IsHost() {
		return "", errs.ErrNotHost
	}
	if c.opts.Store == nil {
		return "", errs.Persistence("create workspace", fmt.Errorf("no snapshot store configured"))
	}
	meta, err := c.opts.Doc.WorkspaceMeta()
	if err != nil {
		return "", err
	}
	name, desc := c.resolveMeta(meta)
	w, err := c.opts.Store.CreateWorkspace(ctx, workspace.Meta{Name: name, Description: desc})
	if err != nil {
		return "", errs.Persistence("create workspace", err)
	}
	if err := c.opts.Doc.SetWorkspaceMeta(name, desc, w.ID); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.workspaceID = w.ID
	c.knownName, c.knownDesc = name, desc
	c.mu.Unlock()
	slog.InfoContext(ctx, "created workspace", "room", c.opts.RoomID, "workspace", w.ID)
	return w.ID, nil
}

// Save writes the current tabs, configs and workspace metadata as the remote snapshot. A
// manual save returns its failure to the caller; an autosave only logs it.
func (c *Coordinator) Save(ctx context.Context, manual bool) error {
	err := c.save(ctx)
	if err != nil && !manual {
		slog.WarnContext(ctx, "autosave failed", "room", c.opts.RoomID, "err", err)
	}
	return err
}

func (c *Coordinator) save(ctx context.Context) error {
	if !c.opts.IsHost() {
		return errs.ErrNotHost
	}
	id := c.WorkspaceID()
	if id == "" {
		return errs.ErrNoWorkspace
	}
	if c.opts.Store == nil {
		return errs.Persistence("save", fmt.Errorf("no snapshot store configured"))
	}
	snap, err := c.opts.Doc.Snapshot()
	if err != nil {
		return errs.Persistence("save", err)
	}
	snap.Workspace.Name, snap.Workspace.Description = c.resolveMeta(snap.Workspace)
	snap.Workspace.ID = id
	data, err := json.Marshal(snap)
	if err != nil {
		return errs.Persistence("save", err)
	}
	if err := c.opts.Store.UpdateWorkspace(ctx, id, workspace.Update{
		Name:        snap.Workspace.Name,
		Description: snap.Workspace.Description,
		Data:        data,
		MenuCount:   len(snap.Tabs),
	}); err != nil {
		return errs.Persistence("save", err)
	}
	c.mu.Lock()
	c.workspaceID = id
	c.knownName, c.knownDesc = snap.Workspace.Name, snap.Workspace.Description
	c.lastSaved = time.Now()
	c.mu.Unlock()
	slog.DebugContext(ctx, "saved workspace", "room", c.opts.RoomID, "workspace", id, "menus", len(snap.Tabs))
	return nil
}

// Load fetches a workspace snapshot and applies it to the document in one change. The
// workspace record's own name wins over the embedded one unless it is a placeholder.
func (c *Coordinator) Load(ctx context.Context, workspaceID string) error {
	if c.opts.Store == nil {
		return errs.Persistence("load", fmt.Errorf("no snapshot store configured"))
	}
	w, err := c.opts.Store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return errs.Persistence("load", err)
	}
	var snap shareddoc.Snapshot
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, &snap); err != nil {
			return errs.Persistence("load", fmt.Errorf("failed to decode snapshot: %w", err))
		}
	}
	name := w.Name
	if IsPlaceholder(name) && !IsPlaceholder(snap.Workspace.Name) {
		name = snap.Workspace.Name
	}
	desc := w.Description
	if desc == "" {
		desc = snap.Workspace.Description
	}
	snap.Workspace = shareddoc.WorkspaceMeta{ID: workspaceID, Name: name, Description: desc}
	if len(snap.Tabs) == 0 {
		current, err := c.opts.Doc.Snapshot()
		if err != nil {
			return errs.Persistence("load", err)
		}
		snap.Tabs, snap.Configs = current.Tabs, current.Configs
	}
	if err := c.opts.Doc.ApplySnapshot(snap); err != nil {
		return errs.Persistence("load", err)
	}
	c.mu.Lock()
	c.workspaceID = workspaceID
	c.knownName, c.knownDesc = name, desc
	c.mu.Unlock()
	slog.InfoContext(ctx, "loaded workspace", "room", c.opts.RoomID, "workspace", workspaceID, "menus", len(snap.Tabs))
	return nil
}

// ClearLocal deletes the room from the local cache and stops any further flushes.
func (c *Coordinator) ClearLocal(ctx context.Context) error {
	c.mu.Lock()
	c.discarded = true
	c.mu.Unlock()
	if err := c.opts.Cache.Delete(ctx, c.opts.RoomID); err != nil {
		return errs.LocalPersistence("clear", err)
	}
	return nil
}

// Close detaches from the document and writes a final local flush.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	return c.FlushLocal(ctx)
}

// resolveMeta never lets an empty or placeholder name replace one that was saved before.
func (c *Coordinator) resolveMeta(meta shareddoc.WorkspaceMeta) (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, desc := meta.Name, meta.Description
	if IsPlaceholder(name) {
		switch {
		case !IsPlaceholder(c.knownName):
			name = c.knownName
		case strings.TrimSpace(name) == "":
			name = DefaultName
		}
	}
	if strings.TrimSpace(desc) == "" {
		desc = c.knownDesc
		if strings.TrimSpace(desc) == "" {
			desc = DefaultDescription
		}
	}
	return name, desc
}

// IsPlaceholder reports whether name is unset or one of the generated "Untitled" names.
func IsPlaceholder(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.HasPrefix(name, "Untitled")
}
