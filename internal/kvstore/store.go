// Package kvstore is the top-level facade: it wires storedb's
// schema and connections, the application-version gate, the reconciliation
// engine and the query surface into the single API an embedding
// application or the kvsync CLI calls.
package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kvsync/kvsync/internal/appversion"
	"github.com/kvsync/kvsync/internal/engine"
	"github.com/kvsync/kvsync/internal/query"
	"github.com/kvsync/kvsync/internal/storedb"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenOptions configures Open. ExpectedAppID/Major/Minor describe the
// calling application's own idea of its data format.
type OpenOptions struct {
	ExpectedAppID    string
	ExpectedMajor    int64
	ExpectedMinor    int64
	UpgradeFunc      appversion.UpgradeFunc
	AuthorName       string
	Logger           *zap.Logger
	Clock            func() time.Time
	AuthorIDProvider engine.AuthorIDProvider
}

// Store is a single open replica: one SQLite file, one reconciliation
// engine bound to a freshly minted author identity, and the query surface
// reading through the same handles.
type Store struct {
	mu      sync.RWMutex
	closed  bool
	handles storedb.Handles
	engine  *engine.Engine
	logger  *zap.Logger
	gate    appversion.Gate
}

// Open opens path, gating on the application-version check and running
// schema migrations, then mints a new author identity for this session.
func Open(path string, opts OpenOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handles, err := storedb.Open(path, logger)
	if err != nil {
		return nil, newOpError("kvstore.open", "opening database", err)
	}

	gate := appversion.Gate{
		Expected: appversion.Identifier{
			ID:    opts.ExpectedAppID,
			Major: opts.ExpectedMajor,
			Minor: opts.ExpectedMinor,
		},
		Upgrade: opts.UpgradeFunc,
	}
	if err := gate.CheckOpen(handles.Write); err != nil {
		_ = handles.Close()
		return nil, translateGateError("kvstore.open", err)
	}

	eng, err := engine.New(engine.Config{
		Handles:    handles,
		AuthorName: opts.AuthorName,
		Clock:      opts.Clock,
		Logger:     logger,
		IDProvider: opts.AuthorIDProvider,
	})
	if err != nil {
		_ = handles.Close()
		return nil, newOpError("kvstore.open", "starting engine", err)
	}

	return &Store{handles: handles, engine: eng, logger: logger, gate: gate}, nil
}

// Close releases the underlying database connections. Later reads, writes,
// queries, merges and backups on a closed Store return ErrClosed; a second
// Close returns nil.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handles.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// LocalAuthorID returns the author identity stamped on writes made through
// this Store.
func (s *Store) LocalAuthorID() AuthorID {
	return AuthorID(s.engine.LocalAuthorID())
}

// WriteText writes a text value at (scope, key).
func (s *Store) WriteText(ctx context.Context, scope Scope, key Key, text string) (Version, error) {
	return s.write(ctx, scope, key, TextValue(text))
}

// WriteJSON validates payload and writes it as a JSON value at (scope, key).
func (s *Store) WriteJSON(ctx context.Context, scope Scope, key Key, payload string) (Version, error) {
	value, err := JSONValue(payload)
	if err != nil {
		return Version{}, err
	}
	return s.write(ctx, scope, key, value)
}

// WriteBlob writes an opaque byte payload with a MIME type hint at (scope, key).
func (s *Store) WriteBlob(ctx context.Context, scope Scope, key Key, mimeType string, data []byte) (Version, error) {
	return s.write(ctx, scope, key, BlobValue(mimeType, data))
}

// Write writes an arbitrary pre-built Value at (scope, key).
func (s *Store) Write(ctx context.Context, scope Scope, key Key, value Value) (Version, error) {
	return s.write(ctx, scope, key, value)
}

func (s *Store) write(ctx context.Context, scope Scope, key Key, value Value) (Version, error) {
	if err := s.checkOpen(); err != nil {
		return Version{}, err
	}
	if key == "" {
		return Version{}, ErrEmptyScopeOrKey
	}

	version, err := s.engine.Write(ctx, engine.WriteRequest{
		Scope:    string(scope),
		Key:      string(key),
		Type:     value.Type(),
		Text:     value.Text(),
		JSONText: value.JSONText(),
		BlobMIME: value.BlobMIME(),
		Blob:     value.Blob(),
	})
	if err != nil {
		return Version{}, newOpError("kvstore.write", "writing entry", err)
	}
	return versionSetFromEngine([]engine.Version{version})[0], nil
}

// WriteInput is one value to write as part of a WriteBulk call.
type WriteInput struct {
	Scope Scope
	Key   Key
	Value Value
}

// WriteBulk writes every input in one transaction, returning one Version
// per input in the same order. Each input still claims its own usn from
// the local author (see DESIGN.md, "erase-version-history usn semantics"
// for the contrast with EraseVersionHistory's single shared bump).
func (s *Store) WriteBulk(ctx context.Context, inputs []WriteInput) ([]Version, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	requests := make([]engine.WriteRequest, 0, len(inputs))
	for _, input := range inputs {
		if input.Key == "" {
			return nil, ErrEmptyScopeOrKey
		}
		requests = append(requests, engine.WriteRequest{
			Scope:    string(input.Scope),
			Key:      string(input.Key),
			Type:     input.Value.Type(),
			Text:     input.Value.Text(),
			JSONText: input.Value.JSONText(),
			BlobMIME: input.Value.BlobMIME(),
			Blob:     input.Value.Blob(),
		})
	}

	versions, err := s.engine.WriteBulk(ctx, requests)
	if err != nil {
		return nil, newOpError("kvstore.write_bulk", "writing entries", err)
	}
	return versionSetFromEngine(versions), nil
}

// Delete writes the null-typed deletion marker at (scope, key).
func (s *Store) Delete(ctx context.Context, scope Scope, key Key) (Version, error) {
	if err := s.checkOpen(); err != nil {
		return Version{}, err
	}
	if key == "" {
		return Version{}, ErrEmptyScopeOrKey
	}
	version, err := s.engine.Delete(ctx, string(scope), string(key))
	if err != nil {
		return Version{}, newOpError("kvstore.delete", "deleting entry", err)
	}
	return versionSetFromEngine([]engine.Version{version})[0], nil
}

// Read returns every live version at (scope, key).
func (s *Store) Read(ctx context.Context, scope Scope, key Key) (VersionSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	versions, err := s.engine.Read(ctx, string(scope), string(key))
	if err != nil {
		return nil, newOpError("kvstore.read", "reading entry", err)
	}
	return versionSetFromEngine(versions), nil
}

// Keys lists every (scope, key) pair holding a non-null-typed entry,
// optionally filtered.
func (s *Store) Keys(scope, key *string) ([]KeyRef, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	refs, err := query.Keys(s.readHandle(), query.Filter{Scope: scope, Key: key})
	if err != nil {
		return nil, newOpError("kvstore.keys", "listing keys", err)
	}
	return keyRefsFromEngine(refs), nil
}

// KeyRef identifies a (scope, key) pair without any version payload.
type KeyRef struct {
	Scope Scope
	Key   Key
}

func keyRefsFromEngine(refs []engine.KeyRef) []KeyRef {
	result := make([]KeyRef, 0, len(refs))
	for _, ref := range refs {
		result = append(result, KeyRef{Scope: Scope(ref.Scope), Key: Key(ref.Key)})
	}
	return result
}

// BulkRead reads every version at every (scope, key) matching scope/key,
// either of which may be nil to mean "any".
func (s *Store) BulkRead(scope, key *string) (map[KeyRef]VersionSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	grouped, err := query.BulkRead(s.readHandle(), query.Filter{Scope: scope, Key: key})
	if err != nil {
		return nil, newOpError("kvstore.bulk_read", "reading entries", err)
	}
	return bulkResultFromEngine(grouped), nil
}

// BulkReadPredicate reads every (scope, key) slot whose entry rows satisfy
// predicate for at least one row.
func (s *Store) BulkReadPredicate(predicate func(AuthorID, Value) bool) (map[KeyRef]VersionSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	grouped, err := query.BulkReadPredicate(s.readHandle(), func(entry storedb.Entry) bool {
		return predicate(AuthorID(entry.AuthorID), valueFromEngineVersion(engine.VersionFromEntry(entry)))
	})
	if err != nil {
		return nil, newOpError("kvstore.bulk_read", "reading entries by predicate", err)
	}
	return bulkResultFromEngine(grouped), nil
}

// BulkReadKeyPrefix reads every (scope, key) slot within scope whose key
// starts with prefix.
func (s *Store) BulkReadKeyPrefix(scope Scope, prefix string) (map[KeyRef]VersionSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	grouped, err := query.BulkReadKeyPrefix(s.readHandle(), string(scope), prefix)
	if err != nil {
		return nil, newOpError("kvstore.bulk_read", "reading entries by key prefix", err)
	}
	return bulkResultFromEngine(grouped), nil
}

// BulkReadKeyList reads every (scope, key) slot within scope whose key
// appears in keys.
func (s *Store) BulkReadKeyList(scope Scope, keys []string) (map[KeyRef]VersionSet, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	grouped, err := query.BulkReadKeyList(s.readHandle(), string(scope), keys)
	if err != nil {
		return nil, newOpError("kvstore.bulk_read", "reading entries by key list", err)
	}
	return bulkResultFromEngine(grouped), nil
}

func bulkResultFromEngine(grouped map[engine.KeyRef][]engine.Version) map[KeyRef]VersionSet {
	result := make(map[KeyRef]VersionSet, len(grouped))
	for ref, versions := range grouped {
		result[KeyRef{Scope: Scope(ref.Scope), Key: Key(ref.Key)}] = versionSetFromEngine(versions)
	}
	return result
}

// SearchText consults the full-text index and returns the matching
// (scope, key) pairs ordered by relevance.
func (s *Store) SearchText(searchQuery string) ([]KeyRef, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	refs, err := query.SearchText(s.readHandle(), searchQuery)
	if err != nil {
		return nil, newOpError("kvstore.search_text", "searching", err)
	}
	return keyRefsFromEngine(refs), nil
}

// Statistics summarizes the store: entry/author/tombstone counts, the
// author-table consistency flag, and the stamped application identifier.
type Statistics struct {
	EntryCount     int64
	AuthorCount    int64
	TombstoneCount int64
	Consistent     bool
	ApplicationID  string
	Major          int64
	Minor          int64
}

// Statistics computes the current Statistics snapshot.
func (s *Store) Statistics() (Statistics, error) {
	if err := s.checkOpen(); err != nil {
		return Statistics{}, err
	}
	stats, err := query.ComputeStatistics(s.readHandle())
	if err != nil {
		return Statistics{}, newOpError("kvstore.statistics", "computing statistics", err)
	}
	return Statistics{
		EntryCount:     stats.EntryCount,
		AuthorCount:    stats.AuthorCount,
		TombstoneCount: stats.TombstoneCount,
		Consistent:     stats.Consistent,
		ApplicationID:  stats.ApplicationID,
		Major:          stats.Major,
		Minor:          stats.Minor,
	}, nil
}

// MergeOptions configures Merge.
type MergeOptions struct {
	DryRun bool
}

// Merge pulls from source everything this Store needs.
// The application-version gate is checked against source before any data
// moves.
func (s *Store) Merge(ctx context.Context, source *Store, opts MergeOptions) ([]KeyRef, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := source.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.gate.CheckMerge(source.handles.Read); err != nil {
		return nil, translateGateError("kvstore.merge", err)
	}

	result, err := s.engine.Merge(ctx, source.engine, engine.MergeOptions{DryRun: opts.DryRun})
	if err != nil {
		return nil, newOpError("kvstore.merge", "merging", err)
	}
	return keyRefsFromEngine(result.Changed), nil
}

// Dominates reports whether this Store's version vector dominates other's.
func (s *Store) Dominates(ctx context.Context, other *Store) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if err := other.checkOpen(); err != nil {
		return false, err
	}
	dominates, err := s.engine.Dominates(ctx, other.engine)
	if err != nil {
		return false, newOpError("kvstore.dominates", "comparing version vectors", err)
	}
	return dominates, nil
}

// EraseVersionHistory collapses the store's causal history onto the local
// author.
func (s *Store) EraseVersionHistory(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.engine.EraseVersionHistory(ctx); err != nil {
		return newOpError("kvstore.erase_version_history", "erasing version history", err)
	}
	return nil
}

// Backup writes a consistent copy of the store's file to destPath.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.engine.Backup(ctx, destPath); err != nil {
		return newOpError("kvstore.backup", "backing up", err)
	}
	return nil
}

// ChangeEvent is one committed slot's delta, as delivered by ChangeObserver.
type ChangeEvent struct {
	Scope    Scope
	Key      Key
	Versions VersionSet
}

// ChangeObserver is the cold observer: one delta per
// committed write, bulk write, or merge touching a slot.
func (s *Store) ChangeObserver(ctx context.Context) (<-chan ChangeEvent, func()) {
	events, unsubscribe := query.ChangeObserver(ctx, s.engine)
	out := make(chan ChangeEvent, 1)
	go func() {
		defer close(out)
		for event := range events {
			out <- ChangeEvent{
				Scope:    Scope(event.Scope),
				Key:      Key(event.Key),
				Versions: versionSetFromEngine(event.Versions),
			}
		}
	}()
	return out, unsubscribe
}

// ReadObserverResult is the hot observer's yielded snapshot: every matched
// (scope, key) slot's current version set.
type ReadObserverResult map[KeyRef]VersionSet

// ReadObserver is the hot observer: it yields the current
// matching set on subscription, then re-yields the full matching set on
// every committed change touching the matched region.
func (s *Store) ReadObserver(ctx context.Context, scope, key *string) (<-chan ReadObserverResult, func()) {
	matches, unsubscribe := query.ReadObserver(ctx, s.engine, s.readHandle(), query.Filter{Scope: scope, Key: key})
	out := make(chan ReadObserverResult, 1)
	go func() {
		defer close(out)
		for match := range matches {
			out <- ReadObserverResult(bulkResultFromEngine(match))
		}
	}()
	return out, unsubscribe
}

func (s *Store) readHandle() *gorm.DB {
	return s.handles.Read
}

func translateGateError(op string, err error) error {
	switch {
	case errors.Is(err, appversion.ErrApplicationDataTooNew):
		return ErrApplicationDataTooNew
	case errors.Is(err, appversion.ErrIncompatibleApplications):
		return ErrIncompatibleApplications
	case errors.Is(err, appversion.ErrMergeSourceIncompatible):
		return ErrMergeSourceIncompatible
	case errors.Is(err, appversion.ErrMergeSourceRequiresUpgrade):
		return ErrMergeSourceRequiresUpgrade
	default:
		return newOpError(op, "application version gate", err)
	}
}
