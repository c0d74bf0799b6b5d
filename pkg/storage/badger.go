// BadgerDatastore provides persistent disk-based storage using BadgerDB.
package storage

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BadgerDatastore is a Datastore over an embedded BadgerDB instance.
//
// Features:
//   - Every single-item operation runs in one Badger transaction
//   - Query-scoped deletes and sets are planned on a snapshot and applied
//     in as few commits as Badger's batch limits allow; a vertex cascade
//     is never split across commits
//   - Reads see a consistent snapshot per operation
//   - Reverse edge index for inbound traversal
//   - Type indexes for by-type scans with resume cursors
//   - Optional encryption at rest
//
// Key Structure:
//   - Vertices: 0x01 + id -> type
//   - Edges: 0x02 + out + type + 0x00 + in -> update timestamp (8 bytes, BE ns)
//   - Reverse Edges: 0x03 + in + type + 0x00 + out -> empty
//   - Vertex Properties: 0x04 + id + len16(name) + name -> JSON
//   - Edge Properties: 0x05 + out + type + 0x00 + in + len16(name) + name -> JSON
//   - Vertex Type Index: 0x06 + type + 0x00 + id -> empty
//   - Edge Type Index: 0x07 + type + 0x00 + out + in -> empty
//
// Creating a vertex with an id that already exists overwrites its type and
// keeps its edges and properties.
//
// Example:
//
//	ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{
//		DataDir: "./data/vertexdb",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ds.Close()
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines. Mutations are
//	serialized by a writer lock so concurrent writers never fail with
//	transaction conflicts; reads run concurrently with everything.
type BadgerDatastore struct {
	db      *badger.DB
	limits  Limits
	clock   *Clock
	logger  *zap.Logger
	mu      sync.RWMutex // Protects closed
	writeMu sync.Mutex
	closed  bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// LowMemory enables memory-constrained settings.
	// Smaller memtables also lower the maximum size of one operation.
	LowMemory bool

	// EncryptionPassphrase enables encryption at rest. The AES key is
	// derived from the passphrase and a salt stored next to the data.
	EncryptionPassphrase string

	// Limits caps result and value sizes.
	Limits Limits

	// Logger receives lifecycle events and BadgerDB's own log output.
	// A nil logger discards everything.
	Logger *zap.Logger
}

// badgerLogger routes BadgerDB's internal logging to zap. Badger is chatty
// at info level, so info messages are demoted to debug.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.s.Warnf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}

// NewBadgerDatastore opens (or creates) a BadgerDB-backed datastore.
//
// Example - In-Memory Database for Testing:
//
//	ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{InMemory: true})
//
// Example - Encrypted store:
//
//	ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{
//		DataDir:              "./data/vertexdb",
//		EncryptionPassphrase: os.Getenv("VERTEXDB_PASSPHRASE"),
//	})
func NewBadgerDatastore(opts BadgerOptions) (*BadgerDatastore, error) {
	if !opts.InMemory && opts.DataDir == "" {
		return nil, errors.New("badger: data directory required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{s: logger.Named("badger").Sugar()})

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).            // 2 instead of 5
			WithNumLevelZeroTables(2).      // 2 instead of 5
			WithNumLevelZeroTablesStall(4). // 4 instead of 15
			WithBlockCacheSize(32 << 20)    // 32MB block cache
	}

	if opts.EncryptionPassphrase != "" {
		key, err := deriveEncryptionKey(opts.EncryptionPassphrase, opts.DataDir, opts.InMemory)
		if err != nil {
			return nil, err
		}
		// Badger requires an index cache when encryption is on.
		badgerOpts = badgerOpts.
			WithEncryptionKey(key).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, wrapIO("open badger", err)
	}

	logger.Info("badger datastore opened",
		zap.String("dir", opts.DataDir),
		zap.Bool("in_memory", opts.InMemory),
		zap.Bool("encrypted", opts.EncryptionPassphrase != ""))

	return &BadgerDatastore{
		db:     db,
		limits: opts.Limits.WithDefaults(),
		clock:  NewClock(),
		logger: logger,
	}, nil
}

// Transaction returns an operation handle.
func (b *BadgerDatastore) Transaction() (Transaction, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return &badgerTransaction{b: b}, nil
}

// Close closes the BadgerDB database.
func (b *BadgerDatastore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.logger.Info("badger datastore closed")
	return wrapIO("close badger", b.db.Close())
}

// Sync forces a sync of all data to disk.
func (b *BadgerDatastore) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return wrapIO("sync", b.db.Sync())
}

// RunGC runs garbage collection on the BadgerDB value log until no more
// files can be rewritten. Should be called periodically for long-running
// applications.
func (b *BadgerDatastore) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	rewrites := 0
	for {
		err := b.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			break
		}
		if err != nil {
			return wrapIO("value log gc", err)
		}
		rewrites++
	}
	b.logger.Debug("value log gc finished", zap.Int("rewrites", rewrites))
	return nil
}

// Size returns the approximate size of the database in bytes.
func (b *BadgerDatastore) Size() (lsm, vlog int64) {
	if b.checkOpen() != nil {
		return 0, 0
	}
	return b.db.Size()
}

func (b *BadgerDatastore) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// view runs fn in a read-only snapshot.
func (b *BadgerDatastore) view(op string, fn func(r *badgerReader) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return wrapIO(op, b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerReader{txn: txn})
	}))
}

// update runs fn in one read-write transaction committed atomically.
func (b *BadgerDatastore) update(op string, fn func(r *badgerReader) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerReader{txn: txn})
	})
	if err != nil && !isKnown(err) {
		b.logger.Warn("badger write failed", zap.String("op", op), zap.Error(err))
	}
	return wrapIO(op, err)
}

// ============================================================================
// graphReader over a Badger transaction
// ============================================================================

type badgerReader struct {
	txn *badger.Txn
}

// exists reports whether key is present.
func (r *badgerReader) exists(key []byte) (bool, error) {
	_, err := r.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// get returns a copy of the value under key.
func (r *badgerReader) get(key []byte) ([]byte, bool, error) {
	item, err := r.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// keys collects every key under prefix, starting at seek. The iterator is
// closed before returning, which read-write transactions require before
// another iterator is opened.
func (r *badgerReader) keys(prefix, seek []byte, limit int, skip func(key []byte) bool) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := r.txn.NewIterator(opts)
	defer it.Close()

	if seek == nil {
		seek = prefix
	}
	var out [][]byte
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if limit >= 0 && len(out) >= limit {
			break
		}
		key := it.Item().KeyCopy(nil)
		if skip != nil && skip(key) {
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

// count counts the keys under prefix.
func (r *badgerReader) count(prefix []byte) uint64 {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := r.txn.NewIterator(opts)
	defer it.Close()

	var n uint64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

func (r *badgerReader) vertexType(id uuid.UUID) (Type, bool, error) {
	val, ok, err := r.get(vertexKey(id))
	if err != nil || !ok {
		return "", ok, err
	}
	return Type(val), true, nil
}

func (r *badgerReader) scanVertices(t *Type, after *uuid.UUID, limit int) ([]Vertex, error) {
	if t != nil {
		prefix := vertexTypePrefix(*t)
		var seek []byte
		if after != nil {
			seek = vertexTypeKey(*t, *after)
		}
		keys, err := r.keys(prefix, seek, limit, func(key []byte) bool {
			return after != nil && string(key) == string(seek)
		})
		if err != nil {
			return nil, err
		}
		out := make([]Vertex, 0, len(keys))
		for _, key := range keys {
			id, err := parseVertexTypeKey(key, *t)
			if err != nil {
				return nil, err
			}
			out = append(out, Vertex{ID: id, Type: *t})
		}
		return out, nil
	}

	prefix := []byte{prefixVertex}
	var seek []byte
	if after != nil {
		seek = vertexKey(*after)
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := r.txn.NewIterator(opts)
	defer it.Close()

	if seek == nil {
		seek = prefix
	}
	var out []Vertex
	for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
		item := it.Item()
		if after != nil && string(item.Key()) == string(seek) {
			continue
		}
		id, err := parseVertexKey(item.Key())
		if err != nil {
			return nil, err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, Vertex{ID: id, Type: Type(val)})
	}
	return out, nil
}

func (r *badgerReader) edgeTime(key EdgeKey) (time.Time, bool, error) {
	val, ok, err := r.get(edgeKey(key))
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	ts, err := decodeTimestamp(val)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (r *badgerReader) scanEdges(t *Type, after *EdgeKey, limit int) ([]Edge, error) {
	if t != nil {
		// The type index holds out + in after the type, so edges of one
		// type come back in canonical order. A cursor of any type resumes
		// at its outbound id; keys at or before it are skipped.
		prefix := edgeTypePrefix(*t)
		var seek []byte
		if after != nil {
			seek = append(edgeTypePrefix(*t), after.OutboundID[:]...)
		}
		var parseErr error
		keys, err := r.keys(prefix, seek, limit, func(key []byte) bool {
			if after == nil {
				return false
			}
			k, err := parseEdgeTypeKey(key, *t)
			if err != nil {
				parseErr = err
				return true
			}
			return k.Compare(*after) <= 0
		})
		if err != nil {
			return nil, err
		}
		if parseErr != nil {
			return nil, parseErr
		}
		out := make([]Edge, 0, len(keys))
		for _, key := range keys {
			k, err := parseEdgeTypeKey(key, *t)
			if err != nil {
				return nil, err
			}
			ts, ok, err := r.edgeTime(k)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, Edge{Key: k, UpdatedAt: ts})
			}
		}
		return out, nil
	}

	prefix := []byte{prefixEdge}
	seek := prefix
	if after != nil {
		seek = edgeKey(*after)
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := r.txn.NewIterator(opts)
	defer it.Close()

	var out []Edge
	for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
		item := it.Item()
		if after != nil && string(item.Key()) == string(seek) {
			continue
		}
		edge, err := r.decodeEdgeItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, nil
}

func (r *badgerReader) decodeEdgeItem(item *badger.Item) (Edge, error) {
	k, err := parseEdgeKey(item.Key())
	if err != nil {
		return Edge{}, err
	}
	var ts time.Time
	err = item.Value(func(val []byte) error {
		var decodeErr error
		ts, decodeErr = decodeTimestamp(val)
		return decodeErr
	})
	if err != nil {
		return Edge{}, err
	}
	return Edge{Key: k, UpdatedAt: ts}, nil
}

func (r *badgerReader) incidentEdges(id uuid.UUID, dir EdgeDirection, t *Type, limit int) ([]Edge, error) {
	if dir == Outbound {
		prefix := outboundEdgePrefix(id, t)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := r.txn.NewIterator(opts)
		defer it.Close()

		var out []Edge
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			edge, err := r.decodeEdgeItem(it.Item())
			if err != nil {
				return nil, err
			}
			out = append(out, edge)
		}
		return out, nil
	}

	keys, err := r.keys(inboundEdgePrefix(id, t), nil, limit, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(keys))
	for _, key := range keys {
		k, err := parseReverseEdgeKey(key)
		if err != nil {
			return nil, err
		}
		ts, ok, err := r.edgeTime(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Edge{Key: k, UpdatedAt: ts})
		}
	}
	return out, nil
}

func (r *badgerReader) vertexProperty(id uuid.UUID, name string) (json.RawMessage, bool, error) {
	val, ok, err := r.get(vertexPropertyKey(id, name))
	return val, ok, err
}

func (r *badgerReader) edgeProperty(key EdgeKey, name string) (json.RawMessage, bool, error) {
	val, ok, err := r.get(edgePropertyKey(key, name))
	return val, ok, err
}

// properties lists every property under prefix, ordered by name.
func (r *badgerReader) properties(prefix []byte) ([]NamedProperty, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := r.txn.NewIterator(opts)
	defer it.Close()

	var out []NamedProperty
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		name, err := parseName(item.Key(), len(prefix))
		if err != nil {
			return nil, err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, NamedProperty{Name: name, Value: val})
	}
	// Keys order names by length first.
	sortNamed(out)
	return out, nil
}

// ============================================================================
// Mutation helpers (run inside update)
// ============================================================================

func (r *badgerReader) putVertex(v Vertex) error {
	old, exists, err := r.vertexType(v.ID)
	if err != nil {
		return err
	}
	if exists && old != v.Type {
		if err := r.txn.Delete(vertexTypeKey(old, v.ID)); err != nil {
			return err
		}
	}
	if err := r.txn.Set(vertexKey(v.ID), []byte(v.Type)); err != nil {
		return err
	}
	return r.txn.Set(vertexTypeKey(v.Type, v.ID), []byte{})
}

func (r *badgerReader) putEdge(k EdgeKey, ts int64) error {
	if err := r.txn.Set(edgeKey(k), encodeTimestamp(ts)); err != nil {
		return err
	}
	if err := r.txn.Set(reverseEdgeKey(k), []byte{}); err != nil {
		return err
	}
	return r.txn.Set(edgeTypeKey(k), []byte{})
}

// ============================================================================
// Chunked writes for query-scoped mutations
// ============================================================================

// writeOverhead approximates what Badger charges per entry on top of key and
// value (meta byte, user meta, expiry and the version suffix).
const writeOverhead = 16

// badgerWrite is one planned mutation: a Set of value, or a Delete.
type badgerWrite struct {
	key   []byte
	value []byte
	del   bool
}

// writeGroup holds writes that must land in the same commit.
type writeGroup []badgerWrite

func (g writeGroup) cost() (count, size int64) {
	for _, w := range g {
		count++
		size += int64(len(w.key)+len(w.value)) + writeOverhead
	}
	return count, size
}

func deleteWrite(key []byte) badgerWrite { return badgerWrite{key: key, del: true} }

// updateInChunks runs plan against a read-only snapshot, then applies the
// planned groups. All scans happen before the first write: an iterator on a
// read-write transaction re-sorts every pending write, which made cascades
// quadratic. Groups are packed into as few commits as Badger's batch limits
// allow and never split. It returns the number of groups applied.
func (b *BadgerDatastore) updateInChunks(op string, plan func(r *badgerReader) ([]writeGroup, error)) (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var groups []writeGroup
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		groups, err = plan(&badgerReader{txn: txn})
		return err
	})
	if err == nil {
		err = b.applyGroups(op, groups)
	}
	if err != nil {
		if !isKnown(err) {
			b.logger.Warn("badger write failed", zap.String("op", op), zap.Error(err))
		}
		return 0, wrapIO(op, err)
	}
	return len(groups), nil
}

// applyGroups commits groups in order. A group larger than one Badger
// transaction fails with badger.ErrTxnTooBig; groups committed before it
// stay committed.
func (b *BadgerDatastore) applyGroups(op string, groups []writeGroup) error {
	maxCount, maxSize := b.db.MaxBatchCount(), b.db.MaxBatchSize()

	txn := b.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	var count, size int64
	commits := 1
	for _, g := range groups {
		gCount, gSize := g.cost()
		if count > 0 && (count+gCount >= maxCount || size+gSize >= maxSize) {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = b.db.NewTransaction(true)
			count, size = 0, 0
			commits++
		}
		for _, w := range g {
			var err error
			if w.del {
				err = txn.Delete(w.key)
			} else {
				err = txn.Set(w.key, w.value)
			}
			if err != nil {
				return err
			}
		}
		count += gCount
		size += gSize
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	if commits > 1 {
		b.logger.Debug("badger write split across commits",
			zap.String("op", op),
			zap.Int("groups", len(groups)),
			zap.Int("commits", commits))
	}
	return nil
}

// edgeDeletes plans the removal of an edge, its index entries and its
// properties.
func (r *badgerReader) edgeDeletes(k EdgeKey) (writeGroup, error) {
	props, err := r.keys(edgePropertyPrefix(k), nil, -1, nil)
	if err != nil {
		return nil, err
	}
	g := make(writeGroup, 0, len(props)+3)
	for _, key := range props {
		g = append(g, deleteWrite(key))
	}
	return append(g,
		deleteWrite(edgeTypeKey(k)),
		deleteWrite(reverseEdgeKey(k)),
		deleteWrite(edgeKey(k)),
	), nil
}

// vertexDeletes plans the removal of a vertex with its type index entry,
// every incident edge in both directions and every dependent property.
// Edges already in seen belong to an earlier group and are skipped.
func (r *badgerReader) vertexDeletes(v Vertex, seen map[EdgeKey]struct{}) (writeGroup, error) {
	outKeys, err := r.keys(outboundEdgePrefix(v.ID, nil), nil, -1, nil)
	if err != nil {
		return nil, err
	}
	inKeys, err := r.keys(inboundEdgePrefix(v.ID, nil), nil, -1, nil)
	if err != nil {
		return nil, err
	}

	var g writeGroup
	addEdge := func(k EdgeKey) error {
		if _, ok := seen[k]; ok {
			return nil
		}
		seen[k] = struct{}{}
		edge, err := r.edgeDeletes(k)
		if err != nil {
			return err
		}
		g = append(g, edge...)
		return nil
	}
	for _, key := range outKeys {
		k, err := parseEdgeKey(key)
		if err != nil {
			return nil, err
		}
		if err := addEdge(k); err != nil {
			return nil, err
		}
	}
	for _, key := range inKeys {
		k, err := parseReverseEdgeKey(key)
		if err != nil {
			return nil, err
		}
		if err := addEdge(k); err != nil {
			return nil, err
		}
	}

	props, err := r.keys(vertexPropertyPrefix(v.ID), nil, -1, nil)
	if err != nil {
		return nil, err
	}
	for _, key := range props {
		g = append(g, deleteWrite(key))
	}
	return append(g,
		deleteWrite(vertexTypeKey(v.Type, v.ID)),
		deleteWrite(vertexKey(v.ID)),
	), nil
}

func sortNamed(props []NamedProperty) {
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
}
