package runtime

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/ketju/ginja/nodes"
)

// bytecodeVersion tags serialized payloads; a mismatch causes a silent
// recompile instead of a crash.
const bytecodeVersion = "ginja/1"

func init() {
	gob.Register(&nodes.Name{})
	gob.Register(&nodes.Const{})
	gob.Register(&nodes.Tuple{})
	gob.Register(&nodes.List{})
	gob.Register(&nodes.Dict{})
	gob.Register(&nodes.Unary{})
	gob.Register(&nodes.Binary{})
	gob.Register(&nodes.Compare{})
	gob.Register(&nodes.Call{})
	gob.Register(&nodes.Filter{})
	gob.Register(&nodes.Test{})
	gob.Register(&nodes.Getattr{})
	gob.Register(&nodes.Getitem{})
	gob.Register(&nodes.Slice{})
	gob.Register(&nodes.Concat{})
	gob.Register(&nodes.CondExpr{})
	gob.Register(&nodes.MarkSafe{})
	gob.Register(&nodes.Template{})
	gob.Register(&nodes.Text{})
	gob.Register(&nodes.Output{})
	gob.Register(&nodes.If{})
	gob.Register(&nodes.For{})
	gob.Register(&nodes.Macro{})
	gob.Register(&nodes.CallBlock{})
	gob.Register(&nodes.FilterBlock{})
	gob.Register(&nodes.Assign{})
	gob.Register(&nodes.AssignBlock{})
	gob.Register(&nodes.Block{})
	gob.Register(&nodes.Extends{})
	gob.Register(&nodes.Include{})
	gob.Register(&nodes.Import{})
	gob.Register(&nodes.FromImport{})
	gob.Register(&nodes.With{})
	gob.Register(&nodes.Autoescape{})
	gob.Register(&nodes.Trans{})
	gob.Register(&nodes.Do{})
	gob.Register(&nodes.Break{})
	gob.Register(&nodes.Continue{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Bucket carries one template through a bytecode cache: the cache key, the
// source checksum and the serialized compiled form.
type Bucket struct {
	Key      string
	Checksum string
	Code     []byte
}

// NewBucket derives the cache key from the environment signature and the
// template name.
func NewBucket(signature, name, sourceChecksum string) *Bucket {
	sum := sha1.Sum([]byte(signature + "\x00" + name))
	return &Bucket{
		Key:      hex.EncodeToString(sum[:]),
		Checksum: sourceChecksum,
	}
}

type bytecodePayload struct {
	Version  string
	Checksum string
	AST      *nodes.Template
}

// encode serializes the AST into the bucket. It reports success; templates
// whose AST cannot be serialized are simply not cached.
func (b *Bucket) encode(ast *nodes.Template) bool {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	payload := bytecodePayload{Version: bytecodeVersion, Checksum: b.Checksum, AST: ast}
	if err := enc.Encode(&payload); err != nil {
		b.Code = nil
		return false
	}
	b.Code = buf.Bytes()
	return true
}

// decode deserializes the bucket; a version or checksum mismatch reads as a
// miss so the caller recompiles.
func (b *Bucket) decode() (*nodes.Template, bool) {
	if len(b.Code) == 0 {
		return nil, false
	}
	dec := gob.NewDecoder(bytes.NewReader(b.Code))
	var payload bytecodePayload
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}
	if payload.Version != bytecodeVersion || payload.Checksum != b.Checksum {
		return nil, false
	}
	return payload.AST, payload.AST != nil
}

// BytecodeCache persists compiled templates between processes. Load fills
// bucket.Code (leaving it empty on a miss); Dump stores it.
type BytecodeCache interface {
	Load(b *Bucket) error
	Dump(b *Bucket) error
}

// MemoryBytecodeCache keeps serialized templates in process memory. Writes
// are atomic at entry granularity.
type MemoryBytecodeCache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryBytecodeCache creates an empty in-memory cache.
func NewMemoryBytecodeCache() *MemoryBytecodeCache {
	return &MemoryBytecodeCache{items: make(map[string][]byte)}
}

func (c *MemoryBytecodeCache) Load(b *Bucket) error {
	c.mu.RLock()
	code := c.items[b.Key]
	c.mu.RUnlock()
	b.Code = code
	return nil
}

func (c *MemoryBytecodeCache) Dump(b *Bucket) error {
	code := make([]byte, len(b.Code))
	copy(code, b.Code)
	c.mu.Lock()
	c.items[b.Key] = code
	c.mu.Unlock()
	return nil
}

// FileSystemBytecodeCache stores one file per template under a directory.
type FileSystemBytecodeCache struct {
	dir string
}

// NewFileSystemBytecodeCache creates a cache rooted at dir, which is
// created if missing.
func NewFileSystemBytecodeCache(dir string) (*FileSystemBytecodeCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileSystemBytecodeCache{dir: dir}, nil
}

func (c *FileSystemBytecodeCache) path(key string) string {
	return filepath.Join(c.dir, "__ginja_"+key+".cache")
}

func (c *FileSystemBytecodeCache) Load(b *Bucket) error {
	data, err := os.ReadFile(c.path(b.Key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.Code = nil
			return nil
		}
		return err
	}
	b.Code = data
	return nil
}

func (c *FileSystemBytecodeCache) Dump(b *Bucket) error {
	tmp := c.path(b.Key) + ".tmp"
	if err := os.WriteFile(tmp, b.Code, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path(b.Key))
}
