package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	logx "cronflow/pkg/logx"
)

// ErrNotObject is returned when a graph config file does not decode to an object.
var ErrNotObject = errors.New("config document is not an object")

// Source is a cached, change-detected graph configuration file.
//
// The file is decoded (json, yaml/yml or hcl by extension) into a
// map[string]any. Reads re-stat the file; the cached value is reused while
// size and modification time are unchanged, and also when the content hash
// is unchanged. Every Get returns a deep copy so runs never share state.
type Source struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	sig    fileSig
	hash   uint64
	value  map[string]any
	loaded bool

	decodes atomic.Uint64
}

type fileSig struct {
	size    int64
	modTime int64
}

// SourceOption configures a Source.
type SourceOption func(*Source)

func WithSourceLogger(log logx.Logger) SourceOption { return func(s *Source) { s.log = log } }

func NewSource(path string, opts ...SourceOption) *Source {
	s := &Source{path: path}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Source) Path() string { return s.path }

// Decodes returns how many times the file has actually been decoded.
func (s *Source) Decodes() uint64 { return s.decodes.Load() }

// Get returns a private copy of the decoded document.
func (s *Source) Get() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("graph config %s: %w", s.path, err)
	}
	sig := fileSig{size: st.Size(), modTime: st.ModTime().UnixNano()}
	if s.loaded && sig == s.sig {
		return deepCopyMap(s.value), nil
	}

	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("graph config %s: %w", s.path, err)
	}
	h := hashBytes(b)
	if s.loaded && h == s.hash {
		s.sig = sig
		return deepCopyMap(s.value), nil
	}

	v, err := decodeDocument(s.path, b)
	if err != nil {
		return nil, fmt.Errorf("graph config %s: %w", s.path, err)
	}
	s.decodes.Add(1)
	s.value, s.hash, s.sig, s.loaded = v, h, sig, true
	s.log.Debug("graph config loaded", logx.String("path", s.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return deepCopyMap(v), nil
}

// Invalidate forces the next Get to re-read the file.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.sig = fileSig{}
	s.mu.Unlock()
}

// Watch invalidates the cache eagerly on file changes until ctx is done.
func (s *Source) Watch(ctx context.Context) error {
	return watchFile(ctx, s.path, s.log, func() {
		s.Invalidate()
		s.log.Debug("graph config changed", logx.String("path", s.path))
	})
}

func decodeDocument(path string, data []byte) (map[string]any, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(jb))
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("trailing data")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepCopyMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = deepCopy(x[i])
		}
		return out
	default:
		return v
	}
}
