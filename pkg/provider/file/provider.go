// Package file implements the provider interfaces over a local directory
// tree laid out like a bucket, so the archive pipeline can run without a
// cloud account.
package file

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nishanth230499/s3-ui/pkg/provider"
)

// Provider implements provider.Provider for local filesystem paths.
//
// Keys are treated as slash-separated relative paths under BaseDir. Prefixes
// follow object storage semantics: a prefix is a plain string match, not a
// directory.
type Provider struct {
	baseDir    string
	stagingDir string

	mu      sync.Mutex
	uploads map[string]*upload
}

type upload struct {
	key string
	dir string
}

var (
	_ provider.Provider          = (*Provider)(nil)
	_ provider.ObjectGetter      = (*Provider)(nil)
	_ provider.MultipartUploader = (*Provider)(nil)
)

type Config struct {
	BaseDir string

	// StagingDir holds in-progress multipart parts. It must be outside
	// BaseDir so staged parts never show up in listings. Empty uses the
	// system temp dir.
	StagingDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		baseDir:    filepath.Clean(cfg.BaseDir),
		stagingDir: cfg.StagingDir,
		uploads:    make(map[string]*upload),
	}, nil
}

// Close aborts any multipart uploads that were never completed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, u := range p.uploads {
		_ = os.RemoveAll(u.dir)
		delete(p.uploads, id)
	}
	return nil
}

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	keys, err := p.collectKeys(ctx, prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		// Start strictly after the last returned key.
		idx := sort.SearchStrings(keys, opts.ContinuationToken)
		for idx < len(keys) && keys[idx] <= opts.ContinuationToken {
			idx++
		}
		start = idx
	}
	end := min(start+maxKeys, len(keys))

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		full, err := p.fullPath(k)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, provider.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	full, err := p.fullPath(key)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, 0, p.wrapError("GetObject", key, fs.ErrNotExist)
	}
	return f, st.Size(), nil
}

// CreateMultipartUpload stages a new upload. Storage class and tagging have
// no filesystem equivalent and are ignored.
func (p *Provider) CreateMultipartUpload(ctx context.Context, key string, _ provider.UploadOptions) (string, error) {
	if _, err := p.fullPath(key); err != nil {
		return "", p.wrapError("CreateMultipartUpload", key, err)
	}
	dir, err := os.MkdirTemp(p.stagingDir, "s3zip-multipart-*")
	if err != nil {
		return "", p.wrapError("CreateMultipartUpload", key, err)
	}

	id := uuid.NewString()
	p.mu.Lock()
	p.uploads[id] = &upload{key: key, dir: dir}
	p.mu.Unlock()
	return id, nil
}

func (p *Provider) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (string, error) {
	u, err := p.lookup(key, uploadID)
	if err != nil {
		return "", p.wrapError("UploadPart", key, err)
	}

	f, err := os.Create(partPath(u.dir, partNumber))
	if err != nil {
		return "", p.wrapError("UploadPart", key, err)
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	n, err := io.Copy(io.MultiWriter(f, h), body)
	if err != nil {
		return "", p.wrapError("UploadPart", key, err)
	}
	if n != size {
		return "", p.wrapError("UploadPart", key, fmt.Errorf("part %d: wrote %d bytes, expected %d", partNumber, n, size))
	}
	if err := f.Close(); err != nil {
		return "", p.wrapError("UploadPart", key, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CompleteMultipartUpload concatenates parts into the key via temp file and
// rename, so readers never observe a partial object.
func (p *Provider) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []provider.CompletedPart) error {
	u, err := p.lookup(key, uploadID)
	if err != nil {
		return p.wrapError("CompleteMultipartUpload", key, err)
	}

	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("CompleteMultipartUpload", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return p.wrapError("CompleteMultipartUpload", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".s3zip-complete-*")
	if err != nil {
		return p.wrapError("CompleteMultipartUpload", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	prev := int32(0)
	for _, part := range parts {
		if part.PartNumber <= prev {
			return p.wrapError("CompleteMultipartUpload", key, fmt.Errorf("parts out of order at %d", part.PartNumber))
		}
		prev = part.PartNumber
		if err := appendPart(tmp, partPath(u.dir, part.PartNumber)); err != nil {
			return p.wrapError("CompleteMultipartUpload", key, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return p.wrapError("CompleteMultipartUpload", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return p.wrapError("CompleteMultipartUpload", key, err)
	}

	p.forget(uploadID)
	return nil
}

func (p *Provider) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if _, err := p.lookup(key, uploadID); err != nil {
		return p.wrapError("AbortMultipartUpload", key, err)
	}
	p.forget(uploadID)
	return nil
}

func (p *Provider) lookup(key, uploadID string) (*upload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.uploads[uploadID]
	if !ok || u.key != key {
		return nil, provider.ErrUploadNotFound
	}
	return u, nil
}

func (p *Provider) forget(uploadID string) {
	p.mu.Lock()
	u, ok := p.uploads[uploadID]
	delete(p.uploads, uploadID)
	p.mu.Unlock()
	if ok {
		_ = os.RemoveAll(u.dir)
	}
}

func partPath(dir string, partNumber int32) string {
	return filepath.Join(dir, fmt.Sprintf("part-%05d", partNumber))
}

func appendPart(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(dst, f)
	return err
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	// Prevent path traversal.
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

// collectKeys walks the deepest directory implied by prefix and keeps keys
// that start with prefix.
func (p *Provider) collectKeys(ctx context.Context, prefix string) ([]string, error) {
	dirPart := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dirPart = prefix[:i]
	}
	root, err := p.fullPath(dirPart)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
	// Normalize common filesystem errors to provider sentinels.
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
