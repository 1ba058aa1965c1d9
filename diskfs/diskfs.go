// Package diskfs is a local-filesystem-backed webdav.Backend. It has no
// equivalent in the teacher, which only ever shipped memfs; it is
// grounded on PyWebDAV3's DAVServer/fshandler.py, which serves real
// directories and keeps dead properties that the native filesystem has
// no room for in a sidecar store next to the file it describes.
package diskfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/rs/zerolog"

	"github.com/talonhollow/webdavd"
	"github.com/talonhollow/webdavd/status"
	"github.com/talonhollow/webdavd/xmlcodec"
)

const sidecarDir = ".davprops"

// FS serves root as a WebDAV tree, storing dead properties as JSON
// sidecar files under root/.davprops, mirroring the served tree's shape.
type FS struct {
	root string
	log  zerolog.Logger
	mu   sync.Mutex
}

// New opens root for serving. root must already exist and be a directory.
func New(root string, log zerolog.Logger) (*FS, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, status.Wrap(status.KindConflict, err, "diskfs root does not exist")
	}
	if !info.IsDir() {
		return nil, status.New(status.KindConflict, "diskfs root is not a directory")
	}
	if err := os.MkdirAll(filepath.Join(root, sidecarDir), 0o755); err != nil {
		return nil, status.Wrap(status.KindConflict, err, "failed to create sidecar directory")
	}
	return &FS{root: root, log: log}, nil
}

func (fs_ *FS) BaseURI() string { return "/" }

func (fs_ *FS) nativePath(uri string) string {
	clean := filepath.FromSlash(strings.TrimPrefix(filepath.ToSlash(uri), "/"))
	return filepath.Join(fs_.root, clean)
}

func (fs_ *FS) sidecarPath(uri string) string {
	clean := filepath.FromSlash(strings.TrimPrefix(filepath.ToSlash(uri), "/"))
	if clean == "" {
		clean = "__root__"
	}
	return filepath.Join(fs_.root, sidecarDir, clean+".json")
}

func (fs_ *FS) Exists(_ context.Context, uri string) (bool, error) {
	_, err := os.Stat(fs_.nativePath(uri))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, status.Wrap(status.KindConflict, err, "stat failed")
	}
	return true, nil
}

func (fs_ *FS) IsCollection(_ context.Context, uri string) (bool, error) {
	info, err := os.Stat(fs_.nativePath(uri))
	if err != nil {
		return false, status.ErrNotFound
	}
	return info.IsDir(), nil
}

func (fs_ *FS) Children(_ context.Context, uri string) ([]string, error) {
	entries, err := os.ReadDir(fs_.nativePath(uri))
	if err != nil {
		if info, serr := os.Stat(fs_.nativePath(uri)); serr == nil && !info.IsDir() {
			return nil, nil
		}
		return nil, status.Wrap(status.KindConflict, err, "readdir failed")
	}
	out := make([]string, 0, len(entries))
	base := strings.TrimSuffix(uri, "/")
	for _, e := range entries {
		if base == "" && e.Name() == sidecarDir {
			continue
		}
		out = append(out, base+"/"+e.Name())
	}
	return out, nil
}

func (fs_ *FS) Stat(_ context.Context, uri string) (webdav.ResourceInfo, error) {
	info, err := os.Stat(fs_.nativePath(uri))
	if err != nil {
		return webdav.ResourceInfo{}, status.ErrNotFound
	}
	return webdav.ResourceInfo{
		Collection:   info.IsDir(),
		Size:         info.Size(),
		Created:      info.ModTime(),
		LastModified: info.ModTime(),
		ContentType:  fs_.loadContentType(uri),
	}, nil
}

func (fs_ *FS) GetData(_ context.Context, uri string, rng *webdav.ByteRange) (io.ReadCloser, int64, error) {
	f, err := os.Open(fs_.nativePath(uri))
	if err != nil {
		return nil, 0, status.ErrNotFound
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, status.Wrap(status.KindConflict, err, "stat failed")
	}
	if rng == nil {
		return f, info.Size(), nil
	}
	end := rng.End
	if end < 0 || end >= info.Size() {
		end = info.Size() - 1
	}
	if rng.Start < 0 || rng.Start > end {
		f.Close()
		return io.NopCloser(strings.NewReader("")), 0, nil
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, status.Wrap(status.KindConflict, err, "seek failed")
	}
	size := end - rng.Start + 1
	return &limitedFile{f: f, r: io.LimitReader(f, size)}, size, nil
}

type limitedFile struct {
	f *os.File
	r io.Reader
}

func (l *limitedFile) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedFile) Close() error                { return l.f.Close() }

func (fs_ *FS) Put(_ context.Context, uri string, body io.Reader, contentType string) error {
	p := fs_.nativePath(uri)
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return status.ErrForbidden
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return status.Wrap(status.KindConflict, err, "open for write failed")
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return status.Wrap(status.KindConflict, err, "write failed")
	}
	return fs_.storeContentType(uri, contentType)
}

func (fs_ *FS) Mkcol(_ context.Context, uri string) error {
	parent := filepath.Dir(fs_.nativePath(uri))
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return status.ErrConflict
	}
	if err := os.Mkdir(fs_.nativePath(uri), 0o755); err != nil {
		return status.Wrap(status.KindConflict, err, "mkdir failed")
	}
	return nil
}

func (fs_ *FS) DeleteOne(_ context.Context, uri string) error {
	if err := os.Remove(fs_.nativePath(uri)); err != nil {
		return status.Wrap(status.KindNotFound, err, "remove failed")
	}
	os.Remove(fs_.sidecarPath(uri))
	return nil
}

func (fs_ *FS) DeleteCollection(_ context.Context, uri string) error {
	if err := os.Remove(fs_.nativePath(uri)); err != nil {
		return status.Wrap(status.KindNotFound, err, "rmdir failed")
	}
	os.Remove(fs_.sidecarPath(uri))
	return nil
}

func (fs_ *FS) CopyOne(_ context.Context, src, dst string) error {
	in, err := os.Open(fs_.nativePath(src))
	if err != nil {
		return status.ErrNotFound
	}
	defer in.Close()
	out, err := os.OpenFile(fs_.nativePath(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return status.Wrap(status.KindConflict, err, "copy open failed")
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return status.Wrap(status.KindConflict, err, "copy failed")
	}

	props, err := fs_.readSidecar(src)
	if err == nil && len(props) > 0 {
		fs_.writeSidecar(dst, props)
	}
	return nil
}

func (fs_ *FS) CopyCollection(_ context.Context, src, dst string) error {
	if err := os.Mkdir(fs_.nativePath(dst), 0o755); err != nil && !os.IsExist(err) {
		return status.Wrap(status.KindConflict, err, "mkdir for copy failed")
	}
	props, err := fs_.readSidecar(src)
	if err == nil && len(props) > 0 {
		fs_.writeSidecar(dst, props)
	}
	return nil
}

type sidecar struct {
	Props       map[string]map[string]string `json:"props"`
	ContentType string                        `json:"contentType,omitempty"`
}

func (fs_ *FS) readSidecar(uri string) (map[string]map[string]string, error) {
	fs_.mu.Lock()
	defer fs_.mu.Unlock()
	b, err := os.ReadFile(fs_.sidecarPath(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, err
	}
	return sc.Props, nil
}

func (fs_ *FS) readFullSidecar(uri string) (sidecar, error) {
	fs_.mu.Lock()
	defer fs_.mu.Unlock()
	b, err := os.ReadFile(fs_.sidecarPath(uri))
	if err != nil {
		if os.IsNotExist(err) {
			return sidecar{Props: map[string]map[string]string{}}, nil
		}
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return sidecar{}, err
	}
	if sc.Props == nil {
		sc.Props = map[string]map[string]string{}
	}
	return sc, nil
}

func (fs_ *FS) writeSidecar(uri string, props map[string]map[string]string) error {
	return fs_.writeFullSidecar(uri, sidecar{Props: props, ContentType: fs_.loadContentType(uri)})
}

func (fs_ *FS) writeFullSidecar(uri string, sc sidecar) error {
	fs_.mu.Lock()
	defer fs_.mu.Unlock()
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fs_.sidecarPath(uri)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(fs_.sidecarPath(uri), b, 0o644)
}

func (fs_ *FS) loadContentType(uri string) string {
	fs_.mu.Lock()
	b, err := os.ReadFile(fs_.sidecarPath(uri))
	fs_.mu.Unlock()
	if err != nil {
		return ""
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return ""
	}
	return sc.ContentType
}

func (fs_ *FS) storeContentType(uri, contentType string) error {
	sc, err := fs_.readFullSidecar(uri)
	if err != nil {
		return nil // best-effort; content type is not load-bearing
	}
	sc.ContentType = contentType
	return fs_.writeFullSidecar(uri, sc)
}

func (fs_ *FS) GetDeadProp(_ context.Context, uri string, name xmlcodec.PropName) (string, error) {
	props, err := fs_.readSidecar(uri)
	if err != nil {
		return "", status.Wrap(status.KindConflict, err, "sidecar read failed")
	}
	v, ok := props[name.Space][name.Local]
	if !ok {
		return "", status.ErrNotFound
	}
	return v, nil
}

func (fs_ *FS) SetDeadProp(_ context.Context, uri string, name xmlcodec.PropName, xmlFragment string) error {
	if name.Space == xmlcodec.DAVNamespace {
		return status.ErrForbidden
	}
	sc, err := fs_.readFullSidecar(uri)
	if err != nil {
		return status.Wrap(status.KindConflict, err, "sidecar read failed")
	}
	if sc.Props[name.Space] == nil {
		sc.Props[name.Space] = map[string]string{}
	}
	sc.Props[name.Space][name.Local] = xmlFragment
	return fs_.writeFullSidecar(uri, sc)
}

func (fs_ *FS) DelDeadProp(_ context.Context, uri string, name xmlcodec.PropName) error {
	sc, err := fs_.readFullSidecar(uri)
	if err != nil {
		return status.Wrap(status.KindConflict, err, "sidecar read failed")
	}
	delete(sc.Props[name.Space], name.Local)
	return fs_.writeFullSidecar(uri, sc)
}

func (fs_ *FS) ListAllPropNames(_ context.Context, uri string) (map[string][]string, error) {
	props, err := fs_.readSidecar(uri)
	if err != nil {
		return nil, status.Wrap(status.KindConflict, err, "sidecar read failed")
	}
	out := map[string][]string{}
	for ns, names := range props {
		for local := range names {
			out[ns] = append(out[ns], local)
		}
	}
	return out, nil
}
