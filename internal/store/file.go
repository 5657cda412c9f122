package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	imagePrefix    = "generated_"
	imageSuffix    = ".png"
	metadataPrefix = "metadata_"
	metadataSuffix = ".json"
)

var idRegexp = regexp.MustCompile(`^\d{8}_\d{6}_\d+(?:-\d+)?$`)

// FileStore keeps artifacts as image/metadata file pairs in a flat content directory.
// It is append-only: nothing here updates or removes a persisted pair.
type FileStore struct {
	dir string
	now func() time.Time
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func NewFileStoreFromInjector(i *do.Injector) (*FileStore, error) {
	return NewFileStore(do.MustInvokeNamed[string](i, "content_dir")), nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) imagePath(id string) string {
	return filepath.Join(s.dir, imagePrefix+id+imageSuffix)
}

func (s *FileStore) metadataPath(id string) string {
	return filepath.Join(s.dir, metadataPrefix+id+metadataSuffix)
}

// Persist writes every artifact as an image followed by its metadata. The
// identifiers share one timestamp taken when Persist is called, suffixed with
// the artifact's position. On failure the pairs already completed are returned
// alongside the error.
func (s *FileStore) Persist(ctx context.Context, artifacts []Artifact) ([]Persisted, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("store").With("dir", s.dir)

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, &PersistenceError{Op: "mkdir", Path: s.dir, Err: err}
	}

	stamp := s.now().Format(stampLayout)
	persisted := make([]Persisted, 0, len(artifacts))
	for idx, a := range artifacts {
		p, err := s.persistOne(stamp, idx, a)
		if err != nil {
			log.Error("persisting artifact", "index", idx, "error", err)
			return persisted, err
		}
		log.Info("persisted artifact", "id", p.ID, "bytes", len(a.Image))
		persisted = append(persisted, p)
	}
	return persisted, nil
}

func (s *FileStore) persistOne(stamp string, idx int, a Artifact) (Persisted, error) {
	id, f, err := s.reserve(stamp, idx)
	if err != nil {
		return Persisted{}, err
	}

	imagePath := s.imagePath(id)
	_, err = f.Write(a.Image)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(imagePath)
		return Persisted{}, &PersistenceError{Op: "write", Path: imagePath, Err: err}
	}

	meta := NewMetadata(a.Request, stamp)
	data, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		_ = os.Remove(imagePath)
		return Persisted{}, &PersistenceError{Op: "marshal", Path: s.metadataPath(id), Err: err}
	}

	// a crash between the two writes leaves an orphaned image; List skips those
	metadataPath := s.metadataPath(id)
	if err := os.WriteFile(metadataPath, data, 0644); err != nil {
		_ = os.Remove(imagePath)
		return Persisted{}, &PersistenceError{Op: "write", Path: metadataPath, Err: err}
	}

	return Persisted{ID: id, ImagePath: imagePath, MetadataPath: metadataPath, Metadata: meta}, nil
}

// reserve claims an unused identifier by exclusively creating its image file.
// Collisions with earlier writes in the same second get a numeric suffix.
func (s *FileStore) reserve(stamp string, idx int) (string, *os.File, error) {
	base := fmt.Sprintf("%s_%d", stamp, idx)
	for n := 0; ; n++ {
		id := lo.Ternary(n == 0, base, fmt.Sprintf("%s-%d", base, n))
		if _, err := os.Stat(s.metadataPath(id)); err == nil {
			continue
		}

		path := s.imagePath(id)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, &PersistenceError{Op: "create", Path: path, Err: err}
		}
		return id, f, nil
	}
}

// List enumerates every complete pair in the content directory, newest first.
// Images without a readable metadata sibling are incomplete and left out.
func (s *FileStore) List(ctx context.Context) ([]Persisted, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("store").With("dir", s.dir)

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ids := lo.FilterMap(entries, func(e fs.DirEntry, _ int) (string, bool) {
		if e.IsDir() {
			return "", false
		}
		id, ok := imageID(e.Name())
		return id, ok
	})

	found := make([]*Persisted, len(ids))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for idx, id := range ids {
		idx, id := idx, id
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			meta, err := s.readMetadata(id)
			if err != nil {
				log.Debug("skipping incomplete artifact", "id", id, "error", err)
				return nil
			}
			found[idx] = &Persisted{
				ID:           id,
				ImagePath:    s.imagePath(id),
				MetadataPath: s.metadataPath(id),
				Metadata:     meta,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	list := lo.FilterMap(found, func(p *Persisted, _ int) (Persisted, bool) {
		if p == nil {
			return Persisted{}, false
		}
		return *p, true
	})
	sortNewestFirst(list)
	return list, nil
}

func sortNewestFirst(list []Persisted) {
	sort.SliceStable(list, func(a, b int) bool {
		sa, sb := list[a].Metadata.Timestamp, list[b].Metadata.Timestamp
		if sa != sb {
			return sa > sb
		}
		return list[a].ID < list[b].ID
	})
}

func imageID(name string) (string, bool) {
	if !strings.HasPrefix(name, imagePrefix) || !strings.HasSuffix(name, imageSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, imagePrefix), imageSuffix)
	return id, idRegexp.MatchString(id)
}

func (s *FileStore) readMetadata(id string) (Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Get loads a single complete pair.
func (s *FileStore) Get(ctx context.Context, id string) (Persisted, error) {
	if !idRegexp.MatchString(id) {
		return Persisted{}, ErrNotFound
	}
	if _, err := os.Stat(s.imagePath(id)); err != nil {
		return Persisted{}, ErrNotFound
	}
	meta, err := s.readMetadata(id)
	if err != nil {
		return Persisted{}, ErrNotFound
	}
	return Persisted{ID: id, ImagePath: s.imagePath(id), MetadataPath: s.metadataPath(id), Metadata: meta}, nil
}

// Open returns the image file of a complete pair for reading.
func (s *FileStore) Open(ctx context.Context, id string) (*os.File, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return os.Open(p.ImagePath)
}

// SaveAs copies the image of a persisted artifact to dest byte for byte.
func (s *FileStore) SaveAs(ctx context.Context, id, dest string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("store").With("id", id, "dest", dest)
	log.Info("saving image copy")

	src, err := s.Open(ctx, id)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return &PersistenceError{Op: "create", Path: dest, Err: err}
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return &PersistenceError{Op: "copy", Path: dest, Err: err}
	}
	if err := out.Close(); err != nil {
		return &PersistenceError{Op: "close", Path: dest, Err: err}
	}
	return nil
}
