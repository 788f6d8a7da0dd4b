package worldmeta

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelstream.ai/internal/persistence/fsutil"
)

const InfoFile = "world_info.json"

var (
	ErrWorldExists   = errors.New("world already exists")
	ErrWorldNotFound = errors.New("world not found")
)

// Store reads and writes world directories under a saves root. Safe for
// concurrent use as long as each world has a single writer.
type Store struct {
	root   string
	schema *jsonschema.Schema
}

func OpenStore(root string) (*Store, error) {
	if root == "" {
		root = "saves"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create saves dir: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Store{root: root, schema: schema}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) Dir(worldID string) string { return filepath.Join(s.root, worldID) }

func (s *Store) InfoPath(worldID string) string { return filepath.Join(s.root, worldID, InfoFile) }

func (s *Store) Exists(worldID string) bool {
	fi, err := os.Stat(s.Dir(worldID))
	return err == nil && fi.IsDir()
}

// Write atomically replaces the world_info.json of worldID with data.
func (s *Store) Write(worldID string, data []byte) error {
	if err := ValidateName(worldID); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.InfoPath(worldID), data)
}

func (s *Store) WriteInfo(info Info) error {
	b, err := Encode(info)
	if err != nil {
		return err
	}
	return s.Write(info.Name, b)
}

func (s *Store) Read(worldID string) (Info, error) {
	b, err := os.ReadFile(s.InfoPath(worldID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrWorldNotFound, worldID)
		}
		return Info{}, err
	}
	info, err := decode(s.schema, b)
	if err != nil {
		return Info{}, fmt.Errorf("world %s: %w", worldID, err)
	}
	// the directory name is authoritative
	info.Name = worldID
	return info, nil
}

// List reads every world directory under the root. Worlds whose metadata
// cannot be read are skipped and reported in errs.
func (s *Store) List() (infos []Info, errs []error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, []error{err}
	}
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(s.InfoPath(e.Name())); err != nil {
			continue
		}
		info, err := s.Read(e.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, errs
}

func (s *Store) Remove(worldID string) error {
	if err := ValidateName(worldID); err != nil {
		return err
	}
	return os.RemoveAll(s.Dir(worldID))
}

// Size is the total size of the files in a world directory.
func (s *Store) Size(worldID string) (int64, error) {
	return fsutil.DirSize(s.Dir(worldID))
}
