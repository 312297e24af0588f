package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	// URL prefixes under which uploads and results are served.
	UploadsURL = "static/uploads"
	ResultsURL = "static/results"

	DefaultVideoExt = ".mp4"
)

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// Asset is a file saved under the uploads directory.
type Asset struct {
	ID   string
	Ext  string
	Name string
	Path string
}

// Store lays out uploads and results on the local filesystem.
type Store struct {
	uploadDir string
	resultDir string
}

// New creates the upload and result directories if needed.
func New(uploadDir, resultDir string) (*Store, error) {
	for _, dir := range []string{uploadDir, resultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Store{uploadDir: filepath.Clean(uploadDir), resultDir: filepath.Clean(resultDir)}, nil
}

func (s *Store) UploadDir() string { return s.uploadDir }

func (s *Store) ResultDir() string { return s.resultDir }

// SaveUpload writes r to a new file named by a random UUID plus the
// extension of originalName.
func (s *Store) SaveUpload(r io.Reader, originalName string) (Asset, error) {
	if r == nil {
		return Asset{}, errs.ErrNoFile
	}
	base := path.Base(strings.ReplaceAll(originalName, `\`, "/"))
	if strings.TrimSpace(originalName) == "" || base == "/" || base == "." {
		return Asset{}, errs.ErrEmptyFilename
	}

	ext := path.Ext(base)
	if ext != "" && !extPattern.MatchString(ext) {
		ext = ""
	}
	id := uuid.NewString()
	asset := Asset{ID: id, Ext: ext, Name: id + ext}
	asset.Path = filepath.Join(s.uploadDir, asset.Name)

	f, err := os.Create(asset.Path)
	if err != nil {
		return Asset{}, fmt.Errorf("failed to create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(asset.Path)
		return Asset{}, fmt.Errorf("failed to save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(asset.Path)
		return Asset{}, fmt.Errorf("failed to save upload: %w", err)
	}
	return asset, nil
}

// ImageResultPath is where the annotated copy of an image upload goes. The
// upload's extension is kept when it can be encoded, otherwise .jpg is used.
func (s *Store) ImageResultPath(asset Asset) string {
	ext := asset.Ext
	if _, err := imaging.FormatFromExtension(ext); err != nil || ext == "" {
		ext = ".jpg"
	}
	return filepath.Join(s.resultDir, asset.ID+ext)
}

// VideoOutputPath is where the annotated video for id is written.
func (s *Store) VideoOutputPath(id string) string {
	return filepath.Join(s.resultDir, "output_"+id+".mp4")
}

// FindUpload locates the upload for id. An empty ext matches any extension.
func (s *Store) FindUpload(id, ext string) (Asset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Asset{}, fmt.Errorf("%w: %q", errs.ErrInvalidID, id)
	}

	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !extPattern.MatchString(ext) {
			return Asset{}, fmt.Errorf("%w: extension %q", errs.ErrInvalidID, ext)
		}
		asset := Asset{ID: id, Ext: ext, Name: id + ext, Path: filepath.Join(s.uploadDir, id+ext)}
		if _, err := os.Stat(asset.Path); err != nil {
			return Asset{}, fmt.Errorf("%w: %s", errs.ErrJobNotFound, id)
		}
		return asset, nil
	}

	matches, err := filepath.Glob(filepath.Join(s.uploadDir, id+".*"))
	if err != nil {
		return Asset{}, err
	}
	if len(matches) == 0 {
		p := filepath.Join(s.uploadDir, id)
		if _, err := os.Stat(p); err == nil {
			return Asset{ID: id, Name: id, Path: p}, nil
		}
		return Asset{}, fmt.Errorf("%w: %s", errs.ErrJobNotFound, id)
	}
	name := filepath.Base(matches[0])
	return Asset{ID: id, Ext: filepath.Ext(name), Name: name, Path: matches[0]}, nil
}

// PublicPath maps a file inside the upload or result directory to the path
// clients fetch it from. Other paths are returned slash-separated.
func (s *Store) PublicPath(p string) string {
	dir, name := filepath.Split(filepath.Clean(p))
	switch filepath.Clean(dir) {
	case s.uploadDir:
		return path.Join(UploadsURL, name)
	case s.resultDir:
		return path.Join(ResultsURL, name)
	}
	return filepath.ToSlash(p)
}
