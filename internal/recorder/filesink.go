package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ObjectName is the file or object name for d's image:
// {yyyymmdd_hhmmss}_score{score}_{hex prefix}.{ext}.
func ObjectName(d *Discovery) string {
	hex := d.Coord.Hex
	if len(hex) > 8 {
		hex = hex[:8]
	}
	return fmt.Sprintf("%s_score%.3f_%s.%s",
		d.CreatedAt.UTC().Format("20060102_150405"), d.FinalScore, hex, extension(d.Format))
}

func extension(format string) string {
	switch f := strings.ToLower(format); f {
	case "jpeg", "jpg":
		return "jpg"
	case "":
		return "img"
	default:
		return f
	}
}

// sidecar is the YAML written next to each image.
type sidecar struct {
	Coordinate string    `yaml:"coordinate"`
	URL        string    `yaml:"url"`
	Discovery  Discovery `yaml:",inline"`
}

// FileSink writes images into a directory with a YAML sidecar each.
type FileSink struct {
	dir     string
	baseURL string
}

// NewFileSink creates dir if needed. baseURL is recorded in sidecars.
func NewFileSink(dir, baseURL string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", dir, err)
	}
	return &FileSink{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the target directory.
func (s *FileSink) Dir() string { return s.dir }

// Put implements ImageSink. Both files are written to a temporary name and
// renamed into place, image last.
func (s *FileSink) Put(_ context.Context, d *Discovery) (string, error) {
	name := ObjectName(d)
	path := filepath.Join(s.dir, name)

	meta, err := yaml.Marshal(sidecar{Coordinate: d.Coord.Key(), URL: d.Coord.URL(s.baseURL), Discovery: *d})
	if err != nil {
		return "", fmt.Errorf("encode sidecar: %w", err)
	}
	if err := writeAtomic(path+".yaml", meta); err != nil {
		return "", err
	}
	if err := writeAtomic(path, d.ImageBytes); err != nil {
		os.Remove(path + ".yaml")
		return "", err
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
