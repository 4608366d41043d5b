package walnut

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// imageExts lists the file extensions considered capture images.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// LoadImage decodes an image file.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// AngleFromFilename extracts the angle from a capture filename. The capture
// tool names files like "walnut12_F_0001.jpg"; the tag is the upper-case
// letter between underscores.
func AngleFromFilename(name string) (Angle, bool) {
	base := filepath.Base(name)
	for _, a := range Angles {
		if strings.Contains(base, "_"+a.Tag()+"_") {
			return a, true
		}
	}
	return 0, false
}

// LoadViewSet loads every angle-tagged image in dir. The directory name is the
// walnut id. When an angle has several images, the first by name is used.
func LoadViewSet(dir string) (*ViewSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read walnut directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	id := filepath.Base(dir)
	views := make(map[Angle]image.Image)
	for _, name := range names {
		a, ok := AngleFromFilename(name)
		if !ok {
			continue
		}
		if _, dup := views[a]; dup {
			log.Printf("walnut %s: extra %s image %s ignored", id, a, name)
			continue
		}
		img, err := LoadImage(filepath.Join(dir, name))
		if err != nil {
			log.Printf("walnut %s: %v", id, err)
			continue
		}
		views[a] = img
	}

	return NewViewSet(id, views)
}

// LoadDir loads one view set per sub-directory of root, sorted by id.
// Directories without any usable image are skipped and logged.
func LoadDir(root string) ([]*ViewSet, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read image root: %w", err)
	}

	var sets []*ViewSet
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		vs, err := LoadViewSet(filepath.Join(root, e.Name()))
		if err != nil {
			log.Printf("skipping %s: %v", e.Name(), err)
			continue
		}
		sets = append(sets, vs)
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].ID() < sets[j].ID() })
	return sets, nil
}
