// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Register decoders for the formats a frame source may hand us.
	_ "image/gif"
	_ "image/png"
)

// FrameSource produces one encoded frame per call. Implementations wrap
// whatever is producing live images; the sampler only asks for the next one.
type FrameSource interface {
	NextFrame(ctx context.Context) ([]byte, error)
}

// DirSource cycles through the image files of a directory, oldest name
// first. It stands in for a live camera during development and tests.
type DirSource struct {
	files        []string
	next         int
	maxDimension int
	quality      int
}

var _ FrameSource = (*DirSource)(nil)

// NewDirSource lists the supported image files under dir. maxDimension and
// quality bound the re-encoded frame; zero values mean no downscale and
// jpeg default quality.
func NewDirSource(dir string, maxDimension, quality int) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".gif":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{files: files, maxDimension: maxDimension, quality: quality}, nil
}

func (s *DirSource) NextFrame(_ context.Context) ([]byte, error) {
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	return EncodeJPEG(raw, s.maxDimension, s.quality)
}

// EncodeJPEG re-encodes an image as JPEG, downscaling so neither side
// exceeds maxDimension. Frames cross the network once per tick, so the
// capture side pays the encode cost, not the server.
func EncodeJPEG(raw []byte, maxDimension, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	if maxDimension > 0 {
		img = downscale(img, maxDimension)
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale performs nearest-neighbor resizing, preserving aspect ratio.
func downscale(img image.Image, maxDimension int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if longest <= maxDimension {
		return img
	}

	scale := float64(maxDimension) / float64(longest)
	nw := max(int(float64(w)*scale), 1)
	nh := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	for y := 0; y < nh; y++ {
		sy := b.Min.Y + y*h/nh
		for x := 0; x < nw; x++ {
			sx := b.Min.X + x*w/nw
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}
