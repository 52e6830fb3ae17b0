// Package codec decodes PNG/JPEG originals and encodes resized images as
// JPEG. Content is sniffed before decoding, so a file is accepted by what
// it contains rather than by its extension.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/h2non/filetype/types"
)

const (
	OutputExtension = ".jpg"
	DefaultQuality  = 75

	// filetype needs at most this many leading bytes to match a type
	sniffLen = 261
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

type Codec struct {
	// Apply EXIF orientation while decoding JPEG originals
	AutoOrient bool

	// JPEG quality for encoded outputs, 1-100
	Quality int
}

type Option func(*Codec)

func WithAutoOrient(enabled bool) Option {
	return func(c *Codec) {
		c.AutoOrient = enabled
	}
}

func WithQuality(quality int) Option {
	return func(c *Codec) {
		if quality > 0 {
			c.Quality = quality
		}
	}
}

func New(opts ...Option) *Codec {
	c := &Codec{Quality: DefaultQuality}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decode reads the image stored at path. Only PNG and JPEG content is
// accepted.
func (c *Codec) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	return c.DecodeReader(path, f)
}

// DecodeReader decodes an image from r; name is only used in errors.
func (c *Codec) DecodeReader(name string, r io.Reader) (image.Image, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read image header %s: %w", name, err)
	}

	kind, err := Sniff(head)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	img, err := imaging.Decode(br, imaging.AutoOrientation(c.AutoOrient))
	if err != nil {
		return nil, fmt.Errorf(
			"failed to decode %s image %s: %w",
			kind.Extension,
			name,
			err,
		)
	}

	return img, nil
}

// EncodeJPEG writes img to w as a JPEG with the codec's quality.
func (c *Codec) EncodeJPEG(w io.Writer, img image.Image) error {
	quality := c.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	if err := imaging.Encode(
		w,
		img,
		imaging.JPEG,
		imaging.JPEGQuality(quality),
	); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return nil
}

// Sniff matches the leading bytes of a file against the supported
// formats.
func Sniff(head []byte) (types.Type, error) {
	kind, err := filetype.Match(head)
	if err != nil {
		return types.Unknown, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	switch kind {
	case matchers.TypePng, matchers.TypeJpeg:
		return kind, nil
	case types.Unknown:
		return kind, fmt.Errorf("%w: unrecognized content", ErrUnsupportedFormat)
	default:
		return kind, fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind.MIME.Value)
	}
}

// OutputName is the file name an original is written under: its base
// name with the extension replaced by ".jpg".
func OutputName(srcPath string) string {
	base := filepath.Base(srcPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + OutputExtension
}

func OutputPath(destDir, srcPath string) string {
	return filepath.Join(destDir, OutputName(srcPath))
}

// WriteOutput replaces path with data. The bytes go to a temp file in the
// same directory first and are renamed into place, so concurrent writers
// of one output leave exactly one complete file behind.
func WriteOutput(path string, data []byte) error {
	tmp, err := os.CreateTemp(
		filepath.Dir(path),
		"."+filepath.Base(path)+".*.tmp",
	)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpPath, 0644)
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write resized file %s: %w", path, err)
	}

	return nil
}
