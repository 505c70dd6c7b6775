package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
)

var ErrUnsupportedLogo = errors.New("unsupported logo format")

type Logo struct {
	Bytes     []byte         `json:"bytes"`
	Extension extension.Type `json:"extension"`
}

// LoadLogo reads and sniffs a PNG or JPEG. Callers fall back to the textual
// letterhead on any error.
func LoadLogo(path string) (*Logo, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeLogo(data)
}

func DecodeLogo(data []byte) (*Logo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLogo, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedLogo)
	}

	var ext extension.Type
	switch format {
	case "png":
		ext = extension.Png
	case "jpeg":
		ext = extension.Jpg
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLogo, format)
	}
	return &Logo{Bytes: data, Extension: ext}, nil
}
