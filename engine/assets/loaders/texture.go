package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	vk "github.com/goki/vulkan"
	"golang.org/x/image/draw"

	"github.com/spaghettifunk/vixen/engine/rendergraph"
)

type TextureLoader struct{}

// Load decodes the texture image file into tightly packed RGBA pixels
// ready for a TransferSrc staging upload.
func (tl *TextureLoader) Load(path string) (*rendergraph.TextureDescription, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	return &rendergraph.TextureDescription{
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
		Format: vk.FormatR8g8b8a8Unorm,
		Pixels: rgba.Pix,
	}, nil
}

func (tl *TextureLoader) Unload(*rendergraph.TextureDescription) error {
	return nil
}
