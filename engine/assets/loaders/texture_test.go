package loaders

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	vk "github.com/goki/vulkan"
)

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatal(err)
	}
}

func TestTextureLoaderDecodesRGBA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checker.png")
	writeTestPNG(t, path)

	loader := &TextureLoader{}
	texture, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}

	if texture.Width != 2 || texture.Height != 2 {
		t.Errorf("dimensions = %dx%d, want 2x2", texture.Width, texture.Height)
	}
	if texture.Format != vk.FormatR8g8b8a8Unorm {
		t.Errorf("format = %d, want R8G8B8A8Unorm", texture.Format)
	}
	if len(texture.Pixels) != 2*2*4 {
		t.Fatalf("pixel bytes = %d, want 16", len(texture.Pixels))
	}
	// Top-left texel is opaque red.
	if texture.Pixels[0] != 255 || texture.Pixels[1] != 0 || texture.Pixels[2] != 0 || texture.Pixels[3] != 255 {
		t.Errorf("texel (0,0) = %v, want opaque red", texture.Pixels[0:4])
	}
}

func TestTextureLoaderMissingFile(t *testing.T) {
	loader := &TextureLoader{}
	if _, err := loader.Load(filepath.Join(t.TempDir(), "absent.png")); err == nil {
		t.Error("missing file should error")
	}
}
