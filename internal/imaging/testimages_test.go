package imaging

import (
	"image"
	"image/color"
	"math/rand/v2"
)

// createInMemoryImage creates an in-memory test image
func createInMemoryImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// createNoiseImage fills every pixel with independent random RGB values
func createNoiseImage(width, height int, seed uint64) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.UintN(256))
		img.Pix[i+1] = uint8(r.UintN(256))
		img.Pix[i+2] = uint8(r.UintN(256))
		img.Pix[i+3] = 255
	}
	return img
}

// createSquareImage draws a centered black square on white
func createSquareImage(width, height int) *image.RGBA {
	img := createInMemoryImage(width, height, color.White)
	for y := height / 4; y < 3*height/4; y++ {
		for x := width / 4; x < 3*width/4; x++ {
			img.Set(x, y, color.Black)
		}
	}
	return img
}

// createLeftHalfImage paints the left half red and the right half blue
func createLeftHalfImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < width/2 {
				img.Set(x, y, color.RGBA{220, 20, 20, 255})
			} else {
				img.Set(x, y, color.RGBA{20, 20, 220, 255})
			}
		}
	}
	return img
}
