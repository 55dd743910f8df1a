package panicdump

import (
	"strings"

	"display"
)

// glyphWidth/glyphHeight are the fixed cell size of the crash screen's
// bitmap font -- small enough to fit a register dump and a stack trace
// on a modest boot framebuffer without scaling.
const (
	glyphWidth  = 5
	glyphHeight = 7
)

// glyph is one character's bitmap, one byte per row, the low
// glyphWidth bits set left-to-right.
type glyph [glyphHeight]byte

// font covers the characters a crash dump actually prints: digits,
// uppercase letters (text is upper-cased before drawing), and the
// punctuation Render's Fprintf calls use. Anything else falls back to
// fallbackGlyph. Hand-drawn for this package, not transcribed from any
// ROM font.
var font = map[byte]glyph{
	' ': {0, 0, 0, 0, 0, 0, 0},
	'0': {0x0e, 0x11, 0x13, 0x15, 0x19, 0x11, 0x0e},
	'1': {0x04, 0x0c, 0x04, 0x04, 0x04, 0x04, 0x0e},
	'2': {0x0e, 0x11, 0x01, 0x06, 0x08, 0x10, 0x1f},
	'3': {0x1f, 0x02, 0x04, 0x02, 0x01, 0x11, 0x0e},
	'4': {0x02, 0x06, 0x0a, 0x12, 0x1f, 0x02, 0x02},
	'5': {0x1f, 0x10, 0x1e, 0x01, 0x01, 0x11, 0x0e},
	'6': {0x06, 0x08, 0x10, 0x1e, 0x11, 0x11, 0x0e},
	'7': {0x1f, 0x01, 0x02, 0x04, 0x08, 0x08, 0x08},
	'8': {0x0e, 0x11, 0x11, 0x0e, 0x11, 0x11, 0x0e},
	'9': {0x0e, 0x11, 0x11, 0x0f, 0x01, 0x02, 0x0c},
	'A': {0x0e, 0x11, 0x11, 0x1f, 0x11, 0x11, 0x11},
	'B': {0x1e, 0x11, 0x11, 0x1e, 0x11, 0x11, 0x1e},
	'C': {0x0e, 0x11, 0x10, 0x10, 0x10, 0x11, 0x0e},
	'D': {0x1e, 0x11, 0x11, 0x11, 0x11, 0x11, 0x1e},
	'E': {0x1f, 0x10, 0x10, 0x1e, 0x10, 0x10, 0x1f},
	'F': {0x1f, 0x10, 0x10, 0x1e, 0x10, 0x10, 0x10},
	'G': {0x0e, 0x11, 0x10, 0x17, 0x11, 0x11, 0x0f},
	'H': {0x11, 0x11, 0x11, 0x1f, 0x11, 0x11, 0x11},
	'I': {0x0e, 0x04, 0x04, 0x04, 0x04, 0x04, 0x0e},
	'J': {0x01, 0x01, 0x01, 0x01, 0x01, 0x11, 0x0e},
	'K': {0x11, 0x12, 0x14, 0x18, 0x14, 0x12, 0x11},
	'L': {0x10, 0x10, 0x10, 0x10, 0x10, 0x10, 0x1f},
	'M': {0x11, 0x1b, 0x15, 0x15, 0x11, 0x11, 0x11},
	'N': {0x11, 0x19, 0x15, 0x13, 0x11, 0x11, 0x11},
	'O': {0x0e, 0x11, 0x11, 0x11, 0x11, 0x11, 0x0e},
	'P': {0x1e, 0x11, 0x11, 0x1e, 0x10, 0x10, 0x10},
	'Q': {0x0e, 0x11, 0x11, 0x11, 0x15, 0x12, 0x0d},
	'R': {0x1e, 0x11, 0x11, 0x1e, 0x14, 0x12, 0x11},
	'S': {0x0f, 0x10, 0x10, 0x0e, 0x01, 0x01, 0x1e},
	'T': {0x1f, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04},
	'U': {0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x0e},
	'V': {0x11, 0x11, 0x11, 0x11, 0x11, 0x0a, 0x04},
	'W': {0x11, 0x11, 0x11, 0x15, 0x15, 0x15, 0x0a},
	'X': {0x11, 0x11, 0x0a, 0x04, 0x0a, 0x11, 0x11},
	'Y': {0x11, 0x11, 0x0a, 0x04, 0x04, 0x04, 0x04},
	'Z': {0x1f, 0x01, 0x02, 0x04, 0x08, 0x10, 0x1f},
	':': {0, 0x04, 0, 0, 0x04, 0, 0},
	'-': {0, 0, 0, 0x1f, 0, 0, 0},
	'_': {0, 0, 0, 0, 0, 0, 0x1f},
	'.': {0, 0, 0, 0, 0, 0, 0x04},
	',': {0, 0, 0, 0, 0, 0x04, 0x08},
	'(': {0x02, 0x04, 0x08, 0x08, 0x08, 0x04, 0x02},
	')': {0x08, 0x04, 0x02, 0x02, 0x02, 0x04, 0x08},
	'=': {0, 0x1f, 0, 0x1f, 0, 0, 0},
	'%': {0x19, 0x1a, 0x04, 0x08, 0x0b, 0x13, 0},
	'#': {0x0a, 0x1f, 0x0a, 0x0a, 0x1f, 0x0a, 0},
	'<': {0x02, 0x04, 0x08, 0x10, 0x08, 0x04, 0x02},
	'>': {0x08, 0x04, 0x02, 0x01, 0x02, 0x04, 0x08},
	'\t': {0, 0, 0, 0, 0, 0, 0},
}

// fallbackGlyph stands in for any byte with no entry in font: a small
// solid box, the traditional "tofu" for a missing character.
var fallbackGlyph = glyph{0, 0x0e, 0x0e, 0x0e, 0x0e, 0x0e, 0}

// pixelOffset returns fb's byte offset for pixel (x, y), assuming 4
// bytes per pixel. whitePixel derives the packed color word for white
// from fb's own mask/shift fields.
func pixelOffset(fb display.Framebuffer, x, y int) int {
	return y*int(fb.Pitch) + x*4
}

func whitePixel(fb display.Framebuffer) uint32 {
	redMax := uint32(1)<<fb.RedMaskSize - 1
	greenMax := uint32(1)<<fb.GreenMaskSize - 1
	blueMax := uint32(1)<<fb.BlueMaskSize - 1
	return redMax<<fb.RedMaskShift | greenMax<<fb.GreenMaskShift | blueMax<<fb.BlueMaskShift
}

// drawText blits text into mem, fb's backing store, one glyph cell at a
// time with a one-pixel gutter, wrapping at fb.Width. Rows that run past
// fb.Height are simply clipped by drawGlyph's own bounds check rather
// than scrolled into view -- a crash dump is rendered once and never
// updated, unlike the live, scrolling console original_source's
// Display.shift_up serves.
func drawText(fb display.Framebuffer, mem []byte, text string) {
	if len(mem) < int(fb.Pitch)*int(fb.Height) {
		return
	}
	clear(mem)
	color := whitePixel(fb)
	cellW, cellH := glyphWidth+1, glyphHeight+1
	cols := int(fb.Width) / cellW
	if cols == 0 {
		return
	}

	col, row := 0, 0
	for _, r := range strings.ToUpper(text) {
		if r == '\n' {
			col, row = 0, row+1
			continue
		}
		if col >= cols {
			col, row = 0, row+1
		}
		drawGlyph(fb, mem, col*cellW, row*cellH, byteGlyph(byte(r)), color)
		col++
	}
}

func byteGlyph(c byte) glyph {
	if g, ok := font[c]; ok {
		return g
	}
	return fallbackGlyph
}

func drawGlyph(fb display.Framebuffer, mem []byte, ox, oy int, g glyph, color uint32) {
	for row := 0; row < glyphHeight; row++ {
		y := oy + row
		if y < 0 || y >= int(fb.Height) {
			continue
		}
		bits := g[row]
		for col := 0; col < glyphWidth; col++ {
			if bits&(1<<(glyphWidth-1-col)) == 0 {
				continue
			}
			x := ox + col
			if x < 0 || x >= int(fb.Width) {
				continue
			}
			off := pixelOffset(fb, x, y)
			if off+4 > len(mem) {
				continue
			}
			mem[off+0] = byte(color)
			mem[off+1] = byte(color >> 8)
			mem[off+2] = byte(color >> 16)
			mem[off+3] = byte(color >> 24)
		}
	}
}
