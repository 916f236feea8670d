package highlight

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// DefaultPalette is the fixed ordered list of candidate highlight colors.
var DefaultPalette = []string{
	"#FFE082", // amber
	"#A5D6A7", // green
	"#90CAF9", // blue
	"#F48FB1", // pink
	"#CE93D8", // purple
	"#FFAB91", // deep orange
	"#80DEEA", // cyan
	"#E6EE9C", // lime
	"#B0BEC5", // blue grey
	"#FFCC80", // orange
}

// ColorAssigner issues one stable color per category key for the lifetime
// of an analysis session. Once the palette is exhausted it derives
// deterministic bounded-perturbation variants of cycled base colors
// instead of reusing raw palette entries.
type ColorAssigner struct {
	mu       sync.Mutex
	palette  []string
	assigned map[string]string
	cursor   int
}

// NewColorAssigner creates an assigner over the given palette. A nil or
// empty palette uses DefaultPalette.
func NewColorAssigner(palette []string) *ColorAssigner {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &ColorAssigner{
		palette:  palette,
		assigned: make(map[string]string),
	}
}

// Assign returns the color for a category key, allocating one on first use.
// The same key always yields the same color until Reset.
func (ca *ColorAssigner) Assign(key string) string {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if color, ok := ca.assigned[key]; ok {
		return color
	}

	var color string
	if ca.cursor < len(ca.palette) {
		color = ca.palette[ca.cursor]
	} else {
		round := ca.cursor / len(ca.palette)
		base := ca.palette[ca.cursor%len(ca.palette)]
		color = perturbColor(base, round)
	}
	ca.cursor++
	ca.assigned[key] = color
	return color
}

// Reset clears all assignments, starting a fresh session
func (ca *ColorAssigner) Reset() {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.assigned = make(map[string]string)
	ca.cursor = 0
}

// Size returns the number of keys with an assigned color
func (ca *ColorAssigner) Size() int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return len(ca.assigned)
}

// perturbColor derives a deterministic variant of a hex color for the
// given exhaustion round. Each channel is shifted by a bounded amount so
// variants stay visually close to the base without colliding with it.
func perturbColor(hexColor string, round int) string {
	hexColor = strings.TrimPrefix(hexColor, "#")
	if len(hexColor) != 6 {
		return "#" + hexColor
	}

	channels := make([]int, 3)
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(hexColor[i*2:i*2+2], 16, 0)
		if err != nil {
			return "#" + hexColor
		}
		// Bounded shift in [-48, 48], different per channel and round
		shift := ((round*41 + i*17) % 97) - 48
		c := int(v) + shift
		if c < 0 {
			c = 0
		} else if c > 255 {
			c = 255
		}
		channels[i] = c
	}

	return fmt.Sprintf("#%02X%02X%02X", channels[0], channels[1], channels[2])
}
