package gallery

import (
	"strconv"
	"strings"
)

// Lightbox is the image viewer state for a product gallery: either closed or open on
// one image. The zero value is a closed lightbox with no images.
type Lightbox struct {
	images []string
	open   bool
	index  int
}

// New returns a closed lightbox over images.
func New(images []string) Lightbox {
	return Lightbox{images: append([]string(nil), images...)}
}

// Images returns the gallery sources.
func (l Lightbox) Images() []string { return l.images }

// Len reports the number of images.
func (l Lightbox) Len() int { return len(l.images) }

// IsOpen reports whether the lightbox is showing an image.
func (l Lightbox) IsOpen() bool { return l.open }

// Index returns the current image index, or -1 when closed.
func (l Lightbox) Index() int {
	if !l.open {
		return -1
	}
	return l.index
}

// Current returns the displayed image source.
func (l Lightbox) Current() (string, bool) {
	if !l.open {
		return "", false
	}
	return l.images[l.index], true
}

// Open shows image i. An out-of-range index or an empty gallery leaves the lightbox closed.
func (l Lightbox) Open(i int) Lightbox {
	if i < 0 || i >= len(l.images) {
		l.open = false
		l.index = 0
		return l
	}
	l.open = true
	l.index = i
	return l
}

// Next advances to the following image, wrapping around.
func (l Lightbox) Next() Lightbox {
	if !l.open {
		return l
	}
	l.index = (l.index + 1) % len(l.images)
	return l
}

// Prev moves to the previous image, wrapping around.
func (l Lightbox) Prev() Lightbox {
	if !l.open {
		return l
	}
	n := len(l.images)
	l.index = (l.index - 1 + n) % n
	return l
}

// Close hides the lightbox.
func (l Lightbox) Close() Lightbox {
	l.open = false
	l.index = 0
	return l
}

// NextIndex and PrevIndex give the neighbour indices for rendering links without JS.
func (l Lightbox) NextIndex() int {
	if !l.open {
		return -1
	}
	return (l.index + 1) % len(l.images)
}

func (l Lightbox) PrevIndex() int {
	if !l.open {
		return -1
	}
	n := len(l.images)
	return (l.index - 1 + n) % n
}

// Apply maps a UI action onto a transition. Recognised actions are "open:N", "next",
// "prev", "escape" and "backdrop"; anything else leaves the state unchanged.
func (l Lightbox) Apply(action string) Lightbox {
	action = strings.ToLower(strings.TrimSpace(action))
	switch action {
	case "next", "arrowright":
		return l.Next()
	case "prev", "arrowleft":
		return l.Prev()
	case "escape", "backdrop", "close":
		return l.Close()
	}
	if rest, ok := strings.CutPrefix(action, "open:"); ok {
		i, err := strconv.Atoi(rest)
		if err != nil {
			return l
		}
		return l.Open(i)
	}
	return l
}
