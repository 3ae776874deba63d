package waveviewer

import (
	"image"
	"sync"
)

// Window is the GUI side of the renderer. Run owns the calling goroutine,
// which must be the main one for toolkits that care. Everything that
// touches the canvas or the displayed image goes through Do.
type Window interface {
	// Do schedules fn on the GUI goroutine. It may be called from any
	// goroutine.
	Do(fn func())

	// Show replaces the displayed frame. Only called from the GUI goroutine.
	Show(img image.Image)

	// Size is the drawable area in pixels. Only called from the GUI goroutine.
	Size() (width int, height int)

	// OnKey registers the handler for typed characters. Must be called
	// before Run.
	OnKey(handler func(r rune))

	// Run shows the window and blocks until Quit. onClosed is called when
	// the user closes the window.
	Run(onClosed func())

	// Quit ends Run. It may be called from any goroutine, more than once.
	Quit()
}

// LoopWindow is a Window without a display: a goroutine event loop that
// keeps the last frame in memory. It backs the headless build and tests.
type LoopWindow struct {
	width  int
	height int

	tasks chan func()
	quit  chan struct{}

	quitOnce sync.Once

	mutex    sync.Mutex
	frame    image.Image
	frames   int
	onKey    func(rune)
	onClosed func()
}

func NewLoopWindow(width, height int) *LoopWindow {
	return &LoopWindow{
		width:  width,
		height: height,
		tasks:  make(chan func(), 64),
		quit:   make(chan struct{}),
	}
}

func (w *LoopWindow) Do(fn func()) {
	select {
	case w.tasks <- fn:
	case <-w.quit:
	}
}

func (w *LoopWindow) Show(img image.Image) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.frame = img
	w.frames++
}

func (w *LoopWindow) Size() (int, int) {
	return w.width, w.height
}

func (w *LoopWindow) OnKey(handler func(rune)) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.onKey = handler
}

func (w *LoopWindow) Run(onClosed func()) {
	w.mutex.Lock()
	w.onClosed = onClosed
	w.mutex.Unlock()

	for {
		select {
		case fn := <-w.tasks:
			fn()
		case <-w.quit:
			return
		}
	}
}

func (w *LoopWindow) Quit() {
	w.quitOnce.Do(func() { close(w.quit) })
}

// Close simulates the user closing the window.
func (w *LoopWindow) Close() {
	w.Do(func() {
		w.mutex.Lock()
		onClosed := w.onClosed
		w.mutex.Unlock()

		if onClosed != nil {
			onClosed()
		}
	})
}

// Type simulates a key press.
func (w *LoopWindow) Type(r rune) {
	w.Do(func() {
		w.mutex.Lock()
		onKey := w.onKey
		w.mutex.Unlock()

		if onKey != nil {
			onKey(r)
		}
	})
}

// Frame returns the last shown image and how many frames were shown.
func (w *LoopWindow) Frame() (image.Image, int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.frame, w.frames
}
