//go:build !headless

package waveviewer

import (
	"image"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
)

func newDefaultWindow(options ViewerOptions) Window {
	return newFyneWindow(options)
}

// fyneWindow shows rendered frames in a fyne window.
type fyneWindow struct {
	app    fyne.App
	window fyne.Window
	image  *canvas.Image

	options  ViewerOptions
	quitOnce sync.Once
	done     chan struct{}
}

func newFyneWindow(options ViewerOptions) *fyneWindow {
	a := app.NewWithID("com.cactusdynamics.waveviewer")
	w := a.NewWindow(options.Title)
	w.Resize(fyne.NewSize(float32(options.Width), float32(options.Height)))

	img := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, options.Width, options.Height)))
	img.FillMode = canvas.ImageFillContain
	w.SetContent(img)

	return &fyneWindow{
		app:     a,
		window:  w,
		image:   img,
		options: options,
		done:    make(chan struct{}),
	}
}

func (w *fyneWindow) Do(fn func()) {
	select {
	case <-w.done:
		// The event loop is gone and would never pick fn up.
		return
	default:
	}
	fyne.Do(fn)
}

func (w *fyneWindow) Show(img image.Image) {
	w.image.Image = img
	w.image.Refresh()
}

func (w *fyneWindow) Size() (int, int) {
	c := w.window.Canvas()
	size := c.Size()
	scale := c.Scale()
	width, height := int(size.Width*scale), int(size.Height*scale)

	// Not laid out yet.
	if width <= 0 || height <= 0 {
		return w.options.Width, w.options.Height
	}
	return width, height
}

func (w *fyneWindow) OnKey(handler func(rune)) {
	w.window.Canvas().SetOnTypedRune(handler)
}

func (w *fyneWindow) Run(onClosed func()) {
	defer close(w.done)
	w.window.SetOnClosed(onClosed)
	w.window.ShowAndRun()
}

func (w *fyneWindow) Quit() {
	w.quitOnce.Do(w.app.Quit)
}
