//go:build headless

package waveviewer

func newDefaultWindow(options ViewerOptions) Window {
	// Nothing to look at locally; frames are only served on /snapshot.png.
	return NewLoopWindow(options.Width, options.Height)
}
