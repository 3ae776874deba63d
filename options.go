package waveviewer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// ViewerOptions configure the renderer process. They are loaded from YAML,
// overridden by command line flags, and served as JSON on /metadata.
type ViewerOptions struct {
	Title  string `yaml:"title" json:"title"`
	Hint   string `yaml:"hint" json:"hint"`
	XLabel string `yaml:"x_label" json:"x_label"`
	YLabel string `yaml:"y_label" json:"y_label"`

	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// Trace colours as 6 digit hex, used in turn for the series of a line.
	Colors []string `yaml:"colors" json:"colors"`

	// Address of the optional observer HTTP server. Empty disables it.
	HTTPAddr string `yaml:"http_addr" json:"http_addr,omitempty"`

	// How long the poller waits for a frame before checking whether it
	// should stop.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// Keep the window open after the controller's pipe closes.
	KeepOpen bool `yaml:"keep_open" json:"keep_open"`

	// Capacity of the broadcaster input and of each observer channel.
	EventBufferSize int `yaml:"event_buffer_size" json:"event_buffer_size"`
}

func DefaultViewerOptions() ViewerOptions {
	return ViewerOptions{
		Title:           "Wave Viewer",
		Hint:            `"F" fit screen "C" clear all`,
		XLabel:          "t",
		YLabel:          "Y Axis",
		Width:           1024,
		Height:          768,
		Colors:          []string{"ff0000", "0000ff", "00ff00"},
		PollInterval:    100 * time.Millisecond,
		EventBufferSize: 1000,
	}
}

// LoadViewerOptions reads a YAML file on top of DefaultViewerOptions.
// Unknown keys are rejected so typos do not go unnoticed.
func LoadViewerOptions(path string) (ViewerOptions, error) {
	opts := DefaultViewerOptions()

	f, err := os.Open(path)
	if err != nil {
		return opts, fmt.Errorf("failed to open viewer config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return opts, fmt.Errorf("failed to parse viewer config %s: %w", path, err)
	}

	return opts, opts.Validate()
}

var hexColor = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

func (o ViewerOptions) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("window size must be positive, got %dx%d", o.Width, o.Height)
	}

	if o.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", o.PollInterval)
	}

	if o.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", o.EventBufferSize)
	}

	if len(o.Colors) == 0 {
		return errors.New("at least one color is required")
	}

	for _, c := range o.Colors {
		if !hexColor.MatchString(c) {
			return fmt.Errorf("color %q is not a 6 digit hex color", c)
		}
	}

	return nil
}

// Args renders the options as flags for `waveviewer render`. Values are
// attached with '=' so that ones starting with a dash survive parsing.
func (o ViewerOptions) Args() []string {
	args := []string{
		"--title=" + o.Title,
		"--hint=" + o.Hint,
		"--x-label=" + o.XLabel,
		"--y-label=" + o.YLabel,
		"--width=" + strconv.Itoa(o.Width),
		"--height=" + strconv.Itoa(o.Height),
		"--poll-interval=" + o.PollInterval.String(),
		"--event-buffer-size=" + strconv.Itoa(o.EventBufferSize),
	}

	for _, c := range o.Colors {
		args = append(args, "--color="+c)
	}

	if o.HTTPAddr != "" {
		args = append(args, "--http-addr="+o.HTTPAddr)
	}

	if o.KeepOpen {
		args = append(args, "--keep-open")
	}

	return args
}

// RenderFlags are the command line options of `waveviewer render`. Pointer
// fields distinguish "not given" from zero values so that flags only
// override what was actually passed.
type RenderFlags struct {
	Config          string         `long:"config" description:"YAML file with viewer options"`
	Title           *string        `long:"title" description:"Window title"`
	Hint            *string        `long:"hint" description:"Text shown as the chart title"`
	XLabel          *string        `long:"x-label" description:"Label of the time axis"`
	YLabel          *string        `long:"y-label" description:"Label of the value axis"`
	Width           *int           `long:"width" description:"Initial window width in pixels"`
	Height          *int           `long:"height" description:"Initial window height in pixels"`
	Colors          []string       `long:"color" description:"Trace color as 6 digit hex, repeat for more"`
	HTTPAddr        *string        `long:"http-addr" description:"Serve /ws, /lines, /metadata and /snapshot.png on this address"`
	PollInterval    *time.Duration `long:"poll-interval" description:"How long the poller waits for a command before checking for shutdown"`
	EventBufferSize *int           `long:"event-buffer-size" description:"Buffered events per observer"`
	KeepOpen        bool           `long:"keep-open" description:"Keep the window open when the controller goes away"`
}

// ViewerOptions resolves defaults, then the config file, then flags.
func (f RenderFlags) ViewerOptions() (ViewerOptions, error) {
	opts := DefaultViewerOptions()
	if f.Config != "" {
		var err error
		opts, err = LoadViewerOptions(f.Config)
		if err != nil {
			return opts, err
		}
	}

	if f.Title != nil {
		opts.Title = *f.Title
	}
	if f.Hint != nil {
		opts.Hint = *f.Hint
	}
	if f.XLabel != nil {
		opts.XLabel = *f.XLabel
	}
	if f.YLabel != nil {
		opts.YLabel = *f.YLabel
	}
	if f.Width != nil {
		opts.Width = *f.Width
	}
	if f.Height != nil {
		opts.Height = *f.Height
	}
	if len(f.Colors) > 0 {
		opts.Colors = f.Colors
	}
	if f.HTTPAddr != nil {
		opts.HTTPAddr = *f.HTTPAddr
	}
	if f.PollInterval != nil {
		opts.PollInterval = *f.PollInterval
	}
	if f.EventBufferSize != nil {
		opts.EventBufferSize = *f.EventBufferSize
	}
	if f.KeepOpen {
		opts.KeepOpen = true
	}

	return opts, opts.Validate()
}

// ParseRenderArgs parses renderer flags, as produced by ViewerOptions.Args,
// and returns the resolved options plus any positional arguments.
func ParseRenderArgs(args []string) (ViewerOptions, []string, error) {
	var f RenderFlags
	rest, err := flags.NewParser(&f, flags.IgnoreUnknown).ParseArgs(args)
	if err != nil {
		return ViewerOptions{}, nil, err
	}

	opts, err := f.ViewerOptions()
	return opts, rest, err
}
