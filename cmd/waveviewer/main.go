package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cactusdynamics/waveviewer"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

type globalOptions struct {
	Verbose bool `short:"v" long:"verbose" description:"Log debug messages"`
}

var options globalOptions

func setupLogging() {
	logrus.SetOutput(os.Stderr)
	if options.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// renderCommand is what the controller starts: it draws the commands
// arriving on stdin.
type renderCommand struct {
	waveviewer.RenderFlags
}

func (c *renderCommand) Execute(args []string) error {
	setupLogging()

	viewerOptions, err := c.RenderFlags.ViewerOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer := waveviewer.NewRenderer(os.Stdin, viewerOptions, nil)
	return renderer.Run(ctx)
}

// plotCommand reads waveforms from text files and shows them in a renderer
// started through the controller, one line per file.
type plotCommand struct {
	Csv          bool    `long:"csv" description:"Parse input as strict CSV instead of splitting on spaces, tabs and commas"`
	TColumn      int     `long:"t-column" default:"0" description:"Column holding t; -1 generates t from the row number"`
	SamplePeriod float64 `long:"sample-period" default:"1" description:"Spacing of generated t values"`
	OffsetStep   float64 `long:"offset-step" default:"0" description:"Vertical offset added per file"`
	Renderer     string  `long:"renderer" description:"Renderer binary (default: this program)"`

	waveviewer.RenderFlags

	Args struct {
		Files []string `positional-arg-name:"FILE" description:"Input files, - for stdin"`
	} `positional-args:"yes" required:"yes"`
}

func (c *plotCommand) Execute(args []string) error {
	setupLogging()
	logger := logrus.WithField("tag", "Plot")

	viewerOptions, err := c.RenderFlags.ViewerOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	waveforms, err := c.readWaveforms(ctx, os.Stdin)
	if err != nil {
		return err
	}

	rendererPath := c.Renderer
	if rendererPath == "" {
		rendererPath, err = os.Executable()
		if err != nil {
			return fmt.Errorf("cannot locate the renderer: %w", err)
		}
	}

	opts := waveviewer.Options{
		Viewer:       viewerOptions,
		RendererPath: rendererPath,
		Detached:     viewerOptions.KeepOpen,
	}
	if options.Verbose {
		opts.RendererArgs = []string{"--verbose"}
	}

	viewer, err := waveviewer.Start(opts)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		viewer.Close()
	}()

	for i, w := range waveforms {
		offset := float64(i) * c.OffsetStep
		logger.WithFields(logrus.Fields{
			"name":    w.Name,
			"series":  w.Series,
			"samples": len(w.T),
			"offset":  offset,
		}).Info("adding line")

		if err := viewer.AddLine(w.Name, w.T, w.Ys, offset); err != nil {
			viewer.Close()
			return err
		}
	}

	if err := viewer.Autoscale(); err != nil {
		viewer.Close()
		return err
	}

	logger.WithField("lines", len(waveforms)).Info("waiting for the window to close")
	return viewer.Wait()
}

// waveform is one input file read as a line. Series holds the header's
// column names for the ys, when the file had a header.
type waveform struct {
	waveviewer.Line
	Series []string
}

// readWaveforms reads every input in order. Line names come from the file
// names and are made unique, since adding a line with a name already in use
// replaces it.
func (c *plotCommand) readWaveforms(ctx context.Context, stdin io.Reader) ([]waveform, error) {
	if n := countStdin(c.Args.Files); n > 1 {
		return nil, fmt.Errorf("stdin (-) given %d times, it can only be read once", n)
	}

	waveforms := make([]waveform, 0, len(c.Args.Files))
	used := make(map[string]bool)
	for _, file := range c.Args.Files {
		w, err := c.readWaveform(ctx, file, stdin)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		w.Name = uniqueName(w.Name, used)
		waveforms = append(waveforms, w)
	}
	return waveforms, nil
}

func countStdin(files []string) int {
	n := 0
	for _, file := range files {
		if file == "-" {
			n++
		}
	}
	return n
}

// uniqueName returns name, or name-2, name-3 and so on when it was taken.
func uniqueName(name string, used map[string]bool) string {
	unique := name
	for n := 2; used[unique]; n++ {
		unique = fmt.Sprintf("%s-%d", name, n)
	}
	used[unique] = true
	return unique
}

func (c *plotCommand) readWaveform(ctx context.Context, file string, stdin io.Reader) (waveform, error) {
	input := stdin
	name := "stdin"
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return waveform{}, err
		}
		defer f.Close()

		input = f
		name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	var stringReader waveviewer.StringReader
	if c.Csv {
		stringReader = waveviewer.NewCsvStringReader(input)
	} else {
		stringReader = waveviewer.NewRelaxedStringReader(input)
	}

	reader := &waveviewer.WaveformReader{
		Input:        stringReader,
		TIndex:       c.TColumn,
		SamplePeriod: c.SamplePeriod,
	}
	line, err := reader.ReadLine(ctx, name)
	if err != nil {
		return waveform{}, err
	}
	return waveform{Line: line, Series: reader.ColumnNames()}, nil
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&options, flags.HelpFlag|flags.PassDoubleDash)

	parser.AddCommand("render", "Run a renderer window",
		"Open a window and draw the commands read from stdin. Normally started by the controller.",
		&renderCommand{})
	parser.AddCommand("plot", "Plot waveforms from text files",
		"Read one waveform per file and show them all in a renderer window.",
		&plotCommand{})

	return parser
}

func main() {
	parser := newParser()
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Fprintln(os.Stdout, flagsErr.Message)
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, flagsErr.Message)
			os.Exit(2)
		}

		logrus.WithError(err).Error("waveviewer failed")
		os.Exit(1)
	}
}
