package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"

	"github.com/cactusdynamics/waveviewer"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Events carrying whole lines can be large.
const maxEventSize = 256 << 20

// Config holds the configuration for the tail
type Config struct {
	ServerURL string
	Output    io.Writer
}

// Tail follows the /ws event stream of a renderer and writes one CSV row
// per sample of every line added, and one row per other event.
type Tail struct {
	config    Config
	csvWriter *csv.Writer
	logger    logrus.FieldLogger
}

func NewTail(config Config) *Tail {
	return &Tail{
		config:    config,
		csvWriter: csv.NewWriter(config.Output),
		logger:    logrus.WithField("tag", "Tail"),
	}
}

// Run connects and copies events until the renderer ends the stream or ctx
// is canceled. A stream that ended with a renderer error is returned as an
// error.
func (w *Tail) Run(ctx context.Context) error {
	u, err := url.Parse(w.config.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Change scheme to websocket
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	w.logger.WithField("url", u.String()).Info("connecting to websocket")

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	conn.SetReadLimit(maxEventSize)

	if err := w.csvWriter.Write([]string{"type", "name", "series", "t", "y"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	var streamErr error
	for {
		var event waveviewer.Event
		err := wsjson.Read(ctx, conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				w.logger.Info("connection closed normally")
			} else if ctx.Err() == nil {
				w.logger.WithError(err).Error("error reading event")
				streamErr = err
			}
			break
		}

		if event.StreamEnded {
			if event.Error != "" {
				w.logger.WithField("error", event.Error).Error("stream ended with error")
				streamErr = errors.New(event.Error)
			} else {
				w.logger.Info("stream ended")
			}
			break
		}

		if err := w.writeEvent(event); err != nil {
			return err
		}
	}

	w.csvWriter.Flush()
	if err := w.csvWriter.Error(); err != nil {
		return err
	}
	return streamErr
}

// writeEvent writes the samples of an add_line event with the line's
// offset applied, as drawn. Other events get a single row.
func (w *Tail) writeEvent(event waveviewer.Event) error {
	if event.Type != waveviewer.CommandAddLine {
		if err := w.csvWriter.Write([]string{string(event.Type), event.Name, "", "", ""}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}

	for s, ys := range event.Ys {
		series := strconv.Itoa(s)
		for i, y := range ys {
			if i >= len(event.T) {
				break
			}
			row := []string{
				string(event.Type),
				event.Name,
				series,
				strconv.FormatFloat(event.T[i], 'g', -1, 64),
				strconv.FormatFloat(y+event.Offset, 'g', -1, 64),
			}
			if err := w.csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

type options struct {
	URL     string `long:"url" default:"http://localhost:5274" description:"Address of the renderer's observer HTTP server"`
	Verbose bool   `short:"v" long:"verbose" description:"Log debug messages"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logrus.SetOutput(os.Stderr)
	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tail := NewTail(Config{
		ServerURL: opts.URL,
		Output:    os.Stdout,
	})
	if err := tail.Run(ctx); err != nil {
		logrus.WithError(err).Error("tail failed")
		os.Exit(1)
	}
}
