// Package console runs the agenda bot from a terminal. Lines typed on
// stdin are requests from the configured sender; events and reminders are
// printed back.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"agendabot/internal/delivery/channels"
	"agendabot/internal/domain/reminder"
	"agendabot/internal/domain/routing"
	"agendabot/internal/infra/observability"
	"agendabot/internal/shared/logging"
	"agendabot/internal/shared/watch"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// Origin identifies the console on the hub.
const Origin routing.Origin = "console"

const (
	channelName = "console"
	prompt      = "> "
	ackMarker   = "✓"
)

// Config configures the console adapter.
type Config struct {
	channels.BaseConfig
	Sender      string
	HistoryFile string
}

// Option customizes a Console.
type Option func(*Console)

// WithIO replaces stdin/stdout. Non-terminal input is read line by line
// without readline.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(c *Console) {
		c.in = in
		c.out = out
	}
}

// Console bridges a terminal to the hub.
type Console struct {
	cfg       Config
	hub       channels.Hub
	agenda    channels.AgendaReader
	reminders *watch.Cell[reminder.Type]
	logger    logging.Logger
	metrics   *observability.MetricsCollector

	in  io.Reader
	out io.Writer

	outMu   sync.Mutex
	palette palette
}

type palette struct {
	event    func(a ...interface{}) string
	reminder func(a ...interface{}) string
	ack      func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	event := color.New(color.FgCyan)
	rem := color.New(color.FgYellow, color.Bold)
	ack := color.New(color.FgGreen)
	if !enabled {
		for _, c := range []*color.Color{event, rem, ack} {
			c.DisableColor()
		}
	} else {
		// color.NoColor follows os.Stdout, which may differ from our writer.
		for _, c := range []*color.Color{event, rem, ack} {
			c.EnableColor()
		}
	}
	return palette{event: event.SprintFunc(), reminder: rem.SprintFunc(), ack: ack.SprintFunc()}
}

// New builds a console adapter on stdin/stdout unless WithIO is given.
func New(cfg Config, hub channels.Hub, agenda channels.AgendaReader, reminders *watch.Cell[reminder.Type], logger logging.Logger, metrics *observability.MetricsCollector, opts ...Option) *Console {
	if strings.TrimSpace(cfg.Sender) == "" {
		cfg.Sender = string(Origin)
	}
	c := &Console{
		cfg:       cfg,
		hub:       hub,
		agenda:    agenda,
		reminders: reminders,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		in:        os.Stdin,
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.palette = newPalette(isTerminal(c.out))
	return c
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Run reads lines until ctx is done or input ends. End of input stops the
// console only; it is not an error.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader, err := c.newLineReader()
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer reader.Close()

	pump := channels.Pump{
		Origin:  Origin,
		Agenda:  c.agenda,
		Deliver: c.deliver,
		Logger:  c.logger,
	}
	if c.reminders != nil {
		pump.Reminders = c.reminders.Subscribe()
	}
	events, unsubscribe := c.hub.Subscribe(Origin)
	defer unsubscribe()
	pump.Events = events
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		_ = pump.Run(ctx)
	}()
	defer func() {
		cancel()
		<-pumpDone
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := reader.ReadLine()
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) {
					c.logger.Warn("Console: read failed: %v", err)
				}
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	c.logger.Info("Console: ready, sending as %s", c.cfg.Sender)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.submit(ctx, line); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (c *Console) submit(ctx context.Context, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	c.metrics.RecordChannelMessage(ctx, channelName, "in", "ok")
	req, fb := channels.NewRequest(Origin, line, c.cfg.Sender)
	if err := c.hub.Submit(ctx, req); err != nil {
		return err
	}
	if fb != nil {
		go channels.AwaitFeedback(ctx, fb, c.cfg.Timeout(), func() {
			c.println(c.palette.ack(ackMarker + " " + line))
		})
	}
	return nil
}

func (c *Console) deliver(ctx context.Context, out channels.Outbound) error {
	var text string
	switch out.Kind {
	case channels.OutboundReminder:
		text = c.palette.reminder(out.Text)
	default:
		text = c.palette.event(out.Text)
	}
	err := c.println(text)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordChannelMessage(ctx, channelName, "out", status)
	return err
}

func (c *Console) println(text string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.out, text)
	return err
}

type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

func (c *Console) newLineReader() (lineReader, error) {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:            prompt,
			HistoryFile:       c.cfg.HistoryFile,
			InterruptPrompt:   "^C",
			EOFPrompt:         "exit",
			HistorySearchFold: true,
			UniqueEditLine:    true,
			Stdin:             readline.NewCancelableStdin(f),
			Stdout:            c.out,
			Stderr:            os.Stderr,
		})
		if err != nil {
			return nil, fmt.Errorf("init readline: %w", err)
		}
		// Printing through readline keeps the prompt intact.
		c.out = rl.Stdout()
		return readlineReader{rl}, nil
	}
	return &scanReader{scanner: bufio.NewScanner(c.in), closer: c.in}, nil
}

type readlineReader struct {
	rl *readline.Instance
}

func (r readlineReader) ReadLine() (string, error) { return r.rl.Readline() }
func (r readlineReader) Close() error              { return r.rl.Close() }

type scanReader struct {
	scanner *bufio.Scanner
	closer  io.Reader
}

func (s *scanReader) ReadLine() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *scanReader) Close() error {
	if closer, ok := s.closer.(io.Closer); ok && s.closer != os.Stdin {
		return closer.Close()
	}
	return nil
}
