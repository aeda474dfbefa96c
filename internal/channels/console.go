package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/neboloop/ouro/internal/inbox"
)

// ConsoleName is the channel name of the local terminal.
const ConsoleName = "console"

// Console reads lines from a terminal and prints replies to it.
type Console struct {
	in  io.Reader
	out io.Writer
	now func() time.Time

	once  sync.Once
	lines chan string

	mu sync.Mutex
}

// NewConsole returns a console adapter over in and out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out, now: time.Now, lines: make(chan string, 16)}
}

func (c *Console) Name() string { return ConsoleName }

// Poll blocks for the next line. The reader goroutine is started on first use
// and ends when the input does.
func (c *Console) Poll(ctx context.Context, cursor string) ([]inbox.Envelope, string, error) {
	c.once.Do(func() { go c.read() })

	var line string
	select {
	case <-ctx.Done():
		return nil, cursor, ctx.Err()
	case l, ok := <-c.lines:
		if !ok {
			return nil, cursor, ErrClosed
		}
		line = l
	}

	envs := []inbox.Envelope{c.envelope(line)}
	for {
		select {
		case l, ok := <-c.lines:
			if !ok {
				return envs, cursor, nil
			}
			envs = append(envs, c.envelope(l))
		default:
			return envs, cursor, nil
		}
	}
}

func (c *Console) envelope(line string) inbox.Envelope {
	return inbox.NewEnvelope(ConsoleName, line, inbox.Address{Channel: ConsoleName})
}

func (c *Console) read() {
	defer close(c.lines)
	sc := bufio.NewScanner(c.in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.lines <- line
	}
}

// Send prints text with a timestamp.
func (c *Console) Send(_ context.Context, _ inbox.Address, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "\n[%s] ouro: %s\n", c.now().Format("15:04:05"), text)
	return err
}
