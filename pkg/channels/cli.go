package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/pingpal-io/pingpal/pkg/bus"
)

const cliTransportLimit = 4000

// CLIAdapter is a local terminal channel for poking at the pipeline without
// any platform credentials. Every non-empty line is a trigger.
type CLIAdapter struct {
	bus  *bus.MessageBus
	rl   *readline.Instance
	done chan struct{}
}

func NewCLI(b *bus.MessageBus) *CLIAdapter {
	return &CLIAdapter{bus: b, done: make(chan struct{})}
}

func (a *CLIAdapter) Name() string        { return "cli" }
func (a *CLIAdapter) TransportLimit() int { return cliTransportLimit }

func (a *CLIAdapter) Start(ctx context.Context) error {
	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	a.rl = rl

	go func() {
		defer close(a.done)
		for {
			line, err := rl.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return
				}
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			a.bus.PublishInbound(bus.InboundMessage{
				Channel:   "cli",
				ChatID:    "local",
				MessageID: uuid.NewString(),
				SenderID:  "local",
				Content:   line,
				Mentioned: true,
			})
		}
	}()
	return nil
}

func (a *CLIAdapter) Stop() error {
	if a.rl != nil {
		return a.rl.Close()
	}
	return nil
}

// Send prints the reply; edits collapse to plain prints since a terminal
// has no message identity.
func (a *CLIAdapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Printf("bot> %s\n", msg.Content)
	return err
}
