package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sherzodv/tim/pkg/client"
	"github.com/sherzodv/tim/pkg/logging"
	"github.com/sherzodv/tim/pkg/wire"
)

const bootstrapPageSize = 100

func main() {
	var (
		server     string
		nick       string
		space      string
		receiveOwn bool
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "tim",
		Short:         "tim terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.ParseLevel(logLevel))
			slog.SetDefault(logger)
			return run(logger, client.Config{
				Endpoint:   server,
				Nick:       nick,
				Platform:   "terminal",
				Space:      space,
				ReceiveOwn: receiveOwn,
			})
		},
	}
	root.Flags().StringVar(&server, "server", "http://127.0.0.1:8787", "server base URL")
	root.Flags().StringVar(&nick, "nick", "", "nick to register or connect with")
	root.Flags().StringVar(&space, "space", wire.DefaultSpace, "space to join")
	root.Flags().BoolVar(&receiveOwn, "receive-own", true, "echo own messages back over the stream")
	root.Flags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tim:", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg client.Config) error {
	idPath, err := client.IdentityPath()
	if err != nil {
		return err
	}
	identity, err := client.LoadIdentity(idPath)
	if err != nil {
		return err
	}
	cfg.TimiteID = identity.TimiteID
	if cfg.Nick == "" {
		cfg.Nick = identity.Nick
	}
	if cfg.Nick == "" {
		cfg.Nick = "anonymous"
	}

	c, err := client.New(logger, cfg)
	if err != nil {
		return err
	}
	c.OnSession = func(sess wire.Session) {
		saved := client.Identity{TimiteID: sess.TimiteID, Nick: sess.Nick}
		if err := client.SaveIdentity(idPath, saved); err != nil {
			logger.Warn("Failed to persist identity", slog.Any("error", err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Connected as %s (timite %d), space %q\n", sess.Nick, sess.TimiteID, cfg.Space)

	view := client.NewView(sess.TimiteID, sess.Nick)
	printer := &printer{view: view}

	history, err := collectTimeline(ctx, c)
	if err != nil {
		return err
	}
	view.SetHistory(history)
	printer.flush()

	stream := client.NewStream(logger, c)
	stream.OnEvent = func(e wire.SpaceEvent) {
		view.ApplyEvent(e)
		printer.flush()
	}
	stream.OnPhase = func(p client.Phase) {
		view.ApplyPhase(p)
		printer.flush()
	}
	stream.Start(ctx)
	defer stream.Stop()

	// Stdin owns the foreground; each line becomes one message.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.SendMessage(ctx, line); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
			}
		case <-ctx.Done():
			fmt.Println("\nBye.")
			return nil
		}
	}
}

// collectTimeline pages through the full history into one response so the
// view can be seeded wholesale.
func collectTimeline(ctx context.Context, c *client.Client) (wire.TimelineRes, error) {
	var all wire.TimelineRes
	err := c.WalkTimeline(ctx, bootstrapPageSize, func(page wire.TimelineRes) error {
		all.Events = append(all.Events, page.Events...)
		all.Timites = append(all.Timites, page.Timites...)
		all.Size = page.Size
		return nil
	})
	return all, err
}

// printer writes view items to stdout exactly once each, in order.
type printer struct {
	view *client.View

	mu      sync.Mutex
	printed int
}

func (p *printer) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.view.Items()
	for ; p.printed < len(items); p.printed++ {
		item := items[p.printed]
		switch item.Kind {
		case client.ItemMessage:
			fmt.Printf("[%s] %s: %s\n", item.Time.Local().Format("15:04:05"), item.Author, item.Content)
		default:
			fmt.Printf("* %s\n", item.Content)
		}
	}
}
