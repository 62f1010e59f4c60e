package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/aide/internal/config"
	"github.com/harun/aide/pkg/agent"
	"github.com/harun/aide/pkg/history"
	"github.com/spf13/cobra"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session with the assistant. Lines starting with a
slash are commands:

  /mode <simple|autonomous|intent>  switch the mode for later turns
  /files                            list the session's virtual files
  /stats                            show session cache statistics
  /clear                            forget the conversation
  /exit                             leave

Edits to the config file are picked up without restarting.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", defaultUser(), "user id")
	rootCmd.AddCommand(chatCmd)
}

// chatSession is the state of one interactive loop
type chatSession struct {
	app   *app
	cache *assistantCache
	store history.Store
	user  string
	mode  agent.Mode
	out   io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newLLMClient(a.config())
	if err != nil {
		return err
	}
	store, err := openHistory(ctx, a.config())
	if err != nil {
		return err
	}
	defer store.Close()

	cache := newAssistantCache(a.config, client)
	if err := cache.Start(); err != nil {
		return err
	}
	defer cache.Shutdown(context.Background())

	s := &chatSession{
		app:   a,
		cache: cache,
		store: store,
		user:  chatUser,
		out:   cmd.OutOrStdout(),
	}

	watcher := config.NewWatcher(a.loader, a.config())
	watcher.Subscribe(s.reloaded)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Config reload disabled")
		}
	}()

	return s.loop(ctx, cmd.InOrStdin())
}

func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(s.out, "aide %s, chatting as %s. Type /exit to leave.\n", version, s.user)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(s.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return <-scanErr
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				done, err := s.command(ctx, line)
				if err != nil {
					fmt.Fprintf(s.out, "Error: %v\n", err)
				}
				if done {
					return nil
				}
				continue
			}
			if err := s.turn(ctx, line); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				fmt.Fprintf(s.out, "Error: %v\n", err)
			}
		}
	}
}

func (s *chatSession) turn(ctx context.Context, goal string) error {
	assistant, err := s.cache.GetOrCreate(ctx, s.user, s.store)
	if err != nil {
		return fmt.Errorf("failed to start assistant: %w", err)
	}

	res, err := assistant.Run(ctx, agent.TurnRequest{
		Goal:        goal,
		Mode:        s.mode,
		Personality: s.app.config().Engine.Personality,
	})
	if res != nil {
		if perr := printResult(s.out, outputText, res); perr != nil {
			return perr
		}
	}
	if err != nil {
		s.app.log.Warn().Err(err).Str("user_id", s.user).Msg("Turn ended with error")
	}
	return err
}

func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil

	case "/mode":
		if len(fields) != 2 {
			fmt.Fprintf(s.out, "mode: %s\n", s.currentMode())
			return false, nil
		}
		mode, err := agent.ParseMode(fields[1])
		if err != nil {
			return false, err
		}
		s.mode = mode
		fmt.Fprintf(s.out, "mode set to %s\n", mode)

	case "/files":
		assistant, err := s.cache.GetOrCreate(ctx, s.user, s.store)
		if err != nil {
			return false, err
		}
		files := assistant.Files().List()
		if len(files) == 0 {
			fmt.Fprintln(s.out, "no files")
		}
		for _, f := range files {
			fmt.Fprintf(s.out, "%v (%v bytes, v%v)\n", f["filename"], f["size_bytes"], f["version"])
		}

	case "/stats":
		st := s.cache.Stats()
		fmt.Fprintf(s.out, "entries=%d hits=%d misses=%d created=%d evicted=%d\n",
			st.Entries, st.Hits, st.Misses, st.Created, st.Evicted)

	case "/clear":
		if err := s.store.Clear(ctx, s.user); err != nil {
			return false, err
		}
		s.cache.Remove(s.user)
		fmt.Fprintln(s.out, "conversation cleared")

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func (s *chatSession) currentMode() agent.Mode {
	if s.mode != "" {
		return s.mode
	}
	return agent.Mode(s.app.config().Engine.DefaultMode)
}

// reloaded swaps in a new config. The user's assistant is rebuilt on the
// next turn; its memory is reloaded from the store.
func (s *chatSession) reloaded(cfg *config.Config) {
	s.app.setConfig(cfg)
	if err := s.app.logger.SetLevel(cfg.Logging.Level); err != nil {
		s.app.log.Warn().Err(err).Msg("Keeping previous log level")
	}
	s.cache.Remove(s.user)
	s.app.log.Info().Msg("Configuration reloaded")
}
