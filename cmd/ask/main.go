// Command ask queries HydroCare from the terminal, either through a running
// server or with the pipeline in-process.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydrocare-rag/internal/app"
	"hydrocare-rag/internal/client"
	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/logging"
	"hydrocare-rag/internal/models"
)

type options struct {
	question    string
	interactive bool
	server      string
	stateFile   string
	style       string
	width       int
}

// asker is what both modes provide.
type asker interface {
	Ask(ctx context.Context, question string) (*models.ChatResponse, error)
	Reset(ctx context.Context) error
}

// localAsker keeps the session identifier the way the HTTP client does.
type localAsker struct {
	app       *app.App
	sessionID string
}

func (l *localAsker) Ask(ctx context.Context, question string) (*models.ChatResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, client.ErrEmptyQuestion
	}
	resp, err := l.app.Pipeline.Ask(ctx, question, l.sessionID)
	if err != nil {
		return nil, err
	}
	l.sessionID = resp.SessionID
	return resp, nil
}

func (l *localAsker) Reset(ctx context.Context) error {
	id := l.sessionID
	l.sessionID = ""
	if id == "" {
		return nil
	}
	return l.app.Pipeline.Reset(ctx, id)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask the HydroCare assistant a hydroponics question",
		Long: `Ask sends questions to the HydroCare assistant and prints the answer with
its quality scores and cited pages.

With --server the questions go to a running API and the session is kept in
the state file. Without it the retrieval pipeline runs in-process.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAsk(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", "", "API base URL (remote mode)")
	flags.StringVar(&opts.stateFile, "state", defaultStatePath(), "client state file")
	flags.StringVar(&opts.style, "style", "dark", "markdown style (dark, light, dracula, notty)")
	flags.IntVar(&opts.width, "width", 100, "word wrap width, 0 to disable")

	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "question to ask")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "read questions until EOF")

	cmd.AddCommand(newResetCmd(opts), newAnalyzeCmd(opts))
	return cmd
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the current remote session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.server == "" {
				return errors.New("reset needs --server")
			}
			c, err := client.New(opts.server, opts.stateFile, nil)
			if err != nil {
				return err
			}
			if err := c.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session réinitialisée")
			return nil
		},
	}
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze IMAGE",
		Short: "Diagnose a plant disease from a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.server == "" {
				return errors.New("analyze needs --server")
			}
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := client.New(opts.server, opts.stateFile, nil)
			if err != nil {
				return err
			}
			r, err := client.NewTermRenderer(opts.style, opts.width)
			if err != nil {
				return err
			}

			d, err := c.Analyze(cmd.Context(), args[0], image)
			if err != nil {
				return err
			}
			if err := c.SaveReport(args[0], *d); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.RenderDiagnosis(d))
			return nil
		},
	}
}

func runAsk(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	if opts.question == "" && !opts.interactive {
		return errors.New("either --question or --interactive is required")
	}

	r, err := client.NewTermRenderer(opts.style, opts.width)
	if err != nil {
		return err
	}

	a, cleanup, err := newAsker(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.question != "" {
		if err := askOnce(ctx, a, r, out, opts.question); err != nil {
			return err
		}
	}
	if !opts.interactive {
		return nil
	}

	fmt.Fprintln(out, "Posez vos questions (/reset pour recommencer, Ctrl-D pour quitter).")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/reset":
			if err := a.Reset(ctx); err != nil {
				fmt.Fprintln(out, "Erreur:", err)
				continue
			}
			fmt.Fprintln(out, "Session réinitialisée")
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := askOnce(ctx, a, r, out, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(out, "Erreur:", err)
		}
	}
}

func askOnce(ctx context.Context, a asker, r *client.TermRenderer, out io.Writer, question string) error {
	fmt.Fprintln(out, r.RenderQuestion(question))
	resp, err := a.Ask(ctx, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, r.RenderAnswer(resp))
	fmt.Fprintln(out)
	return nil
}

func newAsker(ctx context.Context, opts *options) (asker, func(), error) {
	if opts.server != "" {
		c, err := client.New(opts.server, opts.stateFile, nil)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	// keep the terminal for answers
	cfg.App.LogLevel = "warn"
	logger, err := logging.New(cfg.App)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return &localAsker{app: a}, func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
		_ = logger.Sync()
	}, nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".hydrocare-client.json"
	}
	return filepath.Join(dir, "hydrocare", "client.json")
}
