// Command livefeedback follows and casts live feedback votes in ARSnova rooms.
//
// Subcommands:
//
//	info ROOM         show the room's name and description
//	stats ROOM        show room activity counters
//	watch ROOM        print every tally; vote by typing 1-4 or a-d and Enter
//	vote ROOM VALUE   cast a single vote and print the resulting tally
//	serve             run the local relay: REST API, WebSocket, /mcp and metrics
//	mcp               run an MCP stdio server backed by the relay
//
// Settings come from livefeedback.yaml, LIVEFEEDBACK_* environment variables
// (a .env file is loaded first) and the global flags.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/livefeedback/client"
	"github.com/wricardo/mcp-training/livefeedback/config"
	"github.com/wricardo/mcp-training/livefeedback/feedback"
	"github.com/wricardo/mcp-training/livefeedback/metrics"
	"github.com/wricardo/mcp-training/livefeedback/transport/mcp"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "livefeedback"
)

// voteWait bounds how long the vote command waits for the updated tally
const voteWait = 5 * time.Second

// app carries what the root command prepares for its subcommands
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	stdin   io.Reader
	stdout  io.Writer
}

func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{stdin: os.Stdin, stdout: os.Stdout}
	cmd := a.command()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("error loading .env file")
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", AppName, describe(err))
		os.Exit(1)
	}
}

// describe renders a failure as a single line naming the failed stage
func describe(err error) string {
	if errors.Is(err, client.ErrStreamEnded) {
		return "the stream ended"
	}
	return err.Error()
}

// command builds the command tree
func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "follow and cast live feedback votes in ARSnova rooms",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("LIVEFEEDBACK_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "REST API base URL (overrides api_url)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: a.setup,
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "show a room's name and description",
				ArgsUsage: "ROOM",
				Action:    a.runInfo,
			},
			{
				Name:      "stats",
				Usage:     "show room activity counters",
				ArgsUsage: "ROOM",
				Action:    a.runStats,
			},
			{
				Name:      "watch",
				Usage:     "print every tally of a room and vote from stdin",
				ArgsUsage: "ROOM",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "read-only",
						Usage: "do not read votes from stdin",
					},
				},
				Action: a.runWatch,
			},
			{
				Name:      "vote",
				Usage:     "cast a vote (very_good, good, bad, very_bad or a-d)",
				ArgsUsage: "ROOM VALUE",
				Action:    a.runVote,
			},
			{
				Name:  "serve",
				Usage: "run the local relay with REST API, WebSocket, /mcp and /metrics",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "listen port (overrides port)",
					},
					&cli.BoolFlag{
						Name:  "ngrok",
						Usage: "expose the relay through an ngrok tunnel",
					},
				},
				Action: a.runServe,
			},
			{
				Name:   "mcp",
				Usage:  "run an MCP stdio server backed by the relay",
				Action: a.runMCP,
			},
		},
	}
}

// setup loads the configuration and installs the logger
func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd.String("url"))
	if err != nil {
		return ctx, err
	}

	level, _ := cfg.Level()
	if cmd.Bool("debug") {
		level = zerolog.DebugLevel
	}

	a.cfg = cfg
	a.logger = newLogger(os.Stderr, level)
	log.Logger = a.logger
	if a.metrics == nil {
		a.metrics = metrics.New()
	}

	a.logger.Debug().Str("api_url", cfg.APIURL).Str("version", Version).Msg("configuration loaded")
	return ctx, nil
}

// loadConfig reads the configuration and applies the --url override
func loadConfig(path, apiURL string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// login creates a client from the configuration and opens a guest session
func (a *app) login(ctx context.Context) (*client.Session, error) {
	c, err := client.NewClient(a.clientConfig())
	if err != nil {
		return nil, err
	}
	return c.GuestLogin(ctx)
}

func (a *app) clientConfig() client.ClientConfig {
	return client.ClientConfig{
		APIURL:     a.cfg.APIURL,
		HTTPClient: &http.Client{Timeout: a.cfg.HTTPTimeout},
		KeepAlive:  a.cfg.KeepAlive,
		UserAgent:  fmt.Sprintf("%s/%s", AppName, Version),
		Logger:     &a.logger,
		Metrics:    a.metrics,
	}
}

// roomArg returns the first argument, stripped of the spaces used when codes
// are read out loud ("1234 5678")
func roomArg(cmd *cli.Command) (string, error) {
	code := strings.ReplaceAll(cmd.Args().First(), " ", "")
	if code == "" {
		return "", fmt.Errorf("missing ROOM argument")
	}
	return code, nil
}

func (a *app) runInfo(ctx context.Context, cmd *cli.Command) error {
	code, err := roomArg(cmd)
	if err != nil {
		return err
	}

	session, err := a.login(ctx)
	if err != nil {
		return err
	}

	room, err := session.RoomInfo(ctx, code)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "%s (%s)\n", room.Name, room.ShortID)
	if room.Description != "" {
		fmt.Fprintf(a.stdout, "\n%s\n", room.Description)
	}
	return nil
}

func (a *app) runStats(ctx context.Context, cmd *cli.Command) error {
	code, err := roomArg(cmd)
	if err != nil {
		return err
	}

	session, err := a.login(ctx)
	if err != nil {
		return err
	}

	stats, err := session.RoomStats(ctx, code)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "contents: %d\nacknowledged comments: %d\nusers: %d\n",
		stats.ContentCount, stats.AckCommentCount, stats.RoomUserCount)
	return nil
}

func (a *app) runWatch(ctx context.Context, cmd *cli.Command) error {
	code, err := roomArg(cmd)
	if err != nil {
		return err
	}

	session, err := a.login(ctx)
	if err != nil {
		return err
	}

	snapshots := make(chan feedback.Feedback, a.cfg.Buffer)
	handler := client.SendTo(snapshots)
	if !cmd.Bool("read-only") {
		votes := make(chan feedback.Value)
		go a.readVotes(ctx, votes)
		handler = client.Exchange(snapshots, votes)
	}

	result := make(chan error, 1)
	go func() {
		result <- session.OnFeedbackChanged(ctx, code, handler)
	}()

	for fb := range snapshots {
		fmt.Fprintf(a.stdout, "\n[%s] room %s\n%s", time.Now().Format(time.TimeOnly), code, mcp.FormatFeedback(fb))
	}
	return <-result
}

// readVotes turns stdin lines into votes. Unknown input is reported and
// skipped. EOF stops reading but keeps the stream open.
func (a *app) readVotes(ctx context.Context, votes chan<- feedback.Value) {
	scanner := bufio.NewScanner(a.stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		value, err := parseVote(line)
		if err != nil {
			a.logger.Warn().Str("input", line).Msg("unknown vote, use 1-4, a-d or a value name")
			continue
		}

		select {
		case votes <- value:
			a.logger.Info().Str("vote", value.String()).Msg("vote sent")
		case <-ctx.Done():
			return
		}
	}
}

// parseVote accepts a button key (1-4, a-d) or a value name
func parseVote(s string) (feedback.Value, error) {
	if value, ok := feedback.ValueFromKey(s); ok {
		return value, nil
	}
	return feedback.ParseValue(s)
}

func (a *app) runVote(ctx context.Context, cmd *cli.Command) error {
	code, err := roomArg(cmd)
	if err != nil {
		return err
	}
	if cmd.NArg() < 2 {
		return fmt.Errorf("missing VALUE argument")
	}
	value, err := parseVote(cmd.Args().Get(1))
	if err != nil {
		return err
	}

	session, err := a.login(ctx)
	if err != nil {
		return err
	}

	snapshots := make(chan feedback.Feedback, a.cfg.Buffer)
	votes := make(chan feedback.Value)

	result := make(chan error, 1)
	go func() {
		result <- session.OnFeedbackChanged(ctx, code, client.Exchange(snapshots, votes))
	}()

	select {
	case votes <- value:
	case err := <-result:
		if err == nil {
			err = client.ErrStreamEnded
		}
		return err
	}
	fmt.Fprintf(a.stdout, "vote %s sent to room %s\n", value, code)

	// The tally that includes the vote follows shortly
	timer := time.NewTimer(voteWait)
	defer timer.Stop()

	select {
	case fb, ok := <-snapshots:
		if ok {
			fmt.Fprint(a.stdout, mcp.FormatFeedback(fb))
		}
	case <-timer.C:
		a.logger.Debug().Msg("no tally received after voting")
	case <-ctx.Done():
	}

	close(votes)
	for range snapshots {
	}
	return <-result
}
