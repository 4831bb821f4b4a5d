// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// weave-view is a terminal Matrix client built on the weave library.
// It logs in with a password, runs the sync loop, and renders the
// joined rooms and their timelines in an alternate-screen TUI.
//
// Sync state is optionally persisted between runs (--state-file), so
// a restart resumes from the last sync cursor instead of paying for a
// full initial sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/weave/client"
	"github.com/bureau-foundation/weave/event"
	"github.com/bureau-foundation/weave/lib/ref"
	"github.com/bureau-foundation/weave/lib/secret"
	"github.com/bureau-foundation/weave/messaging"
	"github.com/bureau-foundation/weave/statecache"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var flagConfig Config

	flagSet := pflag.NewFlagSet("weave-view", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&flagConfig.Homeserver, "homeserver", "", "homeserver base URL (default: discover from the user ID)")
	flagSet.StringVar(&flagConfig.User, "user", "", "fully-qualified Matrix user ID to log in as")
	flagSet.StringVar(&flagConfig.PasswordFile, "password-file", "", "read the password from this file, or stdin with \"-\" (default: prompt)")
	flagSet.StringVar(&flagConfig.FilterFile, "filter-file", "", "sync filter definition (JSON, comments allowed)")
	flagSet.StringVar(&flagConfig.StateFile, "state-file", "", "persist sync state to this file between runs")
	flagSet.StringVar(&flagConfig.LogOutput, "log-output", "", "write JSON log records to this file")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	explicitConfig := configPath != ""
	if !explicitConfig {
		configPath = defaultConfigPath()
	}
	config, err := loadConfig(configPath, explicitConfig)
	if err != nil {
		return err
	}
	mergeFlags(&config, flagConfig)

	if config.User == "" {
		return errors.New("a user ID is required (--user or the config file)")
	}
	userID, err := ref.ParseUserID(config.User)
	if err != nil {
		return err
	}

	logger, loggerCleanup, err := newBackgroundLogger(config.LogOutput)
	if err != nil {
		return err
	}
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	homeserverURL := config.Homeserver
	if homeserverURL == "" {
		serverName, err := ref.ParseServerName(userID.Server())
		if err != nil {
			return err
		}
		homeserverURL, err = messaging.DiscoverServer(ctx, serverName, messaging.DiscoverConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("discovering homeserver for %s: %w", userID, err)
		}
	}

	password, err := readPassword(config.PasswordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	matrixClient, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	session, err := matrixClient.Login(ctx, userID.String(), password)
	if err != nil {
		return err
	}
	defer session.Close()

	var filter string
	if config.FilterFile != "" {
		filter, err = loadFilter(config.FilterFile)
		if err != nil {
			return err
		}
	}

	// Hooks run under the connection lock; they only drop a token into
	// a buffered channel, and a forwarding goroutine turns tokens into
	// TUI messages. Redraws coalesce: a full channel means a refresh
	// is already pending.
	updates := make(chan struct{}, 1)
	notify := func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	}

	conn, err := client.NewConnection(client.Config{
		Session: session,
		Logger:  logger,
		Filter:  filter,
		Hooks: client.Hooks{
			RoomDiscovered:      func(*client.Room) { notify() },
			NewMessage:          func(*client.Room, event.Event) { notify() },
			DisplayNameChanged:  func(*client.Room, string) { notify() },
			TopicChanged:        func(*client.Room, string) { notify() },
			MemberAdded:         func(*client.Room, *client.User) { notify() },
			MemberRemoved:       func(*client.Room, *client.User) { notify() },
			MemberRenamed:       func(*client.Room, *client.User) { notify() },
			TypingChanged:       func(*client.Room) { notify() },
			UnreadCountsChanged: func(*client.Room) { notify() },
			JoinStateChanged:    func(*client.Room, client.JoinState, client.JoinState) { notify() },
		},
	})
	if err != nil {
		return err
	}

	if config.StateFile != "" {
		if err := statecache.Load(config.StateFile, conn); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("discarding unreadable state file", "path", config.StateFile, "error", err)
			}
		} else {
			logger.Info("resumed from saved state", "path", config.StateFile, "rooms", len(conn.Rooms()))
		}
	}

	syncDone := make(chan error, 1)
	go func() { syncDone <- conn.SyncLoop(ctx) }()

	program := tea.NewProgram(newModel(conn), tea.WithAltScreen())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				program.Send(stateChangedMsg{})
			}
		}
	}()
	go func() {
		if err := <-syncDone; err != nil && ctx.Err() == nil {
			program.Send(syncFailedMsg{err: err})
		}
	}()

	_, runErr := program.Run()
	cancel()

	if config.StateFile != "" {
		if err := statecache.Save(config.StateFile, conn); err != nil {
			logger.Warn("saving state file failed", "path", config.StateFile, "error", err)
		}
	}
	return runErr
}

// mergeFlags overlays non-empty flag values on top of the file config.
func mergeFlags(config *Config, flags Config) {
	if flags.Homeserver != "" {
		config.Homeserver = flags.Homeserver
	}
	if flags.User != "" {
		config.User = flags.User
	}
	if flags.PasswordFile != "" {
		config.PasswordFile = flags.PasswordFile
	}
	if flags.FilterFile != "" {
		config.FilterFile = flags.FilterFile
	}
	if flags.StateFile != "" {
		config.StateFile = flags.StateFile
	}
	if flags.LogOutput != "" {
		config.LogOutput = flags.LogOutput
	}
}

// readPassword obtains the account password: from a file (or stdin)
// when a path is configured, otherwise by prompting on the terminal.
// The password lives in mmap-backed memory for its whole lifetime.
func readPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFromPath(passwordFile)
	}

	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return nil, errors.New("stdin is not a terminal; use --password-file to supply the password")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}

// newBackgroundLogger builds the logger for everything that runs
// behind the TUI. Records go to a JSON file when --log-output is set;
// otherwise they are discarded, since writing to stderr would corrupt
// the alternate-screen display.
func newBackgroundLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(discardHandler{}), func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), func() { file.Close() }, nil
}

// discardHandler is a slog.Handler that drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Weave terminal Matrix client.

Logs in to a homeserver, syncs, and shows joined rooms with their
timelines. Settings come from a YAML config file (default:
~/.config/weave/view.yaml); flags override file values.

Usage:
  weave-view [flags]

Examples:
  # Log in with a password prompt, discovering the homeserver
  weave-view --user @alice:example.com

  # Resume from persisted state against an explicit homeserver
  weave-view --user @alice:example.com \
      --homeserver https://matrix.example.com \
      --state-file ~/.cache/weave/view.state

Keys:
  up/down, j/k   select room
  pgup/pgdn      scroll the timeline
  b              fetch an earlier history page
  q, ctrl+c      quit

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
