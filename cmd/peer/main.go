package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Peerchat/internal/adapters/cli"
	"github.com/dkeye/Peerchat/internal/adapters/rtc"
	"github.com/dkeye/Peerchat/internal/app/playback"
	"github.com/dkeye/Peerchat/internal/app/session"
	"github.com/dkeye/Peerchat/internal/config"
	"github.com/dkeye/Peerchat/internal/core"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadPeer(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cli.Prompt(""),
		HistoryFile:     filepath.Join(os.TempDir(), "peerchat_history"),
		AutoComplete:    cli.Completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("readline init")
	}
	defer rl.Close()
	// Keep log lines from tearing the prompt.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: rl.Stderr()})

	peer, err := rtc.NewPeer(rtc.Options{
		SignalURL:   cfg.SignalURL,
		RequestedID: cfg.PeerID,
		ICEServers:  cfg.ICEServers,
		ChunkSize:   cfg.ChunkSize,
		PingPeriod:  cfg.PingPeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("peer init")
	}
	var media core.MediaSource = rtc.SyntheticSource{}
	if cfg.MediaDevice == config.MediaNone {
		media = rtc.NoDevice{}
	}

	console := cli.NewConsole(rl.Stdout())
	relays := playback.NewManager()
	defer relays.StopAll()
	sink := cli.NewSink(ctx, relays)

	m := session.New(peer, media,
		session.WithConfig(session.Config{
			ConnectTimeout:   cfg.ConnectTimeout,
			CallSetupTimeout: cfg.CallSetupTimeout,
			MediaTimeout:     cfg.MediaTimeout,
			ConsentTimeout:   cfg.ConsentTimeout,
			FileReadTimeout:  cfg.FileReadTimeout,
			MaxFileSize:      cfg.MaxFileSize,
			GapTimeout:       cfg.GapTimeout,
		}),
		session.WithNotifier(console),
		session.WithConsent(console),
		session.WithSink(sink),
	)
	defer m.Log().Subscribe(console.Render)()

	go func() {
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("session stopped")
		}
		cancel()
	}()
	go func() {
		id, err := m.AwaitReady(ctx)
		if err != nil {
			return
		}
		rl.SetPrompt(cli.Prompt(id))
		rl.Refresh()
	}()
	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	if err := cli.Loop(ctx, rl, console, cli.NewCommands(m, console, sink)); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("input loop")
	}
	if err := m.Close(); err != nil {
		log.Error().Err(err).Msg("session close")
	}
	log.Info().Msg("bye")
}
