// venuectl drives a mixing console through the Mixing Station remote
// API: one-shot venue mode switches, or a long-running session with
// continuous guardrail enforcement.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/config"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/guardrail"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/hub"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/intent"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/logger"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/state"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/venue"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "venuectl",
		Short:         "Venue automation for remote-controlled mixing consoles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "venue.yaml", "path to the venue configuration file")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(modeCmd(&configPath))
	root.AddCommand(capabilitiesCmd())

	return root
}

// app holds the wired component graph for one console session.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      *state.Store
	registry   *console.Registry
	session    *transport.Session
	hub        *hub.Hub
	controller *venue.Controller
}

// build wires the components from configuration. Nothing is connected
// yet.
func build(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store := state.NewStore()
	registry := console.NewRegistry()
	session := transport.NewSession(cfg.Dialer(), cfg.SessionConfig(), log.With().Str("component", "transport").Logger())
	h := hub.NewHub(store, cfg.Hub.Debounce.Std(), log.With().Str("component", "hub").Logger())

	resolver := intent.NewResolver(registry, store, log.With().Str("component", "resolver").Logger())
	engine := guardrail.NewEngine(registry, log.With().Str("component", "guardrail").Logger())

	controller := venue.New(venue.Config{
		Session:  session,
		Registry: registry,
		Resolver: resolver,
		Engine:   engine,
		Hub:      h,
		Store:    store,
		Variant:  cfg.Mixer.Variant,
		Modes:    cfg.Intents(),
		Rules:    cfg.Rules(),
		Logger:   log.With().Str("component", "venue").Logger(),
	})

	return &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		registry:   registry,
		session:    session,
		hub:        h,
		controller: controller,
	}, nil
}

// connect establishes the console session and starts the hub.
func (a *app) connect(ctx context.Context) error {
	a.session.OnStateChange(a.hub.HandleConnectionState)
	go a.hub.Run(ctx, a.session.Updates())

	if err := a.session.Connect(ctx, a.cfg.Mixer.Endpoint); err != nil {
		return err
	}
	return a.controller.Prime(ctx)
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect and keep guardrails enforced until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(*configPath)
			if err != nil {
				return err
			}
			defer a.session.Close()

			if err := a.connect(ctx); err != nil {
				return err
			}

			a.log.Info().Str("variant", a.cfg.Mixer.Variant).Msg("venue controller running")
			a.controller.Watch(ctx)
			return nil
		},
	}
}

func modeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <doors|show|interval|curfew>",
		Short: "Switch the venue mode and print the application report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := build(*configPath)
			if err != nil {
				return err
			}
			defer a.session.Close()

			if err := a.connect(ctx); err != nil {
				return err
			}

			report, err := a.controller.SwitchMode(ctx, venue.Mode(args[0]))
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities <variant>",
		Short: "List the capabilities of a console variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := console.NewRegistry()
			caps, err := registry.CapabilitiesOf(args[0])
			if err != nil {
				return err
			}
			for _, c := range caps {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}
