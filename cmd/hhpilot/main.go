// hhpilot automates the routine of a job seeker on the portal: refreshing
// resumes, applying to similar vacancies, answering employer chats and
// keeping a local database of everything it touches.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hhpilot/internal/api"
	"hhpilot/internal/config"
	"hhpilot/internal/engine"
	"hhpilot/internal/llm"
	"hhpilot/internal/logging"
	"hhpilot/internal/store"
	"hhpilot/internal/telemetry"
)

const version = "1.2.0"

// Credentials of the portal's own mobile application; authorization happens
// in the user's browser, the tool only exchanges the resulting code.
const (
	oauthClientID     = "HIOMIAS39CA9DICTA7JIO64LQKQJF5AGIK74G9ITJKLNEDAOH5FHS5G1JI7FOEGD"
	oauthClientSecret = "V9M870DESLTKSI0BLODGB8LVCCOA6K4KN2LG15VCFFAGHVRE1KHQ34MHIA7HPVVS"
)

var (
	// Global flags
	verbosity     int
	configDirFlag string
	profileIDFlag string
	delayFlag     float64
	userAgentFlag string
	proxyFlag     string

	// Logger
	logger *zap.Logger

	// Shared state built in PersistentPreRunE
	cfg *appState
)

// appState keeps the per-run state the commands share.
type appState struct {
	config *config.Config
	store  *store.Store
}

// errNoCommand marks an invocation without a subcommand.
var errNoCommand = errors.New("no subcommand chosen")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hhpilot",
	Short: "Job application automation for the hh.ru portal",
	Long: `hhpilot keeps your resumes fresh and your negotiations moving.

It talks to the portal through its mobile API, mirrors everything into a
local SQLite database, and automates the repetitive parts: republishing
resumes, applying to similar vacancies (solving employer test forms along
the way), replying to employer chats and cleaning up dead negotiations.

Each profile lives in its own directory under ~/.hhpilot (or CONFIG_DIR)
and holds the config, the database and the logs.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbosity > 0 {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		baseDir := configDirFlag
		if baseDir == "" {
			baseDir = config.BaseDir()
		}
		profileID := config.ResolveProfileID(profileIDFlag)
		profileDir := config.ProfileDir(baseDir, profileID)

		c, err := config.Load(profileDir)
		if err != nil {
			return err
		}

		// Flag overrides apply for this run only and are never saved.
		if cmd.Flags().Changed("delay") {
			c.APIDelay = delayFlag
		}
		if userAgentFlag != "" {
			c.UserAgent = userAgentFlag
			c.OAuthUserAgent = userAgentFlag
		}
		if proxyFlag != "" {
			c.ProxyURL = proxyFlag
		}

		level := logging.LevelInfo - verbosity
		if level < logging.LevelDebug {
			level = logging.LevelDebug
		}
		if err := logging.Initialize(profileDir, level); err != nil {
			return err
		}

		cfg = &appState{config: c}
		logger.Debug("profile loaded",
			zap.String("profile", profileID),
			zap.String("dir", profileDir))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cfg != nil && cfg.store != nil {
			_ = cfg.store.Close()
		}
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = cmd.Usage()
		return errNoCommand
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbosity", "v", "Increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().StringVarP(&configDirFlag, "config-dir", "c", "", "Base config directory (default: CONFIG_DIR or ~/.hhpilot)")
	rootCmd.PersistentFlags().StringVar(&profileIDFlag, "profile-id", "", "Profile to operate on (default: HH_PROFILE_ID or \"default\")")
	rootCmd.PersistentFlags().Float64Var(&delayFlag, "delay", 0, "Minimum delay between API requests, seconds")
	rootCmd.PersistentFlags().StringVar(&userAgentFlag, "user-agent", "", "Override the outbound User-Agent")
	rootCmd.PersistentFlags().StringVar(&proxyFlag, "proxy-url", "", "Proxy for http and https traffic")
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var captcha *api.CaptchaRequiredError
	switch {
	case errors.Is(err, errNoCommand):
		os.Exit(2)
	case errors.As(err, &captcha):
		fmt.Fprintf(os.Stderr, "❗ captcha required, open in a browser: %s\n", captcha.CaptchaURL)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// commandContext returns a context cancelled by SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "⚠️ interrupted")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// openStore opens the profile database once per run.
func openStore() (*store.Store, error) {
	if cfg.store != nil {
		return cfg.store, nil
	}
	st, err := store.Open(cfg.config.DBPath())
	if err != nil {
		return nil, err
	}
	cfg.store = st
	return st, nil
}

// newOAuthClient builds the token-exchange client.
func newOAuthClient() (*api.OAuthClient, error) {
	return api.NewOAuthClient(api.OAuthOptions{
		ClientOptions: api.ClientOptions{
			UserAgent: cfg.config.OAuthUserAgent,
			Delay:     cfg.config.Delay(),
			ProxyURL:  cfg.config.Proxy(),
		},
		ClientID:     oauthClientID,
		ClientSecret: oauthClientSecret,
	})
}

// newEnv wires the engine environment: OAuth and API clients sharing one
// session, the store, the optional LLM client and the command's IO streams.
// Every token refresh is written back to config.json immediately.
func newEnv(cmd *cobra.Command) (*engine.Env, error) {
	oauth, err := newOAuthClient()
	if err != nil {
		return nil, err
	}

	var token api.AccessToken
	if cfg.config.Token != nil {
		token = *cfg.config.Token
	}

	apiClient, err := api.NewAPIClient(api.APIClientOptions{
		ClientOptions: api.ClientOptions{
			UserAgent: cfg.config.UserAgent,
			Delay:     cfg.config.Delay(),
			Session:   oauth.Session(),
		},
		OAuth: oauth,
		Token: token,
		OnRefresh: func(t api.AccessToken) {
			if err := cfg.config.SetToken(t); err != nil {
				logging.OAuthDebug("refreshed token not persisted: %v", err)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	st, err := openStore()
	if err != nil {
		return nil, err
	}

	return &engine.Env{
		API:    apiClient,
		OAuth:  oauth,
		Store:  st,
		Config: cfg.config,
		LLM: llm.New(llm.Options{
			Token:               cfg.config.OpenAI.Token,
			Model:               cfg.config.OpenAI.Model,
			Temperature:         cfg.config.OpenAI.Temperature,
			MaxCompletionTokens: cfg.config.OpenAI.MaxCompletionTokens,
			CompletionEndpoint:  cfg.config.OpenAI.CompletionEndpoint,
		}),
		Out: cmd.OutOrStdout(),
		In:  cmd.InOrStdin(),
	}, nil
}

// requireToken guards commands that need an authorized profile.
func requireToken() error {
	if cfg.config.Token == nil || cfg.config.Token.AccessToken == "" {
		return errors.New("not authorized, run 'hhpilot authorize' first")
	}
	return nil
}

// newReporter builds the telemetry reporter bound to the profile store.
func newReporter() (*telemetry.Reporter, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	return &telemetry.Reporter{
		Store:        st,
		ClientID:     cfg.config.TelemetryClientID,
		Version:      version,
		ErrorLogPath: logging.ErrorLogPath(),
	}, nil
}

// maybeReportTelemetry piggybacks a diagnostic report on engine runs. It is
// best-effort and never fails the command.
func maybeReportTelemetry(ctx context.Context) {
	reporter, err := newReporter()
	if err != nil {
		logging.TelemetryDebug("reporter not built: %v", err)
		return
	}
	if err := reporter.MaybeReport(ctx); err != nil {
		logging.TelemetryDebug("report not delivered: %v", err)
	}
}
