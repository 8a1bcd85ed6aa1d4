// Orito Companion Daemon - device discovery, module session and the
// conversational assistant for the Orito caregiving app.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/oritocare/companion/internal/agent"
	"github.com/oritocare/companion/internal/api"
	"github.com/oritocare/companion/internal/assistant"
	"github.com/oritocare/companion/internal/backend"
	"github.com/oritocare/companion/internal/config"
	"github.com/oritocare/companion/internal/connectivity"
	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/discovery"
	"github.com/oritocare/companion/internal/llm"
	"github.com/oritocare/companion/internal/logging"
	"github.com/oritocare/companion/internal/modulesession"
	"github.com/oritocare/companion/internal/speech"
	"github.com/oritocare/companion/internal/storage"
	"github.com/oritocare/companion/internal/tools"
)

var (
	configPath string
	verbose    bool

	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "Orito Companion - the caregiving assistant daemon",
		Long: `The Orito companion connects the caregiving app to the Aura
hardware module on the local network and runs the Orito voice
assistant: device discovery, a WebSocket module session with
automatic reconnection, and a tool-augmented conversational agent.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logging.SetLevel(logging.DEBUG)
			}
		},
		RunE: runDaemon,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// services is everything runDaemon and the subcommands wire up.
type services struct {
	cfg       *config.Config
	db        *storage.DB
	slots     *storage.SlotStore
	backend   *backend.Client
	scanner   *discovery.Scanner
	session   *modulesession.Session
	toolsSvc  *tools.Service
	agent     *agent.Agent
	assistant *assistant.Assistant
	monitor   *connectivity.Monitor
}

// buildServices constructs the long-lived service objects. Everything is
// explicit dependency injection; there are no ambient singletons.
func buildServices() (*services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "companion.db")})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	slots := storage.NewSlotStore(db)

	backendClient := backend.NewClient(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Token:      cfg.Backend.Token,
		PatientUID: cfg.Backend.PatientUID,
	})

	scanner := discovery.NewScanner(discovery.Config{
		ExpectedService: cfg.Module.ExpectedService,
		HTTPPort:        cfg.Module.HTTPPort,
		Slots:           slots,
	})

	session := modulesession.NewSession(slots)

	// A 401 from the backend tears down the module session; the stored
	// token is no longer valid for the module handshake either.
	backendClient.OnUnauthorized(func() {
		logging.Warn("backend session unauthorized, disconnecting module")
		session.Disconnect()
	})

	toolsSvc := tools.NewService(tools.Config{
		Backend: backendClient,
		Scanner: scanner,
		Session: session,
		ConnectModule: func(desc core.ModuleDescriptor) error {
			session.Connect(desc.IP, desc.WSPort, cfg.Backend.PatientUID, cfg.Backend.Token,
				func(frame map[string]interface{}) {
					logging.Debug("module frame: %v", frame)
				},
				func(state core.ConnectionState) {
					logging.Info("module session: %s", state)
				})
			return nil
		},
	})

	llmClient := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})

	agentSvc := agent.New(agent.Config{
		LLM:     llmClient,
		Tools:   toolsSvc,
		Backend: backendClient,
		Slots:   slots,
	})

	selector := speech.NewSelector()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := selector.Resolve(ctx, nil, speech.NewFallbackEngine(consoleSynthesizer{}, nil)); err != nil {
		logging.Warn("no speech engine available: %v", err)
	}

	assistantSvc := assistant.New(assistant.Config{
		Selector:        selector,
		AlwaysListening: cfg.Assistant.AlwaysListening,
	})

	monitor := connectivity.NewMonitor(backendProbe(cfg.Backend.BaseURL))

	return &services{
		cfg:       cfg,
		db:        db,
		slots:     slots,
		backend:   backendClient,
		scanner:   scanner,
		session:   session,
		toolsSvc:  toolsSvc,
		agent:     agentSvc,
		assistant: assistantSvc,
		monitor:   monitor,
	}, nil
}

// backendProbe builds the lightweight health check the connectivity
// monitor polls with.
func backendProbe(baseURL string) connectivity.ProbeFunc {
	client := &http.Client{Timeout: 5 * time.Second}
	url := strings.TrimSuffix(baseURL, "/") + "/health"

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("backend health: status %d", resp.StatusCode)
		}
		return nil
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.db.Close()

	logging.Info("Orito companion %s starting", version)

	svc.monitor.Subscribe(func(status connectivity.Status) {
		if status.Connected {
			logging.Info("network connectivity restored")
		} else {
			logging.Warn("network connectivity lost")
		}
	})
	svc.monitor.Start()
	defer svc.monitor.Stop()

	// Find and connect the Aura module in the background; the daemon is
	// useful without it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		err := svc.scanner.ScanForAuraModule(ctx,
			func(percent int) {
				logging.Debug("module scan %d%%", percent)
			},
			func(desc core.ModuleDescriptor) {
				logging.Info("Aura module found at %s (%s)", desc.IP, desc.Hostname)
				svc.session.Connect(desc.IP, desc.WSPort, svc.cfg.Backend.PatientUID, svc.cfg.Backend.Token,
					func(frame map[string]interface{}) {
						logging.Debug("module frame: %v", frame)
					},
					func(state core.ConnectionState) {
						logging.Info("module session: %s", state)
					})
			})
		if err != nil {
			logging.Warn("module scan: %v", err)
		}
	}()

	if svc.cfg.Assistant.AlwaysListening {
		if err := svc.assistant.StartWakeWordDetection(context.Background()); err != nil {
			logging.Warn("wake-word detection unavailable: %v", err)
		}
	}

	server := api.New(api.Config{
		Host:      svc.cfg.StatusAPI.Host,
		Port:      svc.cfg.StatusAPI.Port,
		Agent:     svc.agent,
		Assistant: svc.assistant,
		Monitor:   svc.monitor,
		Scanner:   svc.scanner,
		Session:   svc.session,
		Slots:     svc.slots,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("received %s, shutting down", sig)
	}

	svc.session.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}

// scanCmd sweeps the local network for the Aura module.
func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the local network for the Aura module",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.db.Close()

			fmt.Println("Scanning the local network for the Aura module...")

			found := 0
			err = svc.scanner.ScanForAuraModule(cmd.Context(),
				func(percent int) {
					fmt.Printf("\r%d%%", percent)
				},
				func(desc core.ModuleDescriptor) {
					found++
					fmt.Printf("\nFound: %s (%s, version %s, ws port %d)\n",
						desc.IP, desc.Hostname, desc.Version, desc.WSPort)
				})
			fmt.Println()

			if err == core.ErrModuleNotFound {
				fmt.Println("No Aura module found on this network.")
				return nil
			}
			return err
		},
	}
}

// chatCmd runs an interactive text conversation with the agent.
func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with Orito from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices()
			if err != nil {
				return err
			}
			defer svc.db.Close()

			if err := svc.agent.RefreshUserContext(cmd.Context()); err != nil {
				logging.Debug("profile refresh failed: %v", err)
			}

			fmt.Println("Chatting with Orito. Type 'quit' to exit, 'reset' to start over.")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return nil
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "quit", "exit":
					return nil
				case "reset":
					svc.agent.ResetConversation()
					fmt.Println("Conversation reset.")
					continue
				}

				reply, err := svc.agent.SendMessage(cmd.Context(), line)
				if err != nil {
					fmt.Println("(still thinking about the last one, try again)")
					continue
				}
				fmt.Println(reply)
			}
		},
	}
}

// loginCmd stores the backend credentials.
func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the backend API token and patient ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			reader := bufio.NewReader(os.Stdin)
			fmt.Print("Patient UID: ")
			uid, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			cfg.Backend.PatientUID = strings.TrimSpace(uid)

			fmt.Print("API token (input hidden): ")
			token, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return err
			}
			cfg.Backend.Token = strings.TrimSpace(string(token))

			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Println("Credentials saved.")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the companion version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orito-companion %s\n", version)
		},
	}
}

// consoleSynthesizer prints spoken replies to stdout so the daemon and
// chat command work without platform TTS.
type consoleSynthesizer struct{}

func (consoleSynthesizer) Speak(ctx context.Context, text string, pitch, rate float64) error {
	fmt.Printf("[orito] %s\n", text)
	return nil
}

func (consoleSynthesizer) Stop() {}
