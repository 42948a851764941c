package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/background"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/config"
	"github.com/lotas/kurzfassung/internal/export"
	"github.com/lotas/kurzfassung/internal/firefox"
	"github.com/lotas/kurzfassung/internal/host"
	"github.com/lotas/kurzfassung/internal/popup"
	"github.com/lotas/kurzfassung/internal/server"
	"github.com/lotas/kurzfassung/internal/settings"
	"github.com/lotas/kurzfassung/internal/storage"
	"github.com/lotas/kurzfassung/internal/summarize"
	"github.com/lotas/kurzfassung/internal/telemetry"
	"github.com/lotas/kurzfassung/internal/tui"
	"github.com/lotas/kurzfassung/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// keyStore is a settings store the CLI can also clear.
type keyStore interface {
	settings.Store
	Clear(ctx context.Context) error
}

// app holds what every command needs once flags are parsed.
type app struct {
	v     *viper.Viper
	cfg   config.Config
	db    *sql.DB
	store keyStore
	reg   *prometheus.Registry

	shutdownTracing func(context.Context) error
}

func main() {
	a := &app{v: config.New()}
	if err := a.execute(context.Background(), a.rootCmd()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs cmd and then releases whatever setup opened, also when the
// command failed.
func (a *app) execute(ctx context.Context, cmd *cobra.Command) error {
	defer a.close()
	return cmd.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kurzfassung",
		Short: "Summarize text with Gemini from the terminal or the browser",
		Long: `kurzfassung summarizes text with the Gemini API.

Run without a command to open the popup with the browser bridge listening
for the extension. Settings come from flags, KURZFASSUNG_* environment
variables or a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		a.serveCmd(),
		a.summarizeCmd(),
		a.keyCmd(),
		a.pageCmd(),
		a.profilesCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := applog.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}

	if cfg.Keyring {
		a.store = settings.NewKeyringStore()
	} else {
		db, err := storage.OpenDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.db = db
		a.store = settings.NewSQLStore(db)
	}
	a.reg = prometheus.NewRegistry()

	shutdown, err := telemetry.Start(cmd.Context(), telemetry.Config{
		Exporter: cfg.TraceExporter,
		Endpoint: cfg.TraceEndpoint,
		Insecure: isLoopback(cfg.TraceEndpoint),
		Version:  version,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown
	return nil
}

func (a *app) close() {
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracing(ctx); err != nil {
			applog.Error("telemetry.shutdown", err)
		}
		cancel()
		a.shutdownTracing = nil
	}
	if a.db != nil {
		a.db.Close()
	}
	applog.Close()
}

// isLoopback reports whether a host:port collector address is local, which
// is the only case spans are sent without TLS.
func isLoopback(endpoint string) bool {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (a *app) newClient() *summarize.Client {
	opts := []summarize.Option{
		summarize.WithEndpoint(a.cfg.Endpoint),
		summarize.WithHTTPClient(&http.Client{Timeout: a.cfg.Timeout}),
	}
	if a.cfg.Metrics {
		opts = append(opts, summarize.WithMetrics(summarize.NewPrometheusRecorder(a.reg)))
	}
	return summarize.NewClient(opts...)
}

func (a *app) newHost() (*host.Host, *server.Server, error) {
	srv := server.New(a.cfg.Port)
	if a.cfg.Metrics {
		if err := srv.Instrument(a.reg); err != nil {
			return nil, nil, err
		}
	}
	return host.New(srv, bus.New(), a.newClient(), a.store), srv, nil
}

func (a *app) runTUI(ctx context.Context) error {
	h, srv, err := a.newHost()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := h.Serve(ctx); err != nil {
			applog.Error("host.serve", err, "port", srv.Port())
		}
	}()

	p := popup.New(a.store, h.Bus(), h)
	model := tui.NewModel(ctx, p, srv.Port(), srv.Connected)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the browser bridge without the popup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, srv, err := a.newHost()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(os.Stderr, "Listening for the extension on ws://127.0.0.1:%d\n", srv.Port())
			if a.cfg.Metrics {
				fmt.Fprintf(os.Stderr, "Metrics on http://127.0.0.1:%d/metrics\n", srv.Port())
			}
			return h.Serve(ctx)
		},
	}
}

// summarizeText runs text through the same popup flow the TUI uses.
func (a *app) summarizeText(ctx context.Context, text string, level types.Compression) (string, error) {
	b := bus.New()
	background.New(a.newClient(), a.store, nil).Register(b)

	p := popup.New(a.store, b, nil)
	p.Init(ctx)
	if !p.HasAPIKey() {
		return "", errors.New("no API key set, run 'kurzfassung key set' first")
	}
	p.SetCompression(popup.TabText, level)
	p.Submit(ctx, text)
	if !p.HasResult {
		return "", errors.New(strings.TrimPrefix(p.Flash.Text, "Error: "))
	}
	return p.Result, nil
}

func parseCompression(s string) (types.Compression, error) {
	for _, c := range types.Compressions {
		if string(c) == s {
			return c, nil
		}
	}
	names := make([]string, len(types.Compressions))
	for i, c := range types.Compressions {
		names[i] = string(c)
	}
	return "", fmt.Errorf("unknown compression %q (want one of %s)", s, strings.Join(names, ", "))
}

// output renders s as JSON or markdown and writes it to outFile or stdout.
func output(s export.Summary, asJSON bool, outFile string) error {
	var out string
	if asJSON {
		var err error
		out, err = export.JSON(s)
		if err != nil {
			return fmt.Errorf("generate JSON: %w", err)
		}
	} else {
		out = export.Markdown(s)
	}

	if outFile == "" {
		fmt.Print(out)
		return nil
	}
	if err := export.WriteFile(outFile, out); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", outFile)
	return nil
}

func (a *app) summarizeCmd() *cobra.Command {
	var (
		compression string
		asJSON      bool
		outFile     string
	)
	cmd := &cobra.Command{
		Use:   "summarize [text]",
		Short: "Summarize text from the arguments or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseCompression(compression)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			summary, err := a.summarizeText(cmd.Context(), text, level)
			if err != nil {
				return err
			}
			if !asJSON && outFile == "" {
				fmt.Fprintln(cmd.OutOrStdout(), summary)
				return nil
			}
			return output(export.Summary{
				Compression: level,
				Summary:     summary,
				Original:    strings.TrimSpace(text),
				CreatedAt:   time.Now(),
			}, asJSON, outFile)
		},
	}
	cmd.Flags().StringVarP(&compression, "compression", "c", string(types.CompressionRegular), "brief, regular or detailed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Export as JSON instead of plain text")
	cmd.Flags().StringVar(&outFile, "out", "", "Output file path (default: stdout)")
	return cmd
}

func (a *app) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the stored Gemini API key",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [key]",
			Short: "Validate and store a key (read from stdin when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var key string
				if len(args) == 1 {
					key = args[0]
				} else {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("read stdin: %w", err)
					}
					key = string(data)
				}
				key = strings.TrimSpace(key)
				if err := settings.Validate(key); err != nil {
					return err
				}
				if err := a.store.Set(cmd.Context(), key); err != nil {
					return fmt.Errorf("save key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key saved successfully!")
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored key, masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s := a.store.Get(cmd.Context())
				if !s.HasKey() {
					return errors.New("no API key set")
				}
				fmt.Fprintln(cmd.OutOrStdout(), maskKey(s.APIKey))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.store.Clear(cmd.Context()); err != nil {
					return fmt.Errorf("clear key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
				return nil
			},
		},
	)
	return cmd
}

// maskKey keeps the prefix and the last four characters.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func (a *app) pageCmd() *cobra.Command {
	var (
		pageURL     string
		compression string
		asJSON      bool
		outFile     string
		outDir      string
	)
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Summarize a web page (default: the last active Firefox tab)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseCompression(compression)
			if err != nil {
				return err
			}
			if outFile != "" && outDir != "" {
				return errors.New("--out and --out-dir are mutually exclusive")
			}

			target := pageURL
			if target == "" {
				root, err := firefox.Root()
				if err != nil {
					return err
				}
				session, err := firefox.OpenSession(root, a.cfg.Profile)
				if err != nil {
					return err
				}
				tab := firefox.LastActiveTab(session)
				if tab == nil {
					return fmt.Errorf("no http(s) tab open in profile %q", session.Profile.Name)
				}
				target = tab.URL
			}

			ctx := cmd.Context()
			fmt.Fprintf(os.Stderr, "Fetching %s...\n", target)
			page, err := summarize.FetchReadable(ctx, target)
			if err != nil {
				return err
			}
			text := clipText(page.Text, types.MaxTextLen)

			summary, err := a.summarizeText(ctx, text, level)
			if err != nil {
				return err
			}

			s := export.Summary{
				Title:       page.Title,
				Source:      page.URL,
				Compression: level,
				Summary:     summary,
				Original:    text,
				CreatedAt:   time.Now(),
			}
			if outDir != "" {
				ext := ".md"
				if asJSON {
					ext = ".json"
				}
				outFile = export.SummaryPath(outDir, page.URL, page.Title, ext)
			}
			return output(s, asJSON, outFile)
		},
	}
	config.RegisterProfileFlag(cmd.Flags())
	cmd.Flags().StringVar(&pageURL, "url", "", "Page URL (skips the Firefox session)")
	cmd.Flags().StringVarP(&compression, "compression", "c", string(types.CompressionRegular), "brief, regular or detailed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Export as JSON instead of markdown")
	cmd.Flags().StringVar(&outFile, "out", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Write into <dir>/<domain>/<title> instead")
	cmd.MarkFlagsMutuallyExclusive("profile", "url")
	return cmd
}

// clipText cuts s to at most n runes.
func clipText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (a *app) profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List Firefox profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := firefox.Root()
			if err != nil {
				return err
			}
			profiles, err := firefox.LoadProfiles(root)
			if err != nil {
				return fmt.Errorf("load Firefox profiles: %w", err)
			}
			if len(profiles) == 0 {
				return errors.New("no Firefox profiles found")
			}
			for _, p := range profiles {
				suffix := ""
				if p.IsDefault {
					suffix = " [default]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)%s\n", p.Name, p.Path, suffix)
			}
			return nil
		},
	}
}
