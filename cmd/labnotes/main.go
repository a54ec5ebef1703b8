package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/labnotes/internal/cache"
	"github.com/agentworkforce/labnotes/internal/config"
	"github.com/agentworkforce/labnotes/internal/gateway"
	"github.com/agentworkforce/labnotes/internal/notebook"
	"github.com/agentworkforce/labnotes/internal/notify"
	"github.com/agentworkforce/labnotes/internal/session"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stderr, config.Environ(os.Environ()))
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		a.logger.Error(err.Error())
		stop()
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	gateway    string
	token      string
	logLevel   string
	timeout    config.Duration
}

type app struct {
	env    map[string]string
	logger *log.Logger
	cfg    config.Config
	flags  rootFlags
	// open is gateway.Open outside tests.
	open func(dsn string, opts gateway.OpenOptions) (gateway.Gateway, error)
}

func newApp(stderr io.Writer, env map[string]string) *app {
	return &app{
		env:    env,
		logger: log.NewWithOptions(stderr, log.Options{Prefix: "labnotes"}),
		open:   gateway.Open,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "labnotes",
		Short:         "Research notebook client: capture, search and organize notes",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/labnotes/config.json)")
	pf.StringVar(&a.flags.gateway, "gateway", "", "record store DSN (http(s)://, postgres://, sqlite://, memory://)")
	pf.StringVar(&a.flags.token, "token", "", "auth token for the HTTP gateway")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.Var(&durationFlag{&a.flags.timeout}, "timeout", "request timeout")

	root.AddCommand(
		listCmd(a),
		showCmd(a),
		searchCmd(a),
		addCmd(a),
		archiveCmd(a, true),
		archiveCmd(a, false),
		promoteCmd(a),
		tagsCmd(a),
		projectsCmd(a),
		watchCmd(a),
		inboxCmd(a),
		mountCmd(a),
		exportCmd(a),
	)
	return root
}

// loadConfig resolves defaults, file and environment, then applies the
// flags that were set on the command line.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadInput{Path: a.flags.configPath, Env: a.env, Logger: a.logger})
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("gateway") {
		cfg.Gateway = a.flags.gateway
	}
	if flags.Changed("token") {
		cfg.Token = a.flags.token
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.flags.timeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := log.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfigInvalid, err)
	}
	a.logger.SetLevel(level)
	a.cfg = cfg
	if cfg.Source != "" {
		a.logger.Debug("loaded config", "path", cfg.Source)
	}
	return nil
}

type sessionOptions struct {
	entries          cache.EntryQuery
	archivedProjects bool
}

// openSession connects to the configured gateway. Mutations made through
// the session are logged as they are reported. The returned close func
// releases the session and the gateway.
func (a *app) openSession(opts sessionOptions) (*session.Session, func(), error) {
	gw, err := a.open(a.cfg.Gateway, gateway.OpenOptions{
		Schema: notebook.Schema(),
		Token:  a.cfg.Token,
		Logger: a.logger,
		HTTP: gateway.HTTPOptions{
			HTTPClient: &http.Client{Timeout: a.cfg.Timeout.Std()},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open gateway: %w", err)
	}
	s := session.New(gw, session.Options{
		Logger:            a.logger,
		EntryQuery:        opts.entries,
		ArchivedProjects:  opts.archivedProjects,
		ReconnectInterval: a.cfg.ReconnectInterval.Std(),
		ReconnectJitter:   a.cfg.ReconnectJitter,
		SearchLimit:       a.cfg.SearchLimit,
	})
	stopLogging := a.logNotifications(s.Notify)
	return s, func() {
		stopLogging()
		s.Close()
		if err := gw.Close(); err != nil {
			a.logger.Warn("close gateway", "err", err)
		}
	}, nil
}

// loadSession opens a session and fetches every collection, failing when
// any fetch fails.
func (a *app) loadSession(ctx context.Context, opts sessionOptions) (*session.Session, func(), error) {
	s, closeFn, err := a.openSession(opts)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Refresh(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}

func (a *app) logNotifications(center *notify.Center) func() {
	logged := &notificationLog{logger: a.logger, seen: map[string]bool{}}
	return center.Subscribe(logged.update)
}

// notificationLog writes each notification once. Only ids still listed are
// remembered.
type notificationLog struct {
	logger *log.Logger
	seen   map[string]bool
}

func (l *notificationLog) update(list []notify.Notification) {
	listed := make(map[string]bool, len(list))
	for _, n := range list {
		listed[n.ID] = true
		if l.seen[n.ID] {
			continue
		}
		switch n.Kind {
		case notify.KindError:
			l.logger.Error(n.Message)
		case notify.KindWarning:
			l.logger.Warn(n.Message)
		default:
			l.logger.Info(n.Message)
		}
	}
	l.seen = listed
}

// durationFlag lets --timeout take "30s" or a number of seconds, like the
// config file.
type durationFlag struct {
	d *config.Duration
}

func (f *durationFlag) String() string {
	if f.d == nil {
		return "0s"
	}
	return f.d.Std().String()
}

func (f *durationFlag) Set(raw string) error {
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*f.d = config.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*f.d = config.Duration(d)
	return nil
}

func (f *durationFlag) Type() string { return "duration" }

// redactDSN hides any password in a gateway DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	return u.Redacted()
}
