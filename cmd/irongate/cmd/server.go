package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/irongate/blacklist"
	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/gateway"
	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/keymgmt"
	"github.com/jmcleod/irongate/session"
	"github.com/jmcleod/irongate/storage"
	bboltstorage "github.com/jmcleod/irongate/storage/bbolt"
	"github.com/jmcleod/irongate/storage/memory"
	postgresstorage "github.com/jmcleod/irongate/storage/postgres"
	redisstorage "github.com/jmcleod/irongate/storage/redis"
)

var (
	listenAddr  string
	metricsAddr string
	tlsCert     string
	tlsKey      string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := slog.Default()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		crypto, err := cookieCrypto(cfg, logger)
		if err != nil {
			return err
		}

		pool := workpool.New(cfg.WorkerPoolSize)
		repo, err := openBlacklistStore(ctx, cfg.Blacklist)
		if err != nil {
			return err
		}
		bl, err := blacklist.New(ctx, repo,
			blacklist.WithPool(pool),
			blacklist.WithLogger(logger),
			blacklist.WithCleanupInterval(time.Duration(cfg.Blacklist.CleanupFrequencySeconds)*time.Second),
		)
		if err != nil {
			repo.Close()
			return err
		}
		defer bl.Close()

		metrics := gateway.NewMetrics("irongate")

		holder := keymgmt.NewCurrentKeyHolder(logger)
		jwks := keymgmt.NewLocalJWKStore(clockwork.NewRealClock(), logger)
		gen, err := keymgmt.NewGenerator(cfg.KeyManagementProfile.KeyGenerator)
		if err != nil {
			return err
		}
		rotation, err := keymgmt.NewRotation(
			func() config.KeyManagementProfile { return cfg.KeyManagementProfile },
			gen, jwks, holder,
			keymgmt.WithRotationLogger(logger),
			keymgmt.WithRotationObserver(metrics.ObserveRotation),
		)
		if err != nil {
			return err
		}
		defer rotation.Stop()
		jwks.StartCleanup(time.Duration(cfg.KeyManagementProfile.JWKCleanupFrequencySeconds) * time.Second)
		defer jwks.Stop()

		gw, err := gateway.New(ctx, *cfg, gateway.Deps{
			Crypto:    crypto,
			Blacklist: bl,
			Holder:    holder,
			JWKS:      jwks,
		},
			gateway.WithLogger(logger),
			gateway.WithPool(pool),
			gateway.WithMetrics(metrics),
		)
		if err != nil {
			return err
		}
		for _, r := range gw.Routes().Routes() {
			logger.Info("route", "name", r.Name, "path", r.Config.Path, "upstream", r.Config.URL, "profile", r.ProfileName)
		}

		server := &http.Server{
			Addr:              listenAddr,
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		if tlsCert != "" || tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}
		servers := []*http.Server{server}
		if metricsAddr != "" {
			servers = append(servers, &http.Server{
				Addr:              metricsAddr,
				Handler:           managementRouter(metrics),
				ReadHeaderTimeout: 10 * time.Second,
			})
		}

		printBanner(cmd.ErrOrStderr())
		logger.Info("starting gateway", "addr", listenAddr, "metrics", metricsAddr, "host", cfg.HostURI, "tls", server.TLSConfig != nil)

		g, gctx := errgroup.WithContext(ctx)
		for _, s := range servers {
			g.Go(func() error {
				var err error
				if s.TLSConfig != nil {
					err = s.ListenAndServeTLS("", "")
				} else {
					err = s.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server %s failed: %w", s.Addr, err)
				}
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			var errs []error
			for _, s := range servers {
				if err := s.Shutdown(shutdownCtx); err != nil {
					errs = append(errs, fmt.Errorf("server %s shutdown failed: %w", s.Addr, err))
				}
			}
			return errors.Join(errs...)
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "Address the gateway listens on")
	serverCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address of the metrics and health listener; empty disables it")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}

// cookieCrypto derives the cookie key from the configured secret, or makes
// a throwaway one.
func cookieCrypto(cfg *config.MainConfig, logger *slog.Logger) (*session.JWECrypto, error) {
	var (
		key []byte
		err error
	)
	if cfg.CookieSecret != "" {
		key, err = session.KeyFromSecret(cfg.CookieSecret)
	} else {
		logger.Warn("no cookie secret configured, using a random key; sessions will not survive a restart")
		key, err = session.NewRandomKey()
	}
	if err != nil {
		return nil, fmt.Errorf("cookie key: %w", err)
	}
	return session.NewJWECrypto(key)
}

func openBlacklistStore(ctx context.Context, p config.BlacklistProfile) (storage.Repository, error) {
	switch p.Type {
	case "bbolt":
		if dir := filepath.Dir(p.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create blacklist directory: %w", err)
			}
		}
		repo, err := bboltstorage.NewRepositoryFromFile(p.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open blacklist storage: %w", err)
		}
		return repo, nil
	case "redis":
		return redisstorage.Dial(ctx, p.RedisAddr, p.RedisPassword, p.RedisDB)
	case "postgres":
		return postgresstorage.NewRepositoryFromDSN(ctx, p.PostgresDSN)
	case "memory":
		return memory.NewRepository(), nil
	default:
		return nil, fmt.Errorf("unknown blacklist type %q", p.Type)
	}
}

func managementRouter(m *gateway.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", m.Handler())
	return r
}
