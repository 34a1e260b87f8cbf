package botd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"llamabot/crypto"
	"llamabot/observability"
	"llamabot/observability/logging"
	telemetry "llamabot/observability/otel"
	"llamabot/services/botd/batch"
	"llamabot/services/botd/chain"
	"llamabot/services/botd/contract"
	"llamabot/services/botd/directory"
	"llamabot/services/botd/engine"
)

// PassphraseFunc resolves the keystore passphrase held in envVar. label
// names the keystore for interactive prompts.
type PassphraseFunc func(envVar, label string) (string, error)

type mainOptions struct {
	passphrase PassphraseFunc
}

// MainOption customises Main.
type MainOption func(*mainOptions)

// WithPassphrase sets how keystore passphrases are obtained.
func WithPassphrase(fn PassphraseFunc) MainOption {
	return func(o *mainOptions) { o.passphrase = fn }
}

func envPassphrase(envVar, _ string) (string, error) {
	value, ok := os.LookupEnv(envVar)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("passphrase_env %q is not set", envVar)
	}
	return value, nil
}

// Main initialises and runs the scheduler daemon.
func Main(opts ...MainOption) error {
	options := mainOptions{passphrase: envPassphrase}
	for _, opt := range opts {
		opt(&options)
	}

	var (
		cfgPath string
		only    string
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "services/botd/config.yaml", "path to botd configuration (yaml or toml)")
	flag.StringVar(&only, "chain", "", "run only the named chain")
	flag.BoolVar(&once, "once", false, "run every selected chain once and exit")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg, err = cfg.Select(only); err != nil {
		return err
	}

	env := strings.TrimSpace(cfg.Env)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("LLAMABOT_ENV"))
	}
	logger := logging.Setup("botd", env,
		logging.WithLevel(logging.ParseLevel(cfg.LogLevel)),
		logging.WithFile(cfg.LogFile),
	)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("botd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	signer, err := loadSigner(cfg.Signer, options.passphrase)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}
	logger.Info("signer loaded", slog.String("operator", signer.Address().Hex()))

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engines := make([]Engine, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		eng, closeFn, err := buildEngine(stopCtx, chainCfg, signer, logger)
		if err != nil {
			return fmt.Errorf("chain %s: %w", chainCfg.Name, err)
		}
		defer closeFn()
		engines = append(engines, eng)
	}

	daemon, err := NewDaemon(engines, WithMetrics(NewMetrics()), WithLogger(logger))
	if err != nil {
		return err
	}
	if cfg.PauseOnStart {
		daemon.Pause()
	}

	if once {
		return runOnce(stopCtx, daemon, cfg.Schedule.Timeout.Duration)
	}

	auth, err := NewAuthenticator(cfg.Admin.BearerToken)
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}
	adminServer := NewAdminServer(daemon, auth, cfg.Schedule.Timeout.Duration)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      adminServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Schedule.Timeout.Duration + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := NewScheduler(SchedulerConfig{
		Daemon:    daemon,
		Interval:  cfg.Schedule.Interval.Duration,
		RunHour:   cfg.Schedule.RunHour,
		RunMinute: cfg.Schedule.RunMinute,
		Timeout:   cfg.Schedule.Timeout.Duration,
		Logger:    logger,
	})
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(stopCtx)
	}()

	errs := make(chan error, 1)
	go func() {
		logger.Info("botd listening", slog.String("addr", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-schedulerDone
		if err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		stop()
		<-schedulerDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func runOnce(ctx context.Context, daemon *Daemon, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var errs []error
	for _, name := range daemon.Chains() {
		if _, err := daemon.Run(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("chain %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func loadSigner(cfg SignerConfig, passphrase PassphraseFunc) (*crypto.PrivateKey, error) {
	if cfg.Key != "" {
		return crypto.PrivateKeyFromHex(cfg.Key)
	}
	if cfg.Keystore == "" {
		return nil, fmt.Errorf("no signer configured")
	}
	if passphrase == nil {
		passphrase = envPassphrase
	}
	secret, err := passphrase(cfg.PassphraseEnv, cfg.Keystore)
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(cfg.Keystore, secret)
}

func buildEngine(ctx context.Context, cfg ChainConfig, signer *crypto.PrivateKey, logger *slog.Logger) (*engine.Engine, func(), error) {
	chainLogger := logger.With(slog.String("chain", cfg.Name))

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	rpc, err := chain.Dial(dialCtx, cfg.RPC)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", logging.MaskURL(cfg.RPC), err)
	}
	idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	chainID, err := rpc.ChainID(idCtx)
	cancel()
	if err != nil {
		rpc.Close()
		return nil, nil, fmt.Errorf("chain id: %w", logging.ScrubURLError(err))
	}
	if !chainID.IsUint64() || chainID.Uint64() != cfg.ChainID {
		rpc.Close()
		return nil, nil, fmt.Errorf("endpoint serves chain %s, configured %d", chainID, cfg.ChainID)
	}

	rpcMetrics := observability.RPC()
	client := chain.NewThrottled(rpc, cfg.RPCRateLimit, chain.WithObserver(func(method string, d time.Duration, err error) {
		rpcMetrics.Observe(cfg.Name, method, d, err)
	}))

	var abiJSON []byte
	if path := strings.TrimSpace(cfg.Layout.ABIFile); path != "" {
		if abiJSON, err = os.ReadFile(path); err != nil {
			rpc.Close()
			return nil, nil, fmt.Errorf("read abi_file: %w", err)
		}
	}
	codec, err := contract.NewCodec(contract.Options{
		ABI:       string(abiJSON),
		Withdraw:  cfg.Layout.WithdrawLayout(),
		Redirect:  cfg.Layout.RedirectLayout(),
		Redirects: cfg.Redirects,
	})
	if err != nil {
		rpc.Close()
		return nil, nil, err
	}

	transactor, err := chain.NewKeyedTransactor(client, signer.PrivateKey, chainID)
	if err != nil {
		rpc.Close()
		return nil, nil, err
	}
	builder := batch.NewBuilder(client, codec, transactor, batch.Config{
		Contract:    cfg.ContractAddress(),
		GasHeadroom: cfg.GasHeadroom,
		DryRun:      cfg.DryRun,
	}, batch.WithLogger(chainLogger))

	opts := []engine.Option{engine.WithLogger(chainLogger)}
	if cfg.Directory == DirectorySubgraph {
		subgraph, err := directory.NewSubgraphClient(directory.SubgraphConfig{
			Endpoint:  cfg.Subgraph.Endpoint,
			Timeout:   cfg.Subgraph.Timeout.Duration,
			PageSize:  cfg.Subgraph.PageSize,
			RateLimit: cfg.Subgraph.RateLimit,
		})
		if err != nil {
			rpc.Close()
			return nil, nil, err
		}
		opts = append(opts, engine.WithDirectory(subgraph))
	}

	eng, err := engine.New(engine.Config{
		Chain:        cfg.Name,
		Contract:     cfg.ContractAddress(),
		StartBlock:   cfg.StartBlock,
		MaxBlockSpan: cfg.MaxBlockSpan,
	}, client, codec, builder, opts...)
	if err != nil {
		rpc.Close()
		return nil, nil, err
	}
	chainLogger.Info("chain configured",
		slog.String("rpc", logging.MaskURL(cfg.RPC)),
		slog.String("contract", cfg.ContractAddress().Hex()),
		slog.Uint64("start_block", cfg.StartBlock),
		slog.String("directory", cfg.Directory),
		slog.Bool("redirects", cfg.Redirects),
		slog.Bool("dry_run", cfg.DryRun),
	)
	return eng, rpc.Close, nil
}
