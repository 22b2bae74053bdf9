package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	ipfsapi "github.com/ipfs/go-ipfs-api"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigmarket/escrow-engine/internal/api"
	"github.com/gigmarket/escrow-engine/internal/escrow"
	"github.com/gigmarket/escrow-engine/internal/ledger"
	"github.com/gigmarket/escrow-engine/internal/metastore"
	"github.com/gigmarket/escrow-engine/internal/notify"
	"github.com/gigmarket/escrow-engine/internal/secrets"
	"github.com/gigmarket/escrow-engine/internal/vault"
	"github.com/gigmarket/escrow-engine/internal/wallet"
	walletpg "github.com/gigmarket/escrow-engine/internal/wallet/postgres"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8080", "HTTP listen address")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required)")

		rpcURL       = flag.String("rpc-url", "", "EVM JSON-RPC URL (required)")
		chainID      = flag.Uint64("chain-id", 0, "EVM chain id (required)")
		contractAddr = flag.String("contract-address", "", "escrow contract address (required)")

		secretProvider  = flag.String("secret-provider", "env", "master secret source (env|aws|file)")
		masterSecretKey = flag.String("master-secret-key", "ESCROW_MASTER_SECRET", "master secret name: env var, secretsmanager id, or file path")

		metadataDriver  = flag.String("metadata-driver", metastore.DriverIPFS, "metadata store driver (ipfs|s3|memory)")
		ipfsAPIURL      = flag.String("ipfs-api-url", "localhost:5001", "IPFS HTTP API multiaddr or host:port")
		metadataBucket  = flag.String("metadata-bucket", "", "S3 bucket for metadata payloads")
		metadataPrefix  = flag.String("metadata-prefix", "", "S3 key prefix for metadata payloads")
		metadataMaxSize = flag.Int64("metadata-max-get-size", 1<<20, "maximum metadata payload bytes returned by reads")

		notifyDriver  = flag.String("notify-driver", notify.DriverKafka, "event producer driver (kafka|stdio)")
		notifyBrokers = flag.String("notify-brokers", "", "Kafka brokers (comma-separated); empty disables event publishing")
		notifyTopic   = flag.String("notify-topic", notify.DefaultTopic, "topic for job lifecycle events")

		gasMargin           = flag.Float64("gas-margin", 1.2, "multiplier applied to gas estimates")
		receiptPollInterval = flag.Duration("receipt-poll-interval", 2*time.Second, "receipt polling interval")
		paymentTimeout      = flag.Duration("payment-receipt-timeout", 60*time.Second, "receipt wait for fund-moving transactions")
		callTimeout         = flag.Duration("call-receipt-timeout", 30*time.Second, "receipt wait for plain state transitions")

		rateLimitPerSecond = flag.Float64("rate-limit-per-ip-per-second", 20, "per-IP refill rate for API rate limiting")
		rateLimitBurst     = flag.Int("rate-limit-burst", 40, "per-IP burst capacity for API rate limiting")
		rateLimitMaxIPs    = flag.Int("rate-limit-max-tracked-ips", 10000, "maximum tracked client IP entries in rate limiter")

		feeCacheTTL        = flag.Duration("fee-cache-ttl", 30*time.Second, "TTL for platform fee quote cache")
		feeCacheMaxEntries = flag.Int("fee-cache-max-entries", 10000, "maximum cached fee quotes")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 90*time.Second, "http.Server WriteTimeout; must exceed receipt waits")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *postgresDSN == "" || *rpcURL == "" || *chainID == 0 || *contractAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn, --rpc-url, --chain-id, and --contract-address are required")
		os.Exit(2)
	}
	if !common.IsHexAddress(*contractAddr) {
		fmt.Fprintln(os.Stderr, "error: --contract-address must be a valid hex address")
		os.Exit(2)
	}
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}
	if *paymentTimeout <= 0 || *callTimeout <= 0 || *receiptPollInterval <= 0 {
		fmt.Fprintln(os.Stderr, "error: receipt settings must be > 0")
		os.Exit(2)
	}
	if *writeTimeout <= *paymentTimeout {
		fmt.Fprintln(os.Stderr, "error: --write-timeout must exceed --payment-receipt-timeout")
		os.Exit(2)
	}
	if *rateLimitPerSecond <= 0 || *rateLimitBurst <= 0 || *rateLimitMaxIPs <= 0 {
		fmt.Fprintln(os.Stderr, "error: rate limit settings must be > 0")
		os.Exit(2)
	}
	if *feeCacheTTL <= 0 || *feeCacheMaxEntries <= 0 {
		fmt.Fprintln(os.Stderr, "error: fee cache settings must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := secrets.NewProvider(ctx, *secretProvider)
	if err != nil {
		log.Error("init secret provider", "err", err)
		os.Exit(2)
	}
	masterSecret, err := provider.Get(ctx, *masterSecretKey)
	if err != nil {
		log.Error("load master secret", "err", err)
		os.Exit(2)
	}
	keyVault, err := vault.New(masterSecret)
	if err != nil {
		log.Error("init vault", "err", err)
		os.Exit(2)
	}

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		log.Error("init pgx pool", "err", err)
		os.Exit(2)
	}
	defer pool.Close()

	walletStore, err := walletpg.New(pool)
	if err != nil {
		log.Error("init wallet store", "err", err)
		os.Exit(2)
	}
	if err := walletStore.EnsureSchema(ctx); err != nil {
		log.Error("ensure wallet schema", "err", err)
		os.Exit(2)
	}
	credentials, err := walletpg.NewCredentials(pool)
	if err != nil {
		log.Error("init credentials reader", "err", err)
		os.Exit(2)
	}

	directory, err := wallet.NewDirectory(wallet.Config{
		Store:       walletStore,
		Credentials: credentials,
		Vault:       keyVault,
	})
	if err != nil {
		log.Error("init wallet directory", "err", err)
		os.Exit(2)
	}

	client, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "url", *rpcURL, "err", err)
		os.Exit(2)
	}
	defer client.Close()

	gateway, err := ledger.New(client, common.HexToAddress(*contractAddr), ledger.Config{
		ChainID:             new(big.Int).SetUint64(*chainID),
		GasMargin:           *gasMargin,
		ReceiptPollInterval: *receiptPollInterval,
	})
	if err != nil {
		log.Error("init ledger gateway", "err", err)
		os.Exit(2)
	}

	metaStore, err := newMetadataStore(ctx, metadataConfig{
		driver:     *metadataDriver,
		ipfsAPIURL: *ipfsAPIURL,
		bucket:     *metadataBucket,
		prefix:     *metadataPrefix,
		maxGetSize: *metadataMaxSize,
	})
	if err != nil {
		log.Error("init metadata store", "err", err)
		os.Exit(2)
	}

	var notifier *notify.Notifier
	if strings.TrimSpace(*notifyBrokers) != "" || strings.EqualFold(strings.TrimSpace(*notifyDriver), notify.DriverStdio) {
		producer, producerErr := notify.NewProducer(notify.ProducerConfig{
			Driver:  *notifyDriver,
			Brokers: notify.SplitCommaList(*notifyBrokers),
		})
		if producerErr != nil {
			log.Error("init event producer", "err", producerErr)
			os.Exit(2)
		}
		defer producer.Close()

		notifier, err = notify.NewNotifier(notify.NotifierConfig{
			Producer: producer,
			Topic:    *notifyTopic,
			Logger:   log,
		})
		if err != nil {
			log.Error("init notifier", "err", err)
			os.Exit(2)
		}
		log.Info("event publishing enabled", "driver", *notifyDriver, "topic", *notifyTopic)
	} else {
		log.Info("event publishing disabled: no brokers configured")
	}

	orchestrator, err := escrow.New(escrow.Config{
		Gateway:               gateway,
		Wallets:               directory,
		Metadata:              metaStore,
		Notifier:              notifier,
		Logger:                log,
		PaymentReceiptTimeout: *paymentTimeout,
		CallReceiptTimeout:    *callTimeout,
	})
	if err != nil {
		log.Error("init orchestrator", "err", err)
		os.Exit(2)
	}

	handler, err := api.NewHandler(api.Config{
		ChainID:                 new(big.Int).SetUint64(*chainID),
		ContractAddress:         common.HexToAddress(*contractAddr),
		Wallets:                 directory,
		Escrow:                  orchestrator,
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
		FeeQuoteCacheTTL:        *feeCacheTTL,
		FeeQuoteCacheMaxEntries: *feeCacheMaxEntries,
		Now:                     time.Now,
	})
	if err != nil {
		log.Error("init api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("escrowd listening", "addr", *listenAddr, "chainID", *chainID, "contract", *contractAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type metadataConfig struct {
	driver     string
	ipfsAPIURL string
	bucket     string
	prefix     string
	maxGetSize int64
}

func newMetadataStore(ctx context.Context, mc metadataConfig) (metastore.Store, error) {
	cfg := metastore.Config{
		Driver:     strings.ToLower(strings.TrimSpace(mc.driver)),
		Bucket:     strings.TrimSpace(mc.bucket),
		Prefix:     strings.TrimSpace(mc.prefix),
		MaxGetSize: mc.maxGetSize,
	}
	switch cfg.Driver {
	case "", metastore.DriverIPFS:
		cfg.Driver = metastore.DriverIPFS
		cfg.IPFSClient = ipfsapi.NewShell(strings.TrimSpace(mc.ipfsAPIURL))
	case metastore.DriverS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return metastore.New(cfg)
}
