package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailkan/internal/cache"
	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/internal/credential"
	"github.com/brandon/mailkan/internal/email"
	"github.com/brandon/mailkan/internal/kanban"
	"github.com/brandon/mailkan/internal/mcp"
	"github.com/brandon/mailkan/internal/store"
	"github.com/brandon/mailkan/internal/tools"
)

var (
	version       = "dev"
	showVersion   = flag.Bool("version", false, "Show version information")
	profileMode   = flag.String("profile", "", "Enable profiling: cpu, mem or trace")
	storePassword = flag.Bool("store-password", false, "Read the IMAP password from stdin and store it in the system keyring")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailkan-server version %s\n", version)
		os.Exit(0)
	}

	// stdout carries the MCP protocol, so logs go to stderr
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if *storePassword {
		if err := savePassword(cfg); err != nil {
			logger.WithError(err).Fatal("Failed to store password")
		}
		logger.WithField("user", cfg.IMAP.Username).Info("Password stored in keyring")
		return
	}

	if cfg.IMAP.Password == "" && cfg.IMAP.PasswordKeyring {
		vault, err := credential.Open()
		if err != nil {
			logger.WithError(err).Fatal("Failed to open keyring")
		}
		password, err := vault.IMAPPassword(cfg.IMAP.Username)
		if err != nil {
			logger.WithError(err).Fatal("Failed to read IMAP password from keyring")
		}
		cfg.IMAP.Password = password
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	switch *profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "trace":
		defer profile.Start(profile.TraceProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "":
	default:
		logger.WithField("profile", *profileMode).Warn("Unknown profile mode, profiling disabled")
	}

	logger.WithFields(logrus.Fields{
		"host":    cfg.IMAP.Host,
		"backend": cfg.StoreBackend,
		"version": version,
	}).Info("Starting mailkan server")

	folderCache, err := cache.New(cfg.CacheTTL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}

	persister, err := store.NewPersister(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}
	board := store.NewStore(persister, logger)
	if err := board.Open(); err != nil {
		logger.WithError(err).Fatal("Failed to load board")
	}
	defer func() {
		if err := board.Flush(); err != nil {
			logger.WithError(err).Error("Failed to flush board")
		}
	}()

	bus := kanban.NewBus(logger)
	mailbox := email.NewIMAPClient(&cfg.IMAP, logger)
	service := kanban.NewService(cfg, mailbox, folderCache, board, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go logEvents(events, logger)

	if setup, err := service.EnsureFolders(ctx); err != nil {
		logger.WithError(err).Error("Failed to set up board folders")
	} else {
		logger.WithFields(logrus.Fields{
			"created":  setup.Created,
			"existing": setup.Existing,
			"failed":   len(setup.Failed),
		}).Info("Board folders ready")
	}

	registry := tools.NewRegistry(cfg, service, logger)
	server := mcp.NewServer("mailkan", version, registry, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("Server error")
		}
		cancel()
	}

	logger.Info("Shutting down mailkan server")
}

func savePassword(cfg *config.Config) error {
	if cfg.IMAP.Username == "" {
		return fmt.Errorf("IMAP_USER is required")
	}
	fmt.Fprint(os.Stderr, "IMAP password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password")
	}
	vault, err := credential.Open()
	if err != nil {
		return err
	}
	return vault.SetIMAPPassword(cfg.IMAP.Username, password)
}

func logEvents(events <-chan kanban.Event, logger *logrus.Logger) {
	for ev := range events {
		logger.WithFields(logrus.Fields{
			"event":  ev.Type,
			"uid":    ev.UID,
			"folder": ev.Folder,
			"from":   ev.FromFolder,
			"to":     ev.ToFolder,
			"count":  ev.Count,
		}).Debug("Board event")
	}
}
