package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mhsanaei/xray-daemon/config"
	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/web"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func initLogger() {
	level, err := logger.ParseLevel(config.GetLogLevel())
	if err != nil {
		log.Fatal(err)
	}
	logger.InitLogger(level)
}

func runServer(envFiles []string) {
	log.Printf("%v %v", config.GetName(), config.GetVersion())
	initLogger()
	defer logger.CloseLogger()

	server := web.NewServer()
	if err := server.Start(); err != nil {
		logger.Error("start server failed:", err)
		return
	}

	sigCh := make(chan os.Signal, 1)
	// SIGHUP re-reads the env files and restarts
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for {
		sig := <-sigCh

		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, restarting")
			if err := server.Stop(); err != nil {
				logger.Warning("stop server err:", err)
			}
			if err := config.ReloadEnv(envFiles...); err != nil {
				logger.Warning("reload env failed:", err)
			}
			server = web.NewServer()
			if err := server.Start(); err != nil {
				logger.Error("restart server failed:", err)
				return
			}
		default:
			logger.Info("received", sig, "shutting down")
			if err := server.Stop(); err != nil {
				logger.Warning("stop server err:", err)
			}
			return
		}
	}
}

// withServer opens the daemon resources without serving, runs fn and closes
// them again. SIGINT cancels fn's context.
func withServer(fn func(ctx context.Context, server *web.Server) error) error {
	initLogger()
	defer logger.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := web.NewServer()
	if err := server.Open(); err != nil {
		return err
	}
	defer server.Stop()
	return fn(ctx, server)
}

func reconcileOnce() error {
	return withServer(func(ctx context.Context, server *web.Server) error {
		summary, err := server.ReconcileService().RunPass(ctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	})
}

func importAccounts() error {
	return withServer(func(ctx context.Context, server *web.Server) error {
		imported, err := server.AccountService().ImportAccounts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d accounts\n", imported)
		return nil
	})
}

func main() {
	var envFiles []string

	var rootCmd = &cobra.Command{
		Use:   config.GetName(),
		Short: "Keeps xray inbound users in step with the account database",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnv(envFiles...)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "dotenv files to load (default .env)")

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the API server and the reconciliation schedule",
		Run: func(cmd *cobra.Command, args []string) {
			runServer(envFiles)
		},
	}

	var reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reconcileOnce()
		},
	}

	var importCmd = &cobra.Command{
		Use:   "import",
		Short: "Provision every active account on a freshly started xray",
		RunE: func(cmd *cobra.Command, args []string) error {
			return importAccounts()
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.GetVersion())
		},
	}

	rootCmd.AddCommand(runCmd, reconcileCmd, importCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
