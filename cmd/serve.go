package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/oasisprotocol/oasis-core/go/common/logging"

	"github.com/oasisprotocol/oasis-kms/backend/remote"
	"github.com/oasisprotocol/oasis-kms/cmd/common"
	"github.com/oasisprotocol/oasis-kms/config"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
)

const (
	metricsEndpoint = "/metrics"

	shutdownTimeout = 5 * time.Second
)

var (
	serveAddress        string
	serveMetricsAddress string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the selected signer to remote consensus nodes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()

			srvCfg := cfg.Server
			if serveAddress != "" {
				srvCfg.Address = serveAddress
			}
			metricsAddress := cfg.Metrics.Address
			if serveMetricsAddress != "" {
				metricsAddress = serveMetricsAddress
			}

			name := common.GetSignerSelection(cfg, srvCfg.Signer)
			signer := common.LoadSigner(cfg, name)
			defer signer.Close()

			lis, err := net.Listen("tcp", srvCfg.Address)
			cobra.CheckErr(err)

			var metricsLis net.Listener
			if metricsAddress != "" {
				metricsLis, err = net.Listen("tcp", metricsAddress)
				cobra.CheckErr(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = serveSigner(ctx, signer, &srvCfg, lis, metricsLis)
			cobra.CheckErr(err)
		},
	}
)

// serveSigner serves the signer on the given listeners until the context is canceled. The
// metrics listener is optional.
func serveSigner(
	ctx context.Context,
	signer *signature.Signer,
	srvCfg *config.Server,
	lis net.Listener,
	metricsLis net.Listener,
) error {
	logger := logging.GetLogger("kms/cmd/serve").With(
		"provider", signer.Provider().String(),
		"identity", signer.Identity().String(),
	)

	var opts []grpc.ServerOption
	if srvCfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(srvCfg.TLSCert, srvCfg.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	svc := remote.NewServer(signer)
	defer svc.Close()

	grpcSrv := remote.NewGRPCServer(opts...)
	svc.Register(grpcSrv)

	var metricsSrv *http.Server
	if metricsLis != nil {
		signature.RegisterMetrics(prometheus.DefaultRegisterer)

		mux := http.NewServeMux()
		mux.Handle(metricsEndpoint, promhttp.Handler())
		metricsSrv = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: shutdownTimeout,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("signer service available",
			"address", lis.Addr().String(),
		)
		return grpcSrv.Serve(lis)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("prometheus metrics available",
				"address", metricsLis.Addr().String(),
				"endpoint", metricsEndpoint,
			)
			if err := metricsSrv.Serve(metricsLis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		grpcSrv.GracefulStop()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "override the configured signer service address")
	serveCmd.Flags().StringVar(&serveMetricsAddress, "metrics.address", "", "override the configured Prometheus metrics address")
	serveCmd.Flags().AddFlagSet(common.SelectorFlags)
	serveCmd.Flags().AddFlagSet(common.PassphraseFlags)
}
