package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TDG-AI/HA-TrueX/internal/pkg/cubeapi"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/handlers"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/logging"
	"github.com/TDG-AI/HA-TrueX/internal/pkg/registry"
	"github.com/TDG-AI/HA-TrueX/pkg/middlewares"
)

var _serveCmdOpts struct {
	httpPort        uint16
	gracefulTimeout time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	cubeURL         string
	cubeClientID    string
	cubeSecret      string
	cubeSchema      string
	cubeUsername    string
	cubeTimeout     time.Duration
	tokenStateFile  string
	pollInterval    time.Duration
	pollWorkers     int
	specWorkers     int
	logRequests     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doServe(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("cube.api-url", "cube.client-id", "cube.client-secret",
			"cube.schema", "cube.username")
	},
}

func init() {
	serveCmd.Flags().Uint16Var(&_serveCmdOpts.httpPort, "http-port", 8321, "HTTP port number")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for server to finish, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.readTimeout, "read-timeout", time.Second*15, "duration to wait for request read, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.writeTimeout, "write-timeout", time.Second*60, "duration to wait for request write, eg. 1m or 10s")
	serveCmd.Flags().StringVar(&_serveCmdOpts.cubeURL, "cube-url", "https://openapi-cube.tdgiotengine.com", "base URL of the OPENAPI CUBE endpoint")
	serveCmd.Flags().StringVar(&_serveCmdOpts.cubeClientID, "cube-clientid", "", "client ID issued by the cloud project")
	serveCmd.Flags().StringVar(&_serveCmdOpts.cubeSecret, "cube-secret", "", "client secret issued by the cloud project")
	serveCmd.Flags().StringVar(&_serveCmdOpts.cubeSchema, "cube-schema", "", "app schema the user account belongs to")
	serveCmd.Flags().StringVar(&_serveCmdOpts.cubeUsername, "cube-username", "", "account username to resolve and bridge")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.cubeTimeout, "cube-timeout", time.Second*15, "maximum duration of a cloud API call, eg. 1m or 10s")
	serveCmd.Flags().StringVar(&_serveCmdOpts.tokenStateFile, "token-state-file", "", "file to persist the access token between runs")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.pollInterval, "poll-interval", registry.DefaultPollInterval, "period of the device status poll cycle")
	serveCmd.Flags().IntVar(&_serveCmdOpts.pollWorkers, "poll-workers", 8, "maximum concurrent status fetches per poll cycle")
	serveCmd.Flags().IntVar(&_serveCmdOpts.specWorkers, "spec-workers", 4, "maximum concurrent specification fetches during load")
	serveCmd.Flags().BoolVar(&_serveCmdOpts.logRequests, "log-requests", false, "log requests and responses (only in debug mode)")

	errPanic(viper.GetViper().BindPFlag("http.port", serveCmd.Flags().Lookup("http-port")))
	errPanic(viper.GetViper().BindPFlag("http.graceful-timeout", serveCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.read-timeout", serveCmd.Flags().Lookup("read-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.write-timeout", serveCmd.Flags().Lookup("write-timeout")))
	errPanic(viper.GetViper().BindPFlag("cube.api-url", serveCmd.Flags().Lookup("cube-url")))
	errPanic(viper.GetViper().BindPFlag("cube.client-id", serveCmd.Flags().Lookup("cube-clientid")))
	errPanic(viper.GetViper().BindPFlag("cube.client-secret", serveCmd.Flags().Lookup("cube-secret")))
	errPanic(viper.GetViper().BindPFlag("cube.schema", serveCmd.Flags().Lookup("cube-schema")))
	errPanic(viper.GetViper().BindPFlag("cube.username", serveCmd.Flags().Lookup("cube-username")))
	errPanic(viper.GetViper().BindPFlag("cube.api-timeout", serveCmd.Flags().Lookup("cube-timeout")))
	errPanic(viper.GetViper().BindPFlag("cube.token-state-file", serveCmd.Flags().Lookup("token-state-file")))
	errPanic(viper.GetViper().BindPFlag("poll.interval", serveCmd.Flags().Lookup("poll-interval")))
	errPanic(viper.GetViper().BindPFlag("poll.workers", serveCmd.Flags().Lookup("poll-workers")))
	errPanic(viper.GetViper().BindPFlag("poll.spec-workers", serveCmd.Flags().Lookup("spec-workers")))
	errPanic(viper.GetViper().BindPFlag("logging.log-requests", serveCmd.Flags().Lookup("log-requests")))

	rootCmd.AddCommand(serveCmd)
}

// buildClient assembles a live client from the config
func buildClient() (*cubeapi.Live, error) {
	client := cubeapi.NewLiveClient(
		viper.GetString("cube.api-url"),
		viper.GetString("cube.client-id"),
		viper.GetString("cube.client-secret"),
		viper.GetString("cube.schema"),
	)
	client = client.WithTimeout(viper.GetDuration("cube.api-timeout")).(*cubeapi.Live)

	if stateFile := viper.GetString("cube.token-state-file"); stateFile != "" {
		return client.WithTokenState(stateFile)
	}

	return client, nil
}

func doServe() error {
	wait := viper.GetDuration("http.graceful-timeout")
	port := viper.GetUint("http.port")
	username := viper.GetString("cube.username")

	var logRequests bool
	if viper.GetBool("logging.log-requests") {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logRequests = true
		} else {
			logging.Logger(nil).Warn("log-requests ignored when not in debug mode")
		}
	}

	client, err := buildClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	/* Setup sequence: token, then UID, then the device set */

	if err := client.Bootstrap(ctx); err != nil {
		return err
	}

	user, err := client.ResolveUser(ctx, username)
	if err != nil {
		return err
	}
	logging.Logger(nil).Infof("resolved user [%s] to uid %s", username, user.UID)

	reg := registry.New(client).WithSpecWorkers(viper.GetInt("poll.spec-workers"))
	ids, err := reg.LoadAll(ctx, user.UID)
	if err != nil {
		return err
	}
	logging.Logger(nil).Infof("bridging %d devices", len(ids))

	poller := registry.NewPoller(client, reg).
		WithInterval(viper.GetDuration("poll.interval")).
		WithWorkers(viper.GetInt("poll.workers"))
	poller.Start(ctx)

	dispatcher := registry.NewDispatcher(client, reg, poller)

	bh := handlers.NewBridgeHandler(client, reg, dispatcher, user.UID)

	r := mux.NewRouter()
	r.Use(middlewares.NewCorsMw(cors.Options{AllowedMethods: []string{http.MethodGet, http.MethodPost}}))
	r.Use(middlewares.NewLoggingMw(logRequests))
	r.Use(middlewares.NewRecoveryMw())
	r.Use(middlewares.NewCorrelationMw("X-Correlation-ID"))
	bh.Register(r)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  viper.GetDuration("http.read-timeout"),
		WriteTimeout: viper.GetDuration("http.write-timeout"),
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}

	logging.Logger(nil).Infof("Serving on port %d", port)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	// Block until we receive a signal
	<-c

	logging.Logger(nil).Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), wait)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Errorf("shutting down")
	}

	poller.Stop()
	cancel()

	logging.Logger(nil).Info("exiting")
	return nil
}
