package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/config"
	"github.com/JakeFAU/realtime-file-converter/internal/logging"
	"github.com/JakeFAU/realtime-file-converter/internal/tracker"
)

type rootOptions struct {
	cfgFile string
	noColor bool
	verbose bool
	v       *viper.Viper
}

// newRootCmd creates the root command and binds its persistent flags to Viper
// keys so flags, CONVERT_* env vars, and the config file share one namespace.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Upload files to the conversion service and track them",
		Long: `convert submits a file to the realtime file converter, follows the job
over the websocket push channel with a polling fallback, and optionally saves
the converted file.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log channel and polling activity to stderr")
	flags.String("base-url", "", "conversion service base URL")
	flags.String("api-key", "", "API key sent as X-API-Key")
	flags.Int("poll-interval-ms", 0, "status poll interval in milliseconds")
	flags.String("output-dir", "", "directory to save converted files into")
	bindFlag(opts.v, "base_url", flags.Lookup("base-url"))
	bindFlag(opts.v, "api_key", flags.Lookup("api-key"))
	bindFlag(opts.v, "poll_interval_ms", flags.Lookup("poll-interval-ms"))
	bindFlag(opts.v, "output_dir", flags.Lookup("output-dir"))

	cmd.AddCommand(newUploadCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	return cmd
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// session bundles what every subcommand needs.
type session struct {
	cfg    config.ClientConfig
	client *tracker.Client
	logger *zap.Logger
}

func (o *rootOptions) open() (*session, error) {
	cfg, err := config.LoadClient(o.v, o.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load client config: %w", err)
	}
	logger := zap.NewNop()
	if o.verbose {
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, err
		}
	}
	client, err := tracker.NewClient(cfg.BaseURL, cfg.APIKey, &http.Client{Timeout: cfg.HTTPTimeout()})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, client: client, logger: logger}, nil
}
