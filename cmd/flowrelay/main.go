package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowrelay/flowrelay/config"
	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/replay"
	"github.com/flowrelay/flowrelay/rest"
	"github.com/flowrelay/flowrelay/runtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}

type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("engine-url", "http://localhost:8080", "base url of the flow engine")
	cmd.Flags().String("tenant", "", "tenant id used on every engine call")
	cmd.Flags().String("storage-impl", "memory", "implementation of underline storage")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "flowrelay", "namespace used in storage")
	cmd.Flags().Int("http-port", 8085, "http port for status endpoints")
	cmd.Flags().Int("probe-interval", 10, "seconds between connectivity probes")
	cmd.Flags().Int("wait-interval", 2, "seconds between wait-state polls")
	cmd.Flags().Int("join-interval", 10, "seconds between session rejoin attempts")
	cmd.Flags().Bool("debug", false, "enable debug logging")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.EngineUrl = viper.GetString("engine-url")
	c.cfg.TenantId = viper.GetString("tenant")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.ProbeIntervalSeconds = viper.GetInt("probe-interval")
	c.cfg.WaitIntervalSeconds = viper.GetInt("wait-interval")
	c.cfg.JoinIntervalSeconds = viper.GetInt("join-interval")
	return logger.InitLogger(viper.GetBool("debug"))
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	core, err := runtime.New(c.cfg.Config, replay.Hooks{})
	if err != nil {
		return err
	}
	core.Start()
	defer core.Shutdown()

	server, err := rest.NewServer(c.cfg.HttpPort, core.NetworkStore(), core.QueuedRequests)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server stopped")
		}
	}()
	defer server.Stop()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return nil
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "flowrelay",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
