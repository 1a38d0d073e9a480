package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hatlonely/uidgen/cfg"
	"github.com/hatlonely/uidgen/log"
	"github.com/hatlonely/uidgen/ref"
	"github.com/hatlonely/uidgen/uid"
	"github.com/hatlonely/uidgen/uid/layout"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type Options struct {
	Generator ref.TypeOptions  `cfg:"generator" validate:"required"`
	Logger    *ref.TypeOptions `cfg:"logger"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "uidgen-demo",
		Short:        "Generate ids from a generator config file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			count, _ := cmd.Flags().GetInt("count")
			envPrefix, _ := cmd.Flags().GetString("env-prefix")
			business, _ := cmd.Flags().GetStringToInt64("business")
			interval, _ := cmd.Flags().GetDuration("interval")
			watch, _ := cmd.Flags().GetBool("watch")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if watch {
				w, err := cfg.WatchFile(configPath, reloadLogger(envPrefix))
				if err != nil {
					return err
				}
				defer w.Close()
			}

			return run(ctx, configPath, envPrefix, count, interval, business)
		},
	}
	rootCmd.Flags().StringP("config", "c", "uid/demo/config.yaml", "Config file (yaml|json|toml|ini)")
	rootCmd.Flags().IntP("count", "n", 10, "Number of ids to generate")
	rootCmd.Flags().String("env-prefix", "UIDGEN", "Environment variable prefix overriding the config file")
	rootCmd.Flags().StringToInt64P("business", "b", nil, "Business field values, e.g. source=1,type=2")
	rootCmd.Flags().Duration("interval", 0, "Generate count ids every interval until interrupted (0 generates once)")
	rootCmd.Flags().Bool("watch", false, "Reload the logger when the config file changes")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadOptions(configPath string, envPrefix string) (*Options, error) {
	node, err := cfg.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return decodeOptions(node, envPrefix)
}

func decodeOptions(node *cfg.Node, envPrefix string) (*Options, error) {
	if envPrefix != "" {
		node = node.ApplyEnv(envPrefix)
	}
	var options Options
	if err := node.ConvertTo(&options); err != nil {
		return nil, errors.WithMessage(err, "invalid config")
	}
	return &options, nil
}

func setLogger(options *ref.TypeOptions) error {
	if options == nil {
		return nil
	}
	l, err := log.NewLoggerWithOptions(options)
	if err != nil {
		return err
	}
	log.SetDefault(l)
	return nil
}

// reloadLogger 配置文件变化后只替换日志，生成器的布局在运行期间不变
func reloadLogger(envPrefix string) func(node *cfg.Node, err error) {
	return func(node *cfg.Node, err error) {
		if err != nil {
			log.Default().Warn("config watch failed", "error", err.Error())
			return
		}
		options, err := decodeOptions(node, envPrefix)
		if err == nil {
			err = setLogger(options.Logger)
		}
		if err != nil {
			log.Default().Warn("config reload failed", "error", err.Error())
			return
		}
		log.Default().Info("logger reloaded")
	}
}

func run(ctx context.Context, configPath string, envPrefix string, count int, interval time.Duration, business map[string]int64) error {
	options, err := loadOptions(configPath, envPrefix)
	if err != nil {
		return err
	}
	if err := setLogger(options.Logger); err != nil {
		return err
	}

	if strings.Contains(options.Generator.Type, "Str") {
		return generate[string](ctx, &options.Generator, count, interval, business)
	}
	return generate[int64](ctx, &options.Generator, count, interval, business)
}

func generate[T layout.ID](ctx context.Context, options *ref.TypeOptions, count int, interval time.Duration, business map[string]int64) error {
	g, err := uid.NewGeneratorWithOptions[T](options)
	if err != nil {
		return err
	}
	defer g.Close()

	log.Default().Info("generator ready", "type", options.Type, "workerId", g.WorkerID())

	if interval <= 0 {
		return printIDs(ctx, g, count, business)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := printIDs(ctx, g, count, business); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printIDs[T layout.ID](ctx context.Context, g uid.IDGenerator[T], count int, business map[string]int64) error {
	for i := 0; i < count; i++ {
		id, err := g.GetIDWith(ctx, business)
		if err != nil {
			return err
		}
		res, err := g.Parse(id)
		if err != nil {
			return err
		}
		buf, err := json.Marshal(res)
		if err != nil {
			return errors.Wrap(err, "json.Marshal failed")
		}
		fmt.Printf("%v\t%s\n", id, buf)
	}
	return nil
}
