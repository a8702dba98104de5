//go:build unix

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/Trinoooo/eggie_ae/server"
	"github.com/Trinoooo/eggie_ae/server/logs"
	"github.com/Trinoooo/eggie_ae/utils"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	flagHost = &cli.StringFlag{
		Name:    consts.ConfigKeyHost,
		Aliases: []string{"h"},
		Value:   "127.0.0.1",
		Usage:   "server host name.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.Int64Flag{
		Name:    consts.ConfigKeyPort,
		Aliases: []string{"p"},
		Value:   8014,
		Usage:   "server port number, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int64) error {
			if port <= 0 || port > 65535 {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int64(consts.LogFieldValue, port))
				return e
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
	flagSetSize = &cli.Int64Flag{
		Name:    consts.ConfigKeySetSize,
		Aliases: []string{"s"},
		Value:   10128,
		Usage:   "max number of descriptors the event loop tracks, 0 < setsize <= 1M are available.",
		Action: func(c *cli.Context, setsize int64) error {
			if setsize <= 0 || setsize > consts.MB {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "setsize"), zap.Int64(consts.LogFieldValue, setsize))
				return e
			}
			return nil
		},
		EnvVars: []string{consts.SetSize},
	}
	flagHz = &cli.Int64Flag{
		Name:  consts.ConfigKeyHz,
		Value: 10,
		Usage: "serverCron frequency, 0 < hz <= 500 are available.",
		Action: func(c *cli.Context, hz int64) error {
			if hz <= 0 || hz > 500 {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "hz"), zap.Int64(consts.LogFieldValue, hz))
				return e
			}
			return nil
		},
		EnvVars: []string{consts.Hz},
	}
	flagIdleTimeout = &cli.DurationFlag{
		Name:  consts.ConfigKeyIdleTimeout,
		Usage: "close clients idle longer than this, 0 disables it.",
	}
	flagWriteBarrier = &cli.BoolFlag{
		Name:  consts.ConfigKeyWriteBarrier,
		Value: false,
		Usage: "set this flag to reply only after the query of the same iteration is processed.",
	}
	flagMetricsPushUrl = &cli.StringFlag{
		Name:  "metrics-push-url",
		Usage: "prometheus pushgateway url, empty disables pushing.",
	}
	flagConfig = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   utils.GetValueOnEnv(consts.DefaultConfigPath, consts.TmpDir).(string),
		Usage:   "directory containing config.yaml.",
		EnvVars: []string{consts.Config},
	}
)

type Wrapper struct {
	app *cli.App
}

func NewWrapper() *Wrapper {
	wrapper := &Wrapper{
		app: &cli.App{
			Name:    "eggie_ae",
			Usage:   "a tiny line protocol server on a single threaded event loop",
			Version: "0.0.1.241019_alpha",
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *Wrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *Wrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
	cli.AppHelpTemplate = consts.HelpTemplate
}

func (wrapper *Wrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagHost,
		flagPort,
		flagSetSize,
		flagHz,
		flagIdleTimeout,
		flagWriteBarrier,
		flagMetricsPushUrl,
		flagConfig,
	}
}

// overrides 只有显式设置（命令行或环境变量）的 flag 覆盖配置文件
func overrides(ctx *cli.Context) map[string]any {
	values := make(map[string]any)
	if ctx.IsSet(flagHost.Name) {
		values[consts.ConfigKeyHost] = ctx.String(flagHost.Name)
	}
	if ctx.IsSet(flagPort.Name) {
		values[consts.ConfigKeyPort] = ctx.Int64(flagPort.Name)
	}
	if ctx.IsSet(flagSetSize.Name) {
		values[consts.ConfigKeySetSize] = ctx.Int64(flagSetSize.Name)
	}
	if ctx.IsSet(flagHz.Name) {
		values[consts.ConfigKeyHz] = ctx.Int64(flagHz.Name)
	}
	if ctx.IsSet(flagIdleTimeout.Name) {
		values[consts.ConfigKeyIdleTimeout] = ctx.Duration(flagIdleTimeout.Name)
	}
	if ctx.IsSet(flagWriteBarrier.Name) {
		values[consts.ConfigKeyWriteBarrier] = ctx.Bool(flagWriteBarrier.Name)
	}
	if ctx.IsSet(flagMetricsPushUrl.Name) {
		values[consts.ConfigKeyMetricsPushUrl] = ctx.String(flagMetricsPushUrl.Name)
	}
	return values
}

func (wrapper *Wrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		cfg, err := server.LoadConfig(ctx.String(flagConfig.Name), overrides(ctx))
		if err != nil {
			return err
		}

		srv, err := server.NewServer(cfg)
		if err != nil {
			return err
		}

		go func() {
			// bugfix: 使用缓冲通道避免执行信号处理程序（下面的for）之前有信号到达会被丢弃
			sig := make(chan os.Signal, 5)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			for range sig {
				logs.Info("shutdown...")
				if err := srv.Close(); err != nil {
					logs.Error("server shutdown failed", zap.Error(err))
				}
			}
		}()

		return srv.Serve()
	}
}

func (wrapper *Wrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
