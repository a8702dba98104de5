package server

import (
	"strings"
	"time"

	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/Trinoooo/eggie_ae/server/logs"
	"github.com/luci/go-render/render"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultHost                = "127.0.0.1"
	defaultPort                = 8014
	defaultSetSize             = 10000 + 128 // maxclients + 预留给监听等描述符
	defaultHz                  = 10
	defaultMaxAcceptsPerSecond = 1000
	defaultPushInterval        = 5 * time.Second

	maxHz = 500
)

type MetricsConfig struct {
	PushUrl      string        `mapstructure:"push-url"`
	PushInterval time.Duration `mapstructure:"push-interval"`
}

type Config struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	SetSize             int           `mapstructure:"setsize"`
	Hz                  int           `mapstructure:"hz"`
	IdleTimeout         time.Duration `mapstructure:"idle-timeout"` // 0 表示不关闭空闲连接
	MaxAcceptsPerSecond int           `mapstructure:"max-accepts-per-second"`
	WriteBarrier        bool          `mapstructure:"write-barrier"`
	Metrics             MetricsConfig `mapstructure:"metrics"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:                defaultHost,
		Port:                defaultPort,
		SetSize:             defaultSetSize,
		Hz:                  defaultHz,
		MaxAcceptsPerSecond: defaultMaxAcceptsPerSecond,
		Metrics: MetricsConfig{
			PushInterval: defaultPushInterval,
		},
	}
}

// LoadConfig 依次合并默认值、dir/config.yaml、EGGIE_AE_* 环境变量和 overrides，
// 优先级依次升高。配置文件不存在时不报错。
func LoadConfig(dir string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault(consts.ConfigKeyHost, def.Host)
	v.SetDefault(consts.ConfigKeyPort, def.Port)
	v.SetDefault(consts.ConfigKeySetSize, def.SetSize)
	v.SetDefault(consts.ConfigKeyHz, def.Hz)
	v.SetDefault(consts.ConfigKeyIdleTimeout, def.IdleTimeout)
	v.SetDefault(consts.ConfigKeyMaxAcceptsPerSecond, def.MaxAcceptsPerSecond)
	v.SetDefault(consts.ConfigKeyWriteBarrier, def.WriteBarrier)
	v.SetDefault(consts.ConfigKeyMetricsPushUrl, def.Metrics.PushUrl)
	v.SetDefault(consts.ConfigKeyMetricsPushInterval, def.Metrics.PushInterval)

	v.SetEnvPrefix(consts.Prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			e := errs.NewConfigLoadErr().WithErr(errors.Wrap(err, "read config"))
			logs.Error(e.Error(), zap.String(consts.LogFieldParams, dir))
			return nil, e
		}
		logs.Debug("config file not found, use defaults", zap.String(consts.LogFieldParams, dir))
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		e := errs.NewConfigLoadErr().WithErr(errors.Wrap(err, "unmarshal config"))
		logs.Error(e.Error())
		return nil, e
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logs.Debug("config loaded", zap.String(consts.LogFieldValue, render.Render(cfg)))
	return cfg, nil
}

func (cfg *Config) validate() error {
	invalid := func(param string, value any) error {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, param), zap.Any(consts.LogFieldValue, value))
		return e
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return invalid(consts.ConfigKeyPort, cfg.Port)
	}
	if cfg.SetSize <= 0 {
		return invalid(consts.ConfigKeySetSize, cfg.SetSize)
	}
	if cfg.Hz <= 0 || cfg.Hz > maxHz {
		return invalid(consts.ConfigKeyHz, cfg.Hz)
	}
	if cfg.IdleTimeout < 0 {
		return invalid(consts.ConfigKeyIdleTimeout, cfg.IdleTimeout)
	}
	if cfg.MaxAcceptsPerSecond <= 0 {
		return invalid(consts.ConfigKeyMaxAcceptsPerSecond, cfg.MaxAcceptsPerSecond)
	}
	if cfg.Metrics.PushUrl != "" && cfg.Metrics.PushInterval <= 0 {
		return invalid(consts.ConfigKeyMetricsPushInterval, cfg.Metrics.PushInterval)
	}
	return nil
}
