package consts

import (
	"fmt"
	"github.com/mitchellh/go-homedir"
)

const (
	ConfigKeyHost                = "host"
	ConfigKeyPort                = "port"
	ConfigKeySetSize             = "setsize"
	ConfigKeyHz                  = "hz"
	ConfigKeyIdleTimeout         = "idle-timeout"
	ConfigKeyMaxAcceptsPerSecond = "max-accepts-per-second"
	ConfigKeyWriteBarrier        = "write-barrier"
	ConfigKeyMetricsPushUrl      = "metrics.push-url"
	ConfigKeyMetricsPushInterval = "metrics.push-interval"
)

func init() {
	home, _ := homedir.Dir()
	BaseDir = fmt.Sprintf("%s/eggie_ae", home)
	DefaultConfigPath = fmt.Sprintf("%s/config", BaseDir)
}

var (
	BaseDir           string
	DefaultConfigPath string
	TmpDir            = "/tmp/eggie_ae"
)
