package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	dir := t.TempDir()
	require.Nil(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
	return dir
}

// TestLoadConfigDefaults 配置文件不存在时使用默认值
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir(), nil)
	assert.Nil(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

// TestLoadConfigPriority 优先级：overrides > 环境变量 > 配置文件 > 默认值
func TestLoadConfigPriority(t *testing.T) {
	dir := writeConfigFile(t, `
port: 9000
hz: 50
setsize: 1024
idle-timeout: 30s
write-barrier: true
metrics:
  push-url: http://localhost:9091
  push-interval: 1s
`)
	t.Setenv("EGGIE_AE_SETSIZE", "256")

	cfg, err := LoadConfig(dir, map[string]any{consts.ConfigKeyHz: 20})
	assert.Nil(t, err)
	assert.Equal(t, defaultHost, cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 20, cfg.Hz)
	assert.Equal(t, 256, cfg.SetSize)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.True(t, cfg.WriteBarrier)
	assert.Equal(t, "http://localhost:9091", cfg.Metrics.PushUrl)
	assert.Equal(t, time.Second, cfg.Metrics.PushInterval)
}

// TestLoadConfigFailed 加载失败
//   - 配置文件格式错误
//   - hz 超出范围
//   - setsize 非正数
//   - 端口超出范围
func TestLoadConfigFailed(t *testing.T) {
	dir := writeConfigFile(t, "port: [1, 2\n")
	_, err := LoadConfig(dir, nil)
	assert.Equal(t, int64(errs.ConfigLoadErrCode), errs.GetCode(err))

	_, err = LoadConfig(t.TempDir(), map[string]any{consts.ConfigKeyHz: 0})
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))

	_, err = LoadConfig(t.TempDir(), map[string]any{consts.ConfigKeySetSize: -1})
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))

	_, err = LoadConfig(t.TempDir(), map[string]any{consts.ConfigKeyPort: 70000})
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
}
