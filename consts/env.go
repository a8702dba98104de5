package consts

const (
	Env     = "EGGIE_AE_ENV"     // 运行环境，test 时日志使用开发配置
	Host    = "EGGIE_AE_HOST"    // 主机名，目前只支持ip
	Port    = "EGGIE_AE_PORT"    // 端口
	SetSize = "EGGIE_AE_SETSIZE" // 事件循环可追踪的最大描述符数
	Hz      = "EGGIE_AE_HZ"      // serverCron 每秒执行次数
	Config  = "EGGIE_AE_CONFIG"  // 配置文件目录
	Prefix  = "EGGIE_AE"         // viper 环境变量前缀
)
