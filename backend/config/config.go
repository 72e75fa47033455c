package config

import (
	"time"

	"github.com/spf13/viper"
)

type RelayConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Relay struct {
		// 单次 Apply 等待信号量的上限并发
		MaxInflight int `mapstructure:"maxInflight"`
		// 每多少行日志压缩一次，0 关闭；接了 Redis 扇出时强制关闭
		CompactEvery      int           `mapstructure:"compactEvery"`
		SideEffectTimeout time.Duration `mapstructure:"sideEffectTimeout"`
		QueueSize         int           `mapstructure:"queueSize"`
	} `mapstructure:"Relay"`
}

type AgentConfig struct {
	Relay struct {
		URL        string        `mapstructure:"url"`
		MinBackoff time.Duration `mapstructure:"minBackoff"`
		MaxBackoff time.Duration `mapstructure:"maxBackoff"`
	} `mapstructure:"Relay"`
}

// 兼容从项目根目录或 backend 目录启动
var searchPaths = []string{"./backend/config", "./config", "."}

func newViper(name string, paths []string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = searchPaths
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	return v
}

// LoadRelay 读取 relayConfig.yaml，paths 为空时用默认搜索路径
func LoadRelay(paths ...string) (*RelayConfig, error) {
	v := newViper("relayConfig", paths)
	v.SetDefault("Running.Port", 8082)
	v.SetDefault("Kafka.topic", "room-updates")
	v.SetDefault("Relay.maxInflight", 100)
	v.SetDefault("Relay.sideEffectTimeout", time.Second)
	v.SetDefault("Relay.queueSize", 10_000)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &RelayConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAgent 读取 agentConfig.yaml；文件不存在时只用默认值
func LoadAgent(paths ...string) (*AgentConfig, error) {
	v := newViper("agentConfig", paths)
	v.SetDefault("Relay.url", "ws://127.0.0.1:8082/collab/ws")
	v.SetDefault("Relay.minBackoff", 200*time.Millisecond)
	v.SetDefault("Relay.maxBackoff", 5*time.Second)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	cfg := &AgentConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
