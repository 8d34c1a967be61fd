package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"github.com/lisuiheng/pttradio/core"
	"github.com/lisuiheng/pttradio/logger"
	"github.com/lisuiheng/pttradio/observe"
)

func main() {
	// 定义命令行参数
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/pttradio/config.yaml)")
	loopback := flag.Bool("loopback", false, "Run the capture -> encode -> decode -> playback loopback instead of the radio")
	debug := flag.Bool("debug", false, "Enable debug logging to stdout")
	flag.Parse()

	// 加载配置
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *loopback {
		cfg.Mode = core.ModeLoopback
	}

	// 初始化日志
	if err := initLogger(cfg, *debug); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger.Logger()); err != nil {
		logger.Error("Radio stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Radio shutdown completed")
}

func run(cfg core.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		shutdown, err := observe.InitProvider()
		if err != nil {
			return fmt.Errorf("%w: metrics provider: %v", core.ErrInit, err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("Failed to shut down metrics provider", "error", err)
			}
		}()
		go func() {
			if err := observe.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				log.Error("Metrics endpoint stopped", "error", err)
			}
		}()
	}
	metrics := observe.DefaultMetrics()

	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("Failed to close audio backend", "error", err)
		}
	}()

	components, err := buildComponents(cfg, backend, metrics, log)
	if err != nil {
		return err
	}

	radio, err := core.NewRadio(cfg, components, log)
	if err != nil {
		closeComponents(components, log)
		return err
	}
	defer func() {
		if err := radio.Close(); err != nil {
			log.Warn("Failed to close radio", "error", err)
		}
	}()

	log.Info("Starting radio service", "mode", cfg.Mode)
	if err := radio.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Received signal, shutting down", "frames", radio.Frames())
	return nil
}

// loadConfig 加载配置文件，没有配置文件时使用默认值
func loadConfig(configPath string) (core.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("PTTRADIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pttradio")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return core.Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg core.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults 把core.DefaultConfig注册为viper默认值，环境变量只对注册过的键生效
func setDefaults(v *viper.Viper) {
	d := core.DefaultConfig()

	v.SetDefault("mode", d.Mode)

	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.driver", d.Audio.Driver)
	v.SetDefault("audio.hardware_rate", d.Audio.HardwareRate)
	v.SetDefault("audio.hardware_channels", d.Audio.HardwareChannels)
	v.SetDefault("audio.periods", d.Audio.Periods)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.frame_duration", d.Audio.FrameDuration)

	v.SetDefault("codec.bitrate", d.Codec.Bitrate)

	v.SetDefault("radio.initial_state", d.Radio.InitialState)
	v.SetDefault("radio.priming_frames", d.Radio.PrimingFrames)
	v.SetDefault("radio.status_interval", d.Radio.StatusInterval)

	v.SetDefault("transport.type", d.Transport.Type)
	v.SetDefault("transport.serial.port", d.Transport.Serial.Port)
	v.SetDefault("transport.serial.baud_rate", d.Transport.Serial.BaudRate)
	v.SetDefault("transport.serial.read_timeout", d.Transport.Serial.ReadTimeout)
	v.SetDefault("transport.websocket.role", "client")
	v.SetDefault("transport.websocket.url", "")
	v.SetDefault("transport.websocket.listen", "")
	v.SetDefault("transport.websocket.path", "/radio")
	v.SetDefault("transport.websocket.access_token", "")
	v.SetDefault("transport.websocket.protocol_version", 1)
	v.SetDefault("transport.websocket.device_id", "")

	v.SetDefault("ptt.source", d.PTT.Source)
	v.SetDefault("ptt.talk_key", d.PTT.TalkKey)
	v.SetDefault("ptt.signal", d.PTT.Signal)

	v.SetDefault("metrics.listen", d.Metrics.Listen)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.outputs", d.Logging.Outputs)
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config, debug bool) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Outputs: cfg.Logging.Outputs,
	}

	// 调试模式覆盖配置
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	if err := logger.Init(logCfg); err != nil {
		return err
	}
	logger.Debug("Debug mode enabled")
	return nil
}
