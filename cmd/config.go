package main

import "time"

type Config struct {
	BufferSize           int           `env:"BUFFER_SIZE,default=256"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	MaxFrameSize         int64         `env:"MAX_FRAME_SIZE,default=4096"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
	ModerationChar       string        `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	JWTSecret            string        `env:"JWT_SECRET,required=true"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS,default=*"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
}
