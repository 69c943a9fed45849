package config

import (
	"os"
	"time"
)

// RelayConfig holds relay server settings, all read from the environment.
type RelayConfig struct {
	Addr            string
	MaxRoomSize     int
	AllowedOrigins  []string
	SendBuffer      int
	ShutdownTimeout time.Duration
}

func LoadRelay() *RelayConfig {
	addr := os.Getenv("RELAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	buffer := envInt("RELAY_SEND_BUFFER", 256)
	if buffer <= 0 {
		buffer = 256
	}

	return &RelayConfig{
		Addr:            addr,
		MaxRoomSize:     envInt("RELAY_MAX_ROOM_SIZE", 8),
		AllowedOrigins:  splitList(os.Getenv("RELAY_ALLOWED_ORIGINS")),
		SendBuffer:      buffer,
		ShutdownTimeout: time.Duration(envInt("RELAY_SHUTDOWN_SECONDS", 10)) * time.Second,
	}
}
