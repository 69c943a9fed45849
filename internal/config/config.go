package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default configuration values. ICE relay credentials have no default: they must
// come from flags or the environment.
const (
	DefaultServer = "localhost:8080"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds participant configuration.
type Config struct {
	// Server is the relay host (or full websocket URL as given).
	Server string

	// WebSocketURL is derived from Server.
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	// ForceRelay restricts ICE to TURN candidates.
	ForceRelay bool

	// Trickle sends candidates as they are gathered instead of one bundled
	// description.
	Trickle bool

	// Name is shown to other participants.
	Name string
}

// Options carry CLI flag values. Zero values fall through to the environment.
type Options struct {
	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	NoTrickle  bool
	Name       string
}

// LoadDotEnv reads a .env file from the working directory if there is one.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := firstNonEmpty(opts.Server, os.Getenv("MESHROOM_SERVER"), DefaultServer)

	wsURL, err := WebSocketURL(server)
	if err != nil {
		return nil, err
	}

	stun := splitList(firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVERS"), os.Getenv("STUN_SERVER"), DefaultSTUN))

	cfg := &Config{
		Server:       server,
		WebSocketURL: wsURL,
		STUNServers:  stun,
		TURNServer:   firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:     firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:     firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ForceRelay:   opts.ForceRelay || envBool("FORCE_RELAY", false),
		Trickle:      !opts.NoTrickle && envBool("TRICKLE", true),
		Name:         firstNonEmpty(opts.Name, os.Getenv("DISPLAY_NAME"), hostname()),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports inconsistent ICE settings.
func (c *Config) Validate() error {
	if c.TURNServer != "" && (c.TURNUser == "" || c.TURNPass == "") {
		return errors.New("TURN server configured without username and password")
	}
	if c.ForceRelay && c.TURNServer == "" {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return nil
}

// WebSocketURL turns a relay host into its websocket endpoint. Full ws:// and
// wss:// URLs are returned unchanged; local hosts default to plain ws.
func WebSocketURL(server string) (string, error) {
	if strings.Contains(server, "://") {
		u, err := url.Parse(server)
		if err != nil {
			return "", fmt.Errorf("invalid server URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
		}
		return u.String(), nil
	}

	scheme := "wss"
	if isLocal(server) {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, server), nil
}

// HTTPURL returns the relay's HTTP base URL for the given path.
func (c *Config) HTTPURL(path string) string {
	u, err := url.Parse(c.WebSocketURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = path
	return u.String()
}

// GetRoomLink returns a shareable link for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return c.HTTPURL("/r/" + url.PathEscape(roomID))
}

// GetSTUNServers returns STUN server URLs
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?transport=") {
		return []string{c.TURNServer}
	}

	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func isLocal(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i > 0 && !strings.HasSuffix(h, "]") {
		h = h[:i]
	}
	return h == "localhost" || strings.HasPrefix(h, "127.") || h == "[::1]"
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "meshroom"
	}
	return name
}
