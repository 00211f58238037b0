package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chloezql/breakingnews-sub001/client"
	"github.com/chloezql/breakingnews-sub001/domain"
	"github.com/chloezql/breakingnews-sub001/protocol"
	"github.com/chloezql/breakingnews-sub001/relay"
	ws "github.com/chloezql/breakingnews-sub001/websocket"
)

const envPrefix = "BREAKINGNEWS"

type Config struct {
	bind           string
	chime          bool
	defaultRole    string
	logLevel       string
	maxMessageSize int64
	port           int
	profile        bool
	scannerTypes   []string
	sendBuffer     int
	viewerTypes    []string
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.sendBuffer < 1 {
		return fmt.Errorf("invalid send buffer (must be positive): %d", c.sendBuffer)
	}
	if c.maxMessageSize < 64 {
		return fmt.Errorf("invalid max message size (must be at least 64 bytes): %d", c.maxMessageSize)
	}
	if _, err := c.roles(); err != nil {
		return err
	}
	return validateLogLevel(c.logLevel)
}

func (c *Config) roles() (protocol.RoleMap, error) {
	return protocol.NewRoleMap(c.viewerTypes, c.scannerTypes, domain.Role(c.defaultRole))
}

func (c *Config) relayConfig() (relay.Config, error) {
	roles, err := c.roles()
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Bind:           c.bind,
		Port:           c.port,
		Chime:          c.chime,
		ChimeOut:       os.Stderr,
		Roles:          roles,
		SendBuffer:     c.sendBuffer,
		MaxMessageSize: c.maxMessageSize,
		Profile:        c.profile,
		Version:        releaseVersion,
	}, nil
}

// clientConfig holds the flags shared by the commands that connect to a
// relay instead of running one.
type clientConfig struct {
	deviceID    string
	deviceType  string
	maxAttempts int
	retryDelay  time.Duration
	url         string
}

func (c *clientConfig) validate() error {
	if c.url == "" {
		return errors.New("--url is required")
	}
	if !strings.HasPrefix(c.url, "ws://") && !strings.HasPrefix(c.url, "wss://") {
		return fmt.Errorf("invalid relay url (must start with ws:// or wss://): %s", c.url)
	}
	if c.deviceType == "" {
		return errors.New("--device-type must not be empty")
	}
	if c.maxAttempts < 1 {
		return fmt.Errorf("invalid max attempts (must be positive): %d", c.maxAttempts)
	}
	if c.retryDelay <= 0 {
		return fmt.Errorf("invalid retry delay (must be positive): %s", c.retryDelay)
	}
	return nil
}

func (c *clientConfig) options() client.Options {
	return client.Options{
		URL:         c.url,
		DeviceID:    c.deviceID,
		DeviceType:  c.deviceType,
		RetryDelay:  c.retryDelay,
		MaxAttempts: c.maxAttempts,
	}
}

func (c *clientConfig) register(fs *pflag.FlagSet, deviceType string) {
	fs.StringVar(&c.deviceID, "device-id", "", "device id announced to the relay; generated when empty (env: BREAKINGNEWS_DEVICE_ID)")
	fs.StringVar(&c.deviceType, "device-type", deviceType, "device type announced to the relay (env: BREAKINGNEWS_DEVICE_TYPE)")
	fs.IntVar(&c.maxAttempts, "max-attempts", client.DefaultMaxAttempts, "reconnection attempts before giving up (env: BREAKINGNEWS_MAX_ATTEMPTS)")
	fs.DurationVar(&c.retryDelay, "retry-delay", client.DefaultRetryDelay, "delay between reconnection attempts (env: BREAKINGNEWS_RETRY_DELAY)")
	fs.StringVar(&c.url, "url", "ws://localhost:8080/ws", "relay websocket url (env: BREAKINGNEWS_URL)")
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level (must be one of debug, info, warn, error): %s", level)
}

func normalizeFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// bindEnv lets every flag in fs be set from BREAKINGNEWS_<FLAG>.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "breakingnews-relay",
		Short:         "Relays RFID card scans from reader devices to Breaking News game screens.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bindEnv(v, cmd.Flags())
			if err := validateLogLevel(cfg.logLevel); err != nil {
				return err
			}
			setupLogger(cfg.logLevel)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			rc, err := cfg.relayConfig()
			if err != nil {
				return err
			}
			return relay.New(rc).ListenAndServe(cmd.Context())
		},
	}

	pfs := cmd.PersistentFlags()
	normalizeFlags(pfs)
	pfs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, error (env: BREAKINGNEWS_LOG_LEVEL)")

	fs := cmd.Flags()
	normalizeFlags(fs)
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BREAKINGNEWS_BIND)")
	fs.BoolVar(&cfg.chime, "chime", true, "ring the terminal bell on each scan (env: BREAKINGNEWS_CHIME)")
	fs.StringVar(&cfg.defaultRole, "default-role", string(domain.RoleScanner), "role for unlisted device types: scanner or viewer (env: BREAKINGNEWS_DEFAULT_ROLE)")
	fs.Int64Var(&cfg.maxMessageSize, "max-message-size", ws.DefaultMaxMessageSize, "largest inbound frame in bytes (env: BREAKINGNEWS_MAX_MESSAGE_SIZE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BREAKINGNEWS_PORT)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BREAKINGNEWS_PROFILE)")
	fs.StringSliceVar(&cfg.scannerTypes, "scanner-device-types", protocol.DefaultScannerTypes, "device types classified as scanners (env: BREAKINGNEWS_SCANNER_DEVICE_TYPES)")
	fs.IntVar(&cfg.sendBuffer, "send-buffer", ws.DefaultSendBuffer, "outbound frames queued per connection (env: BREAKINGNEWS_SEND_BUFFER)")
	fs.StringSliceVar(&cfg.viewerTypes, "viewer-device-types", protocol.DefaultViewerTypes, "device types classified as viewers (env: BREAKINGNEWS_VIEWER_DEVICE_TYPES)")

	cmd.AddCommand(newScannerCmd(), newWatchCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("breakingnews-relay v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
