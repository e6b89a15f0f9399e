package app

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"peerlink/internal/domain"
	plog "peerlink/internal/log"
	"peerlink/internal/services/identity"
)

const (
	defaultListenAddress        = "0.0.0.0"
	defaultDataPort             = 8001
	defaultDiscoveryPort        = 8002
	defaultBeaconInterval       = 3 * time.Second
	defaultExpiryMultiplier     = 3
	defaultConnectTimeout       = 5 * time.Second
	defaultHandshakeTimeout     = 5 * time.Second
	defaultMaxReconnectAttempts = 3
	defaultReconnectBaseDelay   = 500 * time.Millisecond
	defaultReconnectMaxDelay    = 10 * time.Second
	defaultFailureThreshold     = 3
	defaultKeepaliveInterval    = 15 * time.Second
	defaultStatusAddress        = "127.0.0.1:8000"
	defaultLogLevel             = "NOTICE"
)

var defaultCapabilities = []string{"clipboard", "gesture", "text"}

// Duration is a time.Duration written as a Go duration string ("3s") in the
// config file.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Node is the local node configuration.
type Node struct {
	// Name is the identity prefix; the hostname when empty.
	Name string

	// ListenAddress is the IP the data listener binds to.
	ListenAddress string

	// DataPort is the TCP port sessions are accepted on. Zero picks a free
	// port, which is then advertised in beacons.
	DataPort int

	// AutoConnect opens a session with every newly discovered peer.
	AutoConnect bool

	// Capabilities lists the payload kinds this node handles.
	Capabilities []string
}

func (nCfg *Node) applyDefaults() {
	if nCfg.ListenAddress == "" {
		nCfg.ListenAddress = defaultListenAddress
	}
	if nCfg.Capabilities == nil {
		nCfg.Capabilities = append([]string(nil), defaultCapabilities...)
	}
}

func (nCfg *Node) validate() error {
	if net.ParseIP(nCfg.ListenAddress) == nil {
		return fmt.Errorf("config: Node: ListenAddress '%v' is not an IP address", nCfg.ListenAddress)
	}
	if nCfg.DataPort < 0 || nCfg.DataPort > 65535 {
		return fmt.Errorf("config: Node: DataPort %d is out of range", nCfg.DataPort)
	}
	if _, err := domain.ParseCapabilities(nCfg.Capabilities); err != nil {
		return fmt.Errorf("config: Node: %w", err)
	}
	return nil
}

// Discovery is the beacon configuration.
type Discovery struct {
	// Disable turns off announcing and listening; peers can still be
	// connected to by address.
	Disable bool

	// Port is the UDP port shared by all nodes on the LAN.
	Port int

	// Interval is the time between announcements.
	Interval Duration

	// ExpiryMultiplier sets the registry expiry to Interval times this value.
	ExpiryMultiplier int

	// Targets overrides the automatically computed broadcast addresses.
	Targets []string
}

func (dCfg *Discovery) applyDefaults() {
	if dCfg.Port == 0 {
		dCfg.Port = defaultDiscoveryPort
	}
	if dCfg.Interval == 0 {
		dCfg.Interval = Duration(defaultBeaconInterval)
	}
	if dCfg.ExpiryMultiplier == 0 {
		dCfg.ExpiryMultiplier = defaultExpiryMultiplier
	}
}

func (dCfg *Discovery) validate() error {
	if dCfg.Port < 1 || dCfg.Port > 65535 {
		return fmt.Errorf("config: Discovery: Port %d is out of range", dCfg.Port)
	}
	if dCfg.Interval < Duration(10*time.Millisecond) {
		return fmt.Errorf("config: Discovery: Interval %v is too short", dCfg.Interval.D())
	}
	if dCfg.ExpiryMultiplier < 3 {
		return fmt.Errorf("config: Discovery: ExpiryMultiplier must be at least 3, got %d", dCfg.ExpiryMultiplier)
	}
	return nil
}

// Expiry is how long a peer stays live without a beacon.
func (dCfg *Discovery) Expiry() time.Duration {
	return dCfg.Interval.D() * time.Duration(dCfg.ExpiryMultiplier)
}

// Session is the session and connection configuration.
type Session struct {
	// Secret is the pre-shared application secret all nodes are keyed with.
	Secret string

	ConnectTimeout   Duration
	HandshakeTimeout Duration

	// MaxReconnectAttempts bounds the redials after a session is lost;
	// zero disables reconnection.
	MaxReconnectAttempts int
	ReconnectBaseDelay   Duration
	ReconnectMaxDelay    Duration

	// FailureThreshold is the number of consecutive rejected envelopes
	// that ends a session.
	FailureThreshold int

	// KeepaliveInterval is the ping period; zero disables keepalives.
	KeepaliveInterval Duration
}

func (sCfg *Session) applyDefaults() {
	if sCfg.ConnectTimeout == 0 {
		sCfg.ConnectTimeout = Duration(defaultConnectTimeout)
	}
	if sCfg.HandshakeTimeout == 0 {
		sCfg.HandshakeTimeout = Duration(defaultHandshakeTimeout)
	}
	if sCfg.ReconnectBaseDelay == 0 {
		sCfg.ReconnectBaseDelay = Duration(defaultReconnectBaseDelay)
	}
	if sCfg.ReconnectMaxDelay == 0 {
		sCfg.ReconnectMaxDelay = Duration(defaultReconnectMaxDelay)
	}
	if sCfg.FailureThreshold == 0 {
		sCfg.FailureThreshold = defaultFailureThreshold
	}
}

func (sCfg *Session) validate() error {
	if sCfg.Secret == "" {
		return errors.New("config: Session: Secret is not set")
	}
	if err := identity.CheckSecret(sCfg.Secret); err != nil {
		return fmt.Errorf("config: Session: %w", err)
	}
	if sCfg.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: Session: MaxReconnectAttempts %d is negative", sCfg.MaxReconnectAttempts)
	}
	if sCfg.ReconnectMaxDelay < sCfg.ReconnectBaseDelay {
		return errors.New("config: Session: ReconnectMaxDelay is below ReconnectBaseDelay")
	}
	if sCfg.FailureThreshold < 1 {
		return fmt.Errorf("config: Session: FailureThreshold %d must be positive", sCfg.FailureThreshold)
	}
	if sCfg.KeepaliveInterval < 0 {
		return errors.New("config: Session: KeepaliveInterval is negative")
	}
	return nil
}

// Status is the status API configuration.
type Status struct {
	Disable bool

	// Address is the host:port the API listens on.
	Address string
}

func (sCfg *Status) applyDefaults() {
	if sCfg.Address == "" {
		sCfg.Address = defaultStatusAddress
	}
}

func (sCfg *Status) validate() error {
	if sCfg.Disable {
		return nil
	}
	if _, _, err := net.SplitHostPort(sCfg.Address); err != nil {
		return fmt.Errorf("config: Status: Address '%v': %w", sCfg.Address, err)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch {
	case lvl == "":
		lCfg.Level = defaultLogLevel
		return nil
	case !plog.ValidLevel(lvl):
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Config is the top level peerlink configuration.
type Config struct {
	Node      *Node
	Discovery *Discovery
	Session   *Session
	Status    *Status
	Logging   *Logging
}

// Default returns a configuration with every default applied and no secret.
func Default() *Config {
	cfg := new(Config)
	cfg.fixup()
	return cfg
}

func (cfg *Config) fixup() {
	if cfg.Node == nil {
		cfg.Node = &Node{DataPort: defaultDataPort, AutoConnect: true}
	}
	if cfg.Discovery == nil {
		cfg.Discovery = &Discovery{}
	}
	if cfg.Session == nil {
		cfg.Session = &Session{
			MaxReconnectAttempts: defaultMaxReconnectAttempts,
			KeepaliveInterval:    Duration(defaultKeepaliveInterval),
		}
	}
	if cfg.Status == nil {
		cfg.Status = &Status{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &Logging{Level: defaultLogLevel}
	}
	cfg.Node.applyDefaults()
	cfg.Discovery.applyDefaults()
	cfg.Session.applyDefaults()
	cfg.Status.applyDefaults()
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration. Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	cfg.fixup()
	if err := cfg.Node.validate(); err != nil {
		return err
	}
	if err := cfg.Discovery.validate(); err != nil {
		return err
	}
	if err := cfg.Session.validate(); err != nil {
		return err
	}
	if err := cfg.Status.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config. Keys absent from b keep their defaults. Each override
// is applied after parsing and before validation, so command line flags can
// supply values the file leaves out.
func Load(b []byte, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	for _, fn := range overrides {
		fn(cfg)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string, overrides ...func(*Config)) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, overrides...)
}

// WriteFile encodes cfg as TOML and atomically replaces path with it. The
// file holds the secret, so it is written owner-readable only.
func WriteFile(path string, cfg *Config) error {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes(), 0o600)
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
