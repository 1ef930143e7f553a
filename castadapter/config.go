package castadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// DefaultNamespace scopes custom message exchange with the receiver
// application when the configuration does not name one.
const DefaultNamespace = "urn:x-cast:com.custom"

// DefaultReceiverAppID is the Default Media Receiver. Custom message
// namespaces usually need a custom receiver application instead.
const DefaultReceiverAppID = "CC1AD845"

var errMissingReceiverAppID = errors.New("castadapter: receiver application ID is required")

// Config is read once at Manager construction and immutable
// afterwards. Changing it means constructing a new Manager.
type Config struct {
	// DeviceAddr is the cast device address, http://host:port or a
	// bare host (port defaults to 8009). Unused when a DeviceContext
	// is injected.
	DeviceAddr string `json:"device_addr" mapstructure:"device_addr"`

	// ReceiverAppID is the receiver application to launch on
	// RequestSession. Required.
	ReceiverAppID string `json:"receiver_app_id" mapstructure:"receiver_app_id"`

	// AutoInitialize makes NewManager kick Initialize off in the
	// background, surfacing failures only through the log.
	AutoInitialize bool `json:"auto_initialize" mapstructure:"auto_initialize"`

	// Namespace is the message channel identifier. Defaults to
	// DefaultNamespace.
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ReceiverAppID) == "" {
		return errMissingReceiverAppID
	}
	return nil
}

// DecodeConfig builds a Config from loosely-typed input, such as a
// parsed settings file, applying defaults. Validation happens at
// Manager construction, not here.
func DecodeConfig(input map[string]any) (Config, error) {
	var cfg Config

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &cfg,
		TagName: "mapstructure",
	})
	if err != nil {
		return Config{}, fmt.Errorf("DecodeConfig: %w", err)
	}

	if err := dec.Decode(input); err != nil {
		return Config{}, fmt.Errorf("DecodeConfig: %w", err)
	}

	return cfg.withDefaults(), nil
}

// LoadConfig reads a JSON settings file into a Config.
func LoadConfig(path string) (Config, error) {
	cfgfile, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("LoadConfig: failed to open config due to error %w", err)
	}
	defer cfgfile.Close()

	raw := make(map[string]any)
	if err := json.NewDecoder(cfgfile).Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("LoadConfig: failed to decode config due to error %w", err)
	}

	return DecodeConfig(raw)
}
