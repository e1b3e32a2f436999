package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Mode selects the endpoint set: a live brokerage account or a paper one.
// Both use the same client, only the URLs differ.
type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
)

// Endpoints are the base URLs used in one trading mode
type Endpoints struct {
	// Push is the MQTT-over-websocket gateway for quotes and order updates
	Push  string
	Quote string
	Info  string
	User  string
	// Trade is where orders go: the brokerage in live mode, the paper center otherwise
	Trade string
}

var (
	LiveEndpoints = Endpoints{
		Push:  "wss://wspush.webullbroker.com/mqtt",
		Quote: "https://quotes-gw.webullfintech.com/api",
		Info:  "https://infoapi.webull.com/api",
		User:  "https://userapi.webull.com/api",
		Trade: "https://trade.webullfintech.com/api",
	}
	PaperEndpoints = Endpoints{
		Push:  "wss://wspush.webullbroker.com/mqtt",
		Quote: "https://quotes-gw.webullfintech.com/api",
		Info:  "https://infoapi.webull.com/api",
		User:  "https://userapi.webull.com/api",
		Trade: "https://act.webullfintech.com/webull-paper-center/api",
	}
)

// ErrUnknownMode is returned for a mode that is neither live nor paper
var ErrUnknownMode = errors.New("unknown trading mode")

// EndpointsFor returns the endpoint set of mode
func EndpointsFor(mode Mode) (Endpoints, error) {
	switch mode {
	case ModeLive:
		return LiveEndpoints, nil
	case ModePaper:
		return PaperEndpoints, nil
	}
	return Endpoints{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// Config is what the streaming command needs to run
type Config struct {
	Mode        Mode
	DeviceFile  string
	AccessToken string
	Tickers     []string
	Level       int
	Debug       bool
	// PushURL overrides the push endpoint of Mode when set
	PushURL string
}

// Keys, as set in the environment with the WEBULL_ prefix
const (
	KeyMode        = "mode"
	KeyDeviceFile  = "device_file"
	KeyAccessToken = "access_token"
	KeyTickers     = "tickers"
	KeyLevel       = "level"
	KeyDebug       = "debug"
	KeyPushURL     = "push_url"
)

// SetDefaults installs the defaults and the WEBULL_ environment binding on v
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix("WEBULL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyMode, string(ModeLive))
	v.SetDefault(KeyDeviceFile, "did.bin")
	v.SetDefault(KeyLevel, 105)
	v.SetDefault(KeyDebug, false)
}

// Load reads and validates the configuration from v
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Mode:        Mode(strings.ToLower(v.GetString(KeyMode))),
		DeviceFile:  v.GetString(KeyDeviceFile),
		AccessToken: v.GetString(KeyAccessToken),
		Level:       v.GetInt(KeyLevel),
		Debug:       v.GetBool(KeyDebug),
		PushURL:     v.GetString(KeyPushURL),
	}
	for _, t := range v.GetStringSlice(KeyTickers) {
		for _, id := range strings.Split(t, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Tickers = append(c.Tickers, id)
			}
		}
	}

	ep, err := EndpointsFor(c.Mode)
	if err != nil {
		return c, err
	}
	if c.PushURL == "" {
		c.PushURL = ep.Push
	}
	if c.Level < 101 || c.Level > 108 {
		return c, fmt.Errorf("level %d out of range 101-108", c.Level)
	}
	return c, nil
}
