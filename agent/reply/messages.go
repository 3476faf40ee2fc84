package reply

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

//go:embed messages.yaml
var defaultMessages []byte

// lastResort is used only if the catalog has no apiError text at all.
const lastResort = "Sorry, something went wrong. Please try again."

var (
	requiredKeys = []contractx.MessageKey{
		contractx.MessageAPIError,
		contractx.MessageChecking,
		contractx.MessageTransferring,
		contractx.MessageHandoff,
		contractx.MessageGreeting,
	}
	channels = []statex.Channel{statex.ChannelVoice, statex.ChannelChat, statex.ChannelSMS}
)

// Catalog maps message key and channel to a fixed reply.
type Catalog map[contractx.MessageKey]map[statex.Channel]string

func parseCatalog(raw []byte) (Catalog, error) {
	var doc map[string]map[string]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("reply: parse messages: %w", err)
	}

	out := make(Catalog, len(doc))
	for key, perChannel := range doc {
		entry := make(map[statex.Channel]string, len(perChannel))
		for ch, text := range perChannel {
			channel := statex.Channel(strings.ToLower(strings.TrimSpace(ch)))
			if !channel.Valid() {
				return nil, fmt.Errorf("reply: message %s has unknown channel %q", key, ch)
			}
			entry[channel] = strings.TrimSpace(text)
		}
		out[contractx.MessageKey(key)] = entry
	}
	return out, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() Catalog {
	c, err := parseCatalog(defaultMessages)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalogFile reads a YAML file with the same layout as the embedded one.
func LoadCatalogFile(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reply: read messages: %w", err)
	}
	return parseCatalog(raw)
}

// Merge overlays o onto c. Empty texts in o are ignored.
func (c Catalog) Merge(o Catalog) Catalog {
	out := make(Catalog, len(c)+len(o))
	for key, entry := range c {
		cp := make(map[statex.Channel]string, len(entry))
		for ch, text := range entry {
			cp[ch] = text
		}
		out[key] = cp
	}
	for key, entry := range o {
		if out[key] == nil {
			out[key] = make(map[statex.Channel]string, len(entry))
		}
		for ch, text := range entry {
			if text != "" {
				out[key][ch] = text
			}
		}
	}
	return out
}

// Missing lists "key/channel" pairs without text.
func (c Catalog) Missing() []string {
	var out []string
	for _, key := range requiredKeys {
		for _, ch := range channels {
			if c[key][ch] == "" {
				out = append(out, string(key)+"/"+string(ch))
			}
		}
	}
	return out
}

func (c Catalog) lookup(key contractx.MessageKey, channel statex.Channel) string {
	if text := c[key][channel]; text != "" {
		return text
	}
	if text := c[contractx.MessageAPIError][channel]; text != "" {
		return text
	}
	if text := c[contractx.MessageAPIError][statex.ChannelSMS]; text != "" {
		return text
	}
	return lastResort
}
