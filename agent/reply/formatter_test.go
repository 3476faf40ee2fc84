package reply

import (
	"os"
	"path/filepath"
	"testing"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

const sampleReply = "**Opening hours**\n\n- Sun: 9-18\n- Fri: closed\n\nSee [site](https://ex.com)"

func TestFormatPerChannel(t *testing.T) {
	t.Parallel()

	f := New()
	tests := []struct {
		name    string
		input   string
		channel statex.Channel
		want    string
	}{
		{
			name:    "chat markdown",
			input:   sampleReply,
			channel: statex.ChannelChat,
			want:    "*Opening hours*\n\n• Sun: 9-18\n• Fri: closed\n\nSee site (https://ex.com)",
		},
		{
			name:    "sms markdown",
			input:   sampleReply,
			channel: statex.ChannelSMS,
			want:    "Opening hours\n- Sun: 9-18\n- Fri: closed\nSee site https://ex.com",
		},
		{
			name:    "voice markdown",
			input:   sampleReply,
			channel: statex.ChannelVoice,
			want:    "Opening hours Sun: 9-18. Fri: closed. See site",
		},
		{name: "voice drops emoji", input: "Great 👍 see you", channel: statex.ChannelVoice, want: "Great see you"},
		{name: "voice drops bare url", input: "Visit https://ex.com/a today", channel: statex.ChannelVoice, want: "Visit today"},
		{name: "chat heading", input: "# Prices\nA costs 5", channel: statex.ChannelChat, want: "*Prices*\n\nA costs 5"},
		{name: "chat italic", input: "see you *soon*", channel: statex.ChannelChat, want: "see you _soon_"},
		{name: "sms ordered list", input: "1. one\n2. two", channel: statex.ChannelSMS, want: "1. one\n2. two"},
		{name: "hebrew passthrough", input: "שלום, מה שלומך?", channel: statex.ChannelSMS, want: "שלום, מה שלומך?"},
		{name: "empty", input: "   ", channel: statex.ChannelChat, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := f.Format(tt.input, tt.channel); got != tt.want {
				t.Fatalf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultCatalogIsComplete(t *testing.T) {
	t.Parallel()

	if missing := DefaultCatalog().Missing(); len(missing) != 0 {
		t.Fatalf("embedded catalog is missing %v", missing)
	}
}

func TestFixedMessageFallsBackToAPIError(t *testing.T) {
	t.Parallel()

	f := New()
	want := f.FixedMessage(contractx.MessageAPIError, statex.ChannelSMS)
	if got := f.FixedMessage("nope", statex.ChannelSMS); got != want {
		t.Fatalf("FixedMessage(unknown) = %q, want %q", got, want)
	}

	empty := &Formatter{messages: Catalog{}}
	if got := empty.FixedMessage(contractx.MessageChecking, statex.ChannelVoice); got != lastResort {
		t.Fatalf("FixedMessage(empty catalog) = %q", got)
	}
}

func TestLoadCatalogFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "messages.yaml")
	if err := os.WriteFile(path, []byte("checking:\n  voice: \"One moment please.\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	override, err := LoadCatalogFile(path)
	if err != nil {
		t.Fatalf("LoadCatalogFile() error = %v", err)
	}

	f := New(WithCatalog(override))
	if got := f.FixedMessage(contractx.MessageChecking, statex.ChannelVoice); got != "One moment please." {
		t.Fatalf("override not applied: %q", got)
	}
	if got := f.FixedMessage(contractx.MessageChecking, statex.ChannelChat); got != DefaultCatalog()[contractx.MessageChecking][statex.ChannelChat] {
		t.Fatalf("untouched entry changed: %q", got)
	}
}

func TestLoadCatalogFileRejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "messages.yaml")
	if err := os.WriteFile(path, []byte("checking:\n  fax: \"...\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadCatalogFile(path); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
