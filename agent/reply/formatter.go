// Package reply turns model text into channel-ready replies and serves the
// fixed message catalog.
package reply

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
)

var (
	bareURL       = regexp.MustCompile(`https?://[^\s)]+`)
	spaceRun      = regexp.MustCompile(`[ \t]+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
	spaceNewline  = regexp.MustCompile(` *\n *`)
	sentenceFinal = ".!?:;…"
)

type Formatter struct {
	parser   parser.Parser
	messages Catalog
}

var _ contractx.ReplyFormatter = (*Formatter)(nil)

type Option func(*Formatter)

// WithCatalog overlays c onto the embedded catalog.
func WithCatalog(c Catalog) Option {
	return func(f *Formatter) {
		f.messages = f.messages.Merge(c)
	}
}

func New(opts ...Option) *Formatter {
	f := &Formatter{
		parser:   goldmark.New().Parser(),
		messages: DefaultCatalog(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *Formatter) FixedMessage(key contractx.MessageKey, channel statex.Channel) string {
	return f.messages.lookup(key, channel)
}

// Format renders markdown-ish model output for the channel.
func (f *Formatter) Format(input string, channel statex.Channel) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	src := []byte(input)
	doc := f.parser.Parse(text.NewReader(src))
	r := &renderer{src: src, channel: channel}
	out := r.blocks(doc)

	switch channel {
	case statex.ChannelVoice:
		out = bareURL.ReplaceAllString(out, "")
		out = stripEmoji(out)
		out = strings.Join(strings.Fields(out), " ")
	case statex.ChannelSMS:
		out = stripEmoji(out)
		out = tidy(out)
	default:
		out = tidy(out)
	}
	return strings.TrimSpace(out)
}

type renderer struct {
	src     []byte
	channel statex.Channel
}

func (r *renderer) blockSep() string {
	switch r.channel {
	case statex.ChannelVoice:
		return " "
	case statex.ChannelSMS:
		return "\n"
	default:
		return "\n\n"
	}
}

func (r *renderer) blocks(parent ast.Node) string {
	var parts []string
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if s := strings.TrimSpace(r.block(n)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, r.blockSep())
}

func (r *renderer) block(n ast.Node) string {
	switch node := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return r.inlines(node)
	case *ast.Heading:
		title := r.inlines(node)
		switch r.channel {
		case statex.ChannelChat:
			return "*" + title + "*"
		case statex.ChannelVoice:
			return sentence(title)
		default:
			return title
		}
	case *ast.List:
		return r.list(node)
	case *ast.FencedCodeBlock:
		return r.lines(node)
	case *ast.CodeBlock:
		return r.lines(node)
	case *ast.Blockquote:
		return r.blocks(node)
	case *ast.ThematicBreak, *ast.HTMLBlock:
		return ""
	default:
		return r.blocks(node)
	}
}

func (r *renderer) list(l *ast.List) string {
	var items []string
	i := l.Start
	if i == 0 {
		i = 1
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		body := strings.TrimSpace(r.blocks(item))
		if body == "" {
			continue
		}
		switch r.channel {
		case statex.ChannelVoice:
			items = append(items, sentence(body))
		case statex.ChannelChat:
			if l.IsOrdered() {
				items = append(items, strconv.Itoa(i)+". "+body)
			} else {
				items = append(items, "• "+body)
			}
		default:
			if l.IsOrdered() {
				items = append(items, strconv.Itoa(i)+". "+body)
			} else {
				items = append(items, "- "+body)
			}
		}
		i++
	}
	if r.channel == statex.ChannelVoice {
		return strings.Join(items, " ")
	}
	return strings.Join(items, "\n")
}

func (r *renderer) lines(n ast.Node) string {
	var b strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(r.src))
	}
	body := strings.TrimRight(b.String(), "\n")
	if r.channel == statex.ChannelChat {
		return "```\n" + body + "\n```"
	}
	return body
}

func (r *renderer) inlines(parent ast.Node) string {
	var b strings.Builder
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		b.WriteString(r.inline(n))
	}
	return b.String()
}

func (r *renderer) inline(n ast.Node) string {
	switch node := n.(type) {
	case *ast.Text:
		s := string(node.Segment.Value(r.src))
		switch {
		case node.HardLineBreak():
			if r.channel == statex.ChannelVoice {
				return s + " "
			}
			return s + "\n"
		case node.SoftLineBreak():
			if r.channel == statex.ChannelChat {
				return s + "\n"
			}
			return s + " "
		}
		return s
	case *ast.String:
		return string(node.Value)
	case *ast.Emphasis:
		inner := r.inlines(node)
		if r.channel != statex.ChannelChat || strings.TrimSpace(inner) == "" {
			return inner
		}
		if node.Level >= 2 {
			return "*" + inner + "*"
		}
		return "_" + inner + "_"
	case *ast.CodeSpan:
		return r.inlines(node)
	case *ast.Link:
		label := strings.TrimSpace(r.inlines(node))
		dest := string(node.Destination)
		return r.link(label, dest)
	case *ast.AutoLink:
		url := string(node.URL(r.src))
		return r.link("", url)
	case *ast.Image:
		return r.inlines(node)
	case *ast.RawHTML:
		return ""
	default:
		return r.inlines(node)
	}
}

func (r *renderer) link(label, dest string) string {
	switch {
	case r.channel == statex.ChannelVoice:
		return label
	case label == "" || label == dest:
		return dest
	case r.channel == statex.ChannelChat:
		return label + " (" + dest + ")"
	default:
		return label + " " + dest
	}
}

// sentence makes a fragment end like a sentence so text-to-speech pauses.
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	if strings.ContainsRune(sentenceFinal, last) {
		return s
	}
	return s + "."
}

func stripEmoji(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\u200d', r == '\ufe0f', r == '\u20e3':
			return -1
		case r >= 0x1F000 && r <= 0x1FAFF:
			return -1
		case unicode.Is(unicode.So, r):
			return -1
		}
		return r
	}, s)
}

func tidy(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceNewline.ReplaceAllString(s, "\n")
	return blankLines.ReplaceAllString(s, "\n\n")
}
