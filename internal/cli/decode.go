package cli

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/warden/internal/capability"
)

// DecodeOptions holds flags for the decode command.
type DecodeOptions struct {
	*RootOptions
	Codec string
	Tag   bool
}

// DecodeReport holds the decoded capability fields.
type DecodeReport struct {
	Codec      string            `json:"codec"`
	Capability capability.Packed `json:"capability"`
	Sealed     bool              `json:"sealed"`
	Sentry     bool              `json:"sentry"`
	Cursor     string            `json:"cursor"`
	Length     string            `json:"length"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a capability memory image",
		Long: `Decode a raw capability image the way a tagged load would.

The hex string is the granule's big-endian data words. The concentrate
format takes 16 bytes (metadata word, cursor). The magic format takes
16 data bytes plus an optional 16-byte sideband (type/perms word,
inverted length); without the sideband both read as zero. The wide
format takes all 32 bytes in memory order. Spaces and an 0x prefix
are ignored. The tag bit lives outside the data words, so supply it
with --tag; untagged images keep their raw fields for inspection.

Examples:
  warden decode 0x00000000000000000000000000000000
  warden decode --codec wide --tag 0000...32 bytes...
  warden decode --codec magic <16-or-32 bytes> --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Codec, "codec", capability.CodecConcentrate, "capability format (concentrate|magic|wide)")
	cmd.Flags().BoolVar(&opts.Tag, "tag", false, "treat the image as tagged")

	return cmd
}

func runDecode(opts *DecodeOptions, input string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cdc, err := capability.ByName(opts.Codec)
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(normalizeHex(input))
	if err != nil {
		return outputDecodeError(formatter, fmt.Sprintf("invalid hex image: %v", err))
	}

	img, err := imageFor(opts.Codec, raw, opts.Tag)
	if err != nil {
		return outputDecodeError(formatter, err.Error())
	}

	c := cdc.Load(img, 0)
	report := DecodeReport{
		Codec:      opts.Codec,
		Capability: c.Pack(),
		Sealed:     c.IsSealedWithType(),
		Sentry:     c.IsSentry(),
		Cursor:     fmt.Sprintf("0x%016x", c.Cursor()),
		Length:     c.Length().String(),
	}

	return outputDecodeSuccess(formatter, report, &c)
}

// normalizeHex strips the decorations people paste: spaces, underscores
// and a leading 0x.
func normalizeHex(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.TrimPrefix(s, "0x")
	return s
}

// wordImage adapts a decoded hex image to the codec memory view: data
// words in granule order, the tag bit from the flag, and the magic
// sideband when the image carries one.
type wordImage struct {
	words  []uint64
	tag    bool
	m0, m1 uint64
}

func (w *wordImage) ReadWord(addr uint64) uint64 {
	i := int(addr / 8)
	if i < len(w.words) {
		return w.words[i]
	}
	return 0
}

func (w *wordImage) WriteWord(uint64, uint64) {}

func (w *wordImage) ReadTagMeta(uint64) (bool, uint64, uint64) {
	return w.tag, w.m0, w.m1
}

func (w *wordImage) WriteTagMeta(uint64, bool, uint64, uint64) {}

// imageFor validates the image length for the format and splits it into
// data words and sideband.
func imageFor(codecName string, raw []byte, tag bool) (*wordImage, error) {
	img := &wordImage{tag: tag}

	switch codecName {
	case capability.CodecConcentrate:
		if len(raw) != 16 {
			return nil, fmt.Errorf("concentrate image is 16 bytes, got %d", len(raw))
		}
	case capability.CodecMagic:
		if len(raw) != 16 && len(raw) != 32 {
			return nil, fmt.Errorf("magic image is 16 data bytes plus an optional 16-byte sideband, got %d", len(raw))
		}
		if len(raw) == 32 {
			img.m0 = binary.BigEndian.Uint64(raw[16:24])
			img.m1 = binary.BigEndian.Uint64(raw[24:32])
			raw = raw[:16]
		}
	case capability.CodecWide:
		if len(raw) != 32 {
			return nil, fmt.Errorf("wide image is 32 bytes, got %d", len(raw))
		}
	}

	for off := 0; off < len(raw); off += 8 {
		img.words = append(img.words, binary.BigEndian.Uint64(raw[off:off+8]))
	}
	return img, nil
}

// outputDecodeError reports a malformed image. The document is invalid,
// so this exits 1.
func outputDecodeError(formatter *OutputFormatter, message string) error {
	formatter.Error(ErrCodeDecode, message, nil)
	return NewExitError(ExitFailure, message)
}

// outputDecodeSuccess renders the decoded fields.
func outputDecodeSuccess(formatter *OutputFormatter, report DecodeReport, c *capability.Capability) error {
	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: report})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Decoded %s image\n\n", report.Codec)
	fmt.Fprintf(w, "  tag     %t\n", c.Tag)
	fmt.Fprintf(w, "  sealed  %t\n", report.Sealed)
	fmt.Fprintf(w, "  sentry  %t\n", report.Sentry)
	fmt.Fprintf(w, "  base    0x%016x\n", c.Base)
	fmt.Fprintf(w, "  top     %s\n", c.Top.String())
	fmt.Fprintf(w, "  length  %s\n", report.Length)
	fmt.Fprintf(w, "  cursor  %s\n", report.Cursor)
	fmt.Fprintf(w, "  offset  0x%016x\n", c.Offset)
	fmt.Fprintf(w, "  perms   0x%08x\n", uint32(c.Perms))
	fmt.Fprintf(w, "  uperms  %#x\n", uint32(c.UPerms))
	fmt.Fprintf(w, "  otype   %#x\n", uint32(c.OType))
	return nil
}
