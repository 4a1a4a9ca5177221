package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/warden/internal/capability"
	"github.com/roach88/warden/internal/harness"
	"github.com/roach88/warden/internal/snapshot"
)

// SnapshotSaveOptions holds flags for the snapshot save command.
type SnapshotSaveOptions struct {
	*RootOptions
	Out string
}

// SnapshotSaveReport describes a captured image.
type SnapshotSaveReport struct {
	Scenario string `json:"scenario"`
	Codec    string `json:"codec"`
	Identity string `json:"identity"`
	Out      string `json:"out"`
	Retired  int64  `json:"retired"`
	Pages    int    `json:"pages"`
	Granules int    `json:"granules"`
}

// SnapshotShowReport describes an image on disk.
type SnapshotShowReport struct {
	Version   uint32 `json:"version"`
	Identity  string `json:"identity"`
	Retired   int64  `json:"retired"`
	CapCause  uint16 `json:"cap_cause"`
	Mode      string `json:"mode"`
	Linked    bool   `json:"linked"`
	Registers int    `json:"registers"`
	Pages     int    `json:"pages"`
	Granules  int    `json:"granules"`
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture, inspect and restore machine images",
		Long: `Work with serialized machine images.

An image is the full architectural state after a scenario: every
capability register in packed form, the memory pages and tag store,
the retire count and the cause register, pinned to the identity hash
of the machine definition it was captured under. Restore rejects an
image whose identity does not match the definition it is given.`,
	}

	cmd.AddCommand(newSnapshotSaveCommand(rootOpts))
	cmd.AddCommand(newSnapshotShowCommand(rootOpts))
	cmd.AddCommand(newSnapshotRestoreCommand(rootOpts))

	return cmd
}

func newSnapshotSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotSaveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save <scenario.yaml>",
		Short: "Run a scenario and capture the final machine state",
		Long: `Run one scenario and write the closing machine state to a file.

The scenario executes under the codec its machine definition names;
there is no codec override, because the image's memory pages are
encoded under that codec and the definition is what Restore rebuilds
the machine from. A scenario whose expectations fail produces no
image.

Examples:
  warden snapshot save scenario.yaml --out after.wsnap`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotSave(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "image output path (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runSnapshotSave(opts *SnapshotSaveOptions, scenarioPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sc, loadErr := LoadScenario(scenarioPath)
	if loadErr != nil {
		return outputLoadError(formatter, loadErr)
	}

	def, err := sc.CompiledDefinition()
	if err != nil {
		return outputCommandError(formatter, ErrCodeCompileFailed, fmt.Sprintf("machine definition: %v", err))
	}
	identity, err := def.Identity()
	if err != nil {
		return outputCommandError(formatter, ErrCodeCompileFailed, fmt.Sprintf("definition identity: %v", err))
	}

	slog.Info("running scenario for capture", "scenario", sc.Name, "codec", def.Codec)
	res, err := harness.RunCodec(sc, def.Codec)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}
	if !res.Pass {
		message := fmt.Sprintf("scenario %s failed %d expectation(s); no image written", sc.Name, len(res.Errors))
		formatter.Error(ErrCodeSnapshot, message, res.Errors)
		return NewExitError(ExitFailure, message)
	}

	img := snapshot.Capture(res.Machine, identity)

	f, err := os.Create(opts.Out)
	if err != nil {
		return outputCommandError(formatter, ErrCodeWriteFailed, err.Error())
	}
	if err := img.Save(f); err != nil {
		f.Close()
		return outputCommandError(formatter, ErrCodeWriteFailed, err.Error())
	}
	if err := f.Close(); err != nil {
		return outputCommandError(formatter, ErrCodeWriteFailed, err.Error())
	}

	report := SnapshotSaveReport{
		Scenario: sc.Name,
		Codec:    def.Codec,
		Identity: identity,
		Out:      opts.Out,
		Retired:  img.Retired,
		Pages:    len(img.Pages),
		Granules: len(img.Granules),
	}
	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: report})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Captured %s after %d op(s)\n\n", sc.Name, report.Retired)
	fmt.Fprintf(w, "  codec     %s\n", report.Codec)
	fmt.Fprintf(w, "  identity  %s\n", report.Identity)
	fmt.Fprintf(w, "  pages     %d\n", report.Pages)
	fmt.Fprintf(w, "  granules  %d\n", report.Granules)
	fmt.Fprintf(w, "  written   %s\n", report.Out)
	return nil
}

func newSnapshotShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <image>",
		Short: "Print the contents of a machine image",
		Long: `Print an image's identity and state summary.

With --verbose, every capability register is decoded from its packed
form and listed by name.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotShow(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSnapshotShow(opts *RootOptions, imagePath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	img, cmdErr := loadImage(formatter, imagePath)
	if cmdErr != nil {
		return cmdErr
	}

	report := SnapshotShowReport{
		Version:   img.Version,
		Identity:  img.Identity,
		Retired:   img.Retired,
		CapCause:  img.CapCause,
		Mode:      img.Mode,
		Linked:    img.Linked,
		Registers: len(img.Registers),
		Pages:     len(img.Pages),
		Granules:  len(img.Granules),
	}
	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: report})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Image %s\n\n", imagePath)
	fmt.Fprintf(w, "  version    %d\n", report.Version)
	fmt.Fprintf(w, "  identity   %s\n", report.Identity)
	fmt.Fprintf(w, "  retired    %d\n", report.Retired)
	fmt.Fprintf(w, "  cap cause  %#06x\n", report.CapCause)
	fmt.Fprintf(w, "  mode       %s\n", report.Mode)
	fmt.Fprintf(w, "  linked     %t\n", report.Linked)
	fmt.Fprintf(w, "  registers  %d\n", report.Registers)
	fmt.Fprintf(w, "  pages      %d\n", report.Pages)
	fmt.Fprintf(w, "  granules   %d\n", report.Granules)

	if formatter.Verbose {
		names := make([]string, 0, len(img.Registers))
		for name := range img.Registers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w)
		for _, name := range names {
			c := capability.FromPacked(img.Registers[name])
			fmt.Fprintf(w, "  %-16s %s\n", name, c.String())
		}
	}
	return nil
}

func newSnapshotRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <image> <def.cue>",
		Short: "Rebuild a machine from an image and dump its state",
		Long: `Restore an image into a machine built from the definition.

The definition's identity hash must match the one the image was
captured under. On success the restored machine's full register dump
is printed, retire clock resumed at the image's count.

Examples:
  warden snapshot restore after.wsnap machine.cue`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotRestore(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runSnapshotRestore(opts *RootOptions, imagePath, defPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	img, cmdErr := loadImage(formatter, imagePath)
	if cmdErr != nil {
		return cmdErr
	}

	def, loadErr := LoadDefinition(defPath)
	if loadErr != nil {
		return outputLoadError(formatter, loadErr)
	}

	m, err := snapshot.Restore(img, def)
	if err != nil {
		return outputCommandError(formatter, ErrCodeSnapshot, err.Error())
	}

	if formatter.Format == "json" {
		report := SnapshotShowReport{
			Version:   img.Version,
			Identity:  img.Identity,
			Retired:   m.RetireCount(),
			CapCause:  m.CauseRegister(),
			Mode:      img.Mode,
			Linked:    m.Linked(),
			Registers: len(img.Registers),
			Pages:     len(img.Pages),
			Granules:  len(img.Granules),
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: report})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Restored %s under %s\n\n", imagePath, def.Name)
	if err := m.DumpState(w); err != nil {
		return err
	}
	return nil
}

// loadImage opens and decodes one image file, mapping failures onto the
// CLI error codes.
func loadImage(formatter *OutputFormatter, path string) (*snapshot.Image, error) {
	if loadErr := statFile(path); loadErr != nil {
		return nil, outputLoadError(formatter, loadErr)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeNotFound, err.Error())
	}
	defer f.Close()

	img, err := snapshot.Load(f)
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeSnapshot, err.Error())
	}
	return img, nil
}
