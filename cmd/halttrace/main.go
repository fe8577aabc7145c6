package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/didi/halttrace/internal/backtrace"
	"github.com/didi/halttrace/internal/buildinfo"
	"github.com/didi/halttrace/internal/log"
	"github.com/didi/halttrace/pkg/elf"
	"github.com/didi/halttrace/pkg/probelock"
	"github.com/didi/halttrace/pkg/target"
)

const (
	exitLoadError   = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func newFlagSet(v *viper.Viper) (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet("halttrace", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "config file path")
	fs.String("elf", "", "firmware image (ELF)")
	fs.String("snapshot", "", "halted core snapshot (YAML)")
	fs.String("backtrace", "auto", "when to print the backtrace: auto, never, always")
	fs.Int("backtrace-limit", backtrace.DefaultFrameLimit, "number of frames to print, 0 prints all")
	fs.Bool("shorten-paths", false, "print source paths relative to the working directory")
	fs.String("color", "auto", "colorize the backtrace: auto, always, never")
	fs.String("ram-start", "", "first address of the stack RAM region, overrides the snapshot")
	fs.String("ram-end", "", "last address of the stack RAM region, overrides the snapshot")
	fs.String("lock-dir", filepath.Join(os.TempDir(), "halttrace"), "probe lock directory")
	fs.String("log-level", "info", "log level")
	fs.String("log-dir", "", "directory of the rotated log file, empty disables it")
	fs.Int("log-keep-days", 7, "days to keep rotated log files")
	fs.BoolP("version", "v", false, "print version and exit")

	keys := map[string]string{
		"elf":             "elf",
		"snapshot":        "snapshot",
		"backtrace":       "backtrace",
		"backtrace-limit": "backtrace-limit",
		"shorten-paths":   "shorten-paths",
		"color":           "color",
		"ram-start":       "ram.start",
		"ram-end":         "ram.end",
		"lock-dir":        "lock.dir",
		"log-level":       "log.level",
		"log-dir":         "log.dir",
		"log-keep-days":   "log.keep_days",
	}
	for name, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func initViper(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetEnvPrefix("HALTTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFile, _ := fs.GetString("config")
	if configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	return v.ReadInConfig()
}

func run(args []string, stdout, stderr io.Writer) int {
	v := viper.New()
	fs, err := newFlagSet(v)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfigError
	}
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return exitConfigError
	}

	if version, _ := fs.GetBool("version"); version {
		fmt.Fprintln(stdout, "Version:", buildinfo.Version)
		fmt.Fprintln(stdout, "Git commit:", buildinfo.CommitID)
		fmt.Fprintln(stdout, "Build time:", buildinfo.BuildTime)
		return 0
	}

	if err := initViper(v, fs); err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitConfigError
	}
	if fs.NArg() > 0 {
		v.Set("elf", fs.Arg(0))
	}

	err = log.InitLogger(&log.Config{
		LogDir:   v.GetString("log.dir"),
		LogLevel: v.GetString("log.level"),
		KeepDays: v.GetInt("log.keep_days"),
		Console:  stderr,
	})
	if err != nil {
		fmt.Fprintln(stderr, "log:", err)
		return exitConfigError
	}

	settings, err := loadSettings(v)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitConfigError
	}
	enableColor, err := colorEnabled(v.GetString("color"), stdout)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitConfigError
	}
	ramOverride, err := parseRAM(v.GetString("ram.start"), v.GetString("ram.end"))
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitConfigError
	}
	if v.GetString("elf") == "" || v.GetString("snapshot") == "" {
		log.Error().Msg("both --elf and --snapshot are required")
		fs.Usage()
		return exitConfigError
	}

	img, err := elf.Open(v.GetString("elf"))
	if err != nil {
		log.Error().Err(err).Msg("load firmware image")
		return exitLoadError
	}
	log.Info().
		Str("path", img.Path()).
		Str("size", humanize.IBytes(img.FileSize())).
		Int("symbols", img.Symbols().Len()).
		Int("line_rows", img.Lines().Len()).
		Bool("vector_table", img.HasVectorTable()).
		Msg("firmware image loaded")

	snap, err := target.LoadSnapshot(v.GetString("snapshot"))
	if err != nil {
		log.Error().Err(err).Msg("load snapshot")
		return exitLoadError
	}

	lock, err := probelock.Acquire(v.GetString("lock.dir"), snap.Probe)
	if err != nil {
		log.Error().Err(err).Msg("lock probe")
		return exitLoadError
	}
	defer lock.Close()

	ram := snap.RAM
	if ramOverride != nil {
		ram = ramOverride
	}
	if ram == nil {
		log.Warn().Msg("no RAM region configured, stack overflows will not be detected")
	} else {
		log.Debug().
			Str("start", fmt.Sprintf("0x%08x", ram.Start)).
			Str("end", fmt.Sprintf("0x%08x", ram.End)).
			Str("size", humanize.IBytes(ram.Size())).
			Msg("stack RAM region")
	}

	b := backtrace.New(
		backtrace.WithLogger(log.G()),
		backtrace.WithOutput(stdout),
		backtrace.WithColor(enableColor),
	)
	report, err := b.Run(snap, img, ram, settings)
	if report == nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitConfigError
	}
	if err != nil {
		log.Warn().Err(err).Msg("write backtrace")
	}

	backtrace.LogOutcome(log.G(), report.Outcome)
	return backtrace.ExitCode(report.Outcome)
}

func loadSettings(v *viper.Viper) (backtrace.Settings, error) {
	settings := backtrace.DefaultSettings()
	mode, err := backtrace.ParseMode(v.GetString("backtrace"))
	if err != nil {
		return settings, err
	}
	settings.Mode = mode
	limit, err := strconv.Atoi(strings.TrimSpace(v.GetString("backtrace-limit")))
	if err != nil {
		return settings, errors.Wrap(err, "backtrace-limit")
	}
	settings.FrameLimit = limit
	settings.ShortenPaths = v.GetBool("shorten-paths")
	if settings.ShortenPaths {
		wd, err := os.Getwd()
		if err != nil {
			return settings, errors.Wrap(err, "working directory")
		}
		settings.WorkingDir = wd
	}
	return settings, settings.Validate()
}

func colorEnabled(mode string, out io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		f, ok := out.(*os.File)
		return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())), nil
	}
	return false, errors.Errorf("invalid color mode %q: options are `auto`, `always`, `never`", mode)
}

func parseRAM(start, end string) (*target.RAMRegion, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, errors.New("ram.start and ram.end must be set together")
	}
	s, err := strconv.ParseUint(start, 0, 32)
	if err != nil {
		return nil, errors.Wrap(err, "ram.start")
	}
	e, err := strconv.ParseUint(end, 0, 32)
	if err != nil {
		return nil, errors.Wrap(err, "ram.end")
	}
	if e < s {
		return nil, errors.Errorf("ram.end %#x is below ram.start %#x", e, s)
	}
	return &target.RAMRegion{Start: s, End: e}, nil
}
