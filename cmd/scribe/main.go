package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/runtime"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

const usage = "expected 'record', 'transcribe', 'inspect' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "record":
		err = runRecord(ctx, os.Args[2:], os.Stdout)
	case "transcribe":
		err = runTranscribe(ctx, os.Args[2:], os.Stdout)
	case "inspect":
		err = runInspect(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(runtime.Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

type commonFlags struct {
	configPath string
	envFile    string
	transcript string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&c.envFile, "env-file", ".env", "Optional dotenv file feeding SCRIBE_* overrides")
	fs.StringVar(&c.transcript, "transcript", "transcription.txt", "Where to save the text; empty to skip")
}

func (c *commonFlags) load() (config.Config, error) {
	if err := config.LoadDotEnv(c.envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load(c.configPath)
}

func runRecord(ctx context.Context, args []string, out io.Writer) error {
	var (
		common   commonFlags
		duration time.Duration
		outDir   string
		keep     bool
	)
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	common.register(fs)
	fs.DurationVar(&duration, "duration", 0, "Recording length (default capture.default_seconds)")
	fs.StringVar(&outDir, "out", "", "Directory for the audio file (default capture.work_dir)")
	fs.BoolVar(&keep, "keep", false, "Keep the WAV file after transcription")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if duration == 0 {
		duration = time.Duration(cfg.Capture.DefaultSeconds) * time.Second
	}
	lo := time.Duration(cfg.Capture.MinSeconds) * time.Second
	hi := time.Duration(cfg.Capture.MaxSeconds) * time.Second
	if duration < lo || duration > hi {
		return fmt.Errorf("duration %s must be between %s and %s", duration, lo, hi)
	}
	if outDir == "" {
		outDir = cfg.Capture.WorkDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	device, err := capture.NewDevice(cfg.Capture)
	if err != nil {
		return err
	}
	recognizer, err := stt.New(cfg.STT)
	if err != nil {
		return err
	}
	if c, ok := recognizer.(io.Closer); ok {
		defer c.Close()
	}

	path := filepath.Join(outDir, "recording-"+uuid.NewString()+".wav")
	pipeline := capture.New(device,
		capture.WithSampleRate(cfg.Capture.SampleRate),
		capture.WithObserver(func(st capture.State, _ error) {
			switch st {
			case capture.StateRecording:
				fmt.Fprintf(os.Stderr, "recording %s at %d Hz...\n", duration, cfg.Capture.SampleRate)
			case capture.StateDone:
				fmt.Fprintln(os.Stderr, "recording complete")
			}
		}),
	)
	if err := pipeline.Capture(ctx, path, duration); err != nil {
		return err
	}
	if keep {
		fmt.Fprintf(os.Stderr, "audio saved to %s\n", path)
	} else {
		defer os.Remove(path)
	}

	return transcribeAndPrint(ctx, cfg, recognizer, path, common.transcript, out)
}

func runTranscribe(ctx context.Context, args []string, out io.Writer) error {
	var (
		common commonFlags
		file   string
	)
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	common.register(fs)
	fs.StringVar(&file, "file", "", "Audio file to transcribe (.wav, .mp3, .m4a)")
	fs.Parse(args)

	if file == "" {
		return errors.New("transcribe: -file is required")
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	recognizer, err := stt.New(cfg.STT)
	if err != nil {
		return err
	}
	if c, ok := recognizer.(io.Closer); ok {
		defer c.Close()
	}
	return transcribeAndPrint(ctx, cfg, recognizer, file, common.transcript, out)
}

func transcribeAndPrint(ctx context.Context, cfg config.Config, recognizer stt.Recognizer, path, transcriptPath string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.STT.TimeoutSeconds)*time.Second)
	defer cancel()

	res, err := recognizer.Transcribe(ctx, path)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	fmt.Fprintf(out, "language: %s\n\n%s\n", res.Language, res.Text)

	if transcriptPath != "" {
		if err := os.WriteFile(transcriptPath, []byte(res.Text), 0o644); err != nil {
			return fmt.Errorf("save transcript: %w", err)
		}
		fmt.Fprintf(os.Stderr, "transcript saved to %s\n", transcriptPath)
	}
	return nil
}

func runInspect(args []string, out io.Writer) error {
	var file string
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.StringVar(&file, "file", "", "WAV file to inspect")
	fs.Parse(args)

	if file == "" {
		return errors.New("inspect: -file is required")
	}
	info, err := wavfile.Inspect(file)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "channels:    %d\nsample rate: %d Hz\nbit depth:   %d\nframes:      %d\nduration:    %s\n",
		info.Channels, info.SampleRate, info.BitsPerSample, info.Frames, info.Duration())
	return nil
}
