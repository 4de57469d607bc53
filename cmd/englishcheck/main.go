package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/assessment"
	"github.com/english-check/backend/internal/audio"
	"github.com/english-check/backend/internal/client"
	"github.com/english-check/backend/internal/report"
	"github.com/english-check/backend/internal/webhook"
	"github.com/english-check/backend/pkg/config"
	appLogger "github.com/english-check/backend/pkg/logger"
)

type options struct {
	File         string
	Question     string
	Preset       int
	Level        string
	Criteria     string
	Weights      []string
	Server       string
	Webhook      string
	Transcode    bool
	FFmpeg       string
	JSON         bool
	Async        bool
	PollInterval time.Duration
	PollTimeout  time.Duration
	ListPresets  bool
	LogLevel     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("englishcheck", pflag.ContinueOnError)
	fs.StringP("file", "f", "", "audio file to assess (20-90 seconds)")
	fs.StringP("question", "q", "", "question the recording answers")
	fs.IntP("preset", "p", 0, "use preset question N instead of --question")
	fs.StringP("level", "l", string(assessment.Level3Units), "study level: 3, 4 or 5 Units")
	fs.String("criteria", "", "criteria as a JSON array of {name, description, weight}")
	fs.StringArrayP("weight", "w", nil, "criterion weight as Name=N (repeatable)")
	fs.String("server", "http://localhost:5001", "English check API base URL")
	fs.String("webhook", webhook.DefaultURL, "assessment webhook used when the server times out")
	fs.Bool("transcode", false, "convert the recording to MP3 with ffmpeg before upload")
	fs.String("ffmpeg", "ffmpeg", "ffmpeg binary")
	fs.Bool("json", false, "print the raw assessment JSON")
	fs.Bool("async", false, "ask the server to process in the background and poll for the result")
	fs.Duration("poll-interval", client.DefaultPollInterval, "status poll interval")
	fs.Duration("poll-timeout", client.DefaultPollTimeout, "give up polling after this long")
	fs.Bool("list-presets", false, "print the preset questions and exit")
	fs.String("log-level", "warn", "log level")
	return fs
}

// loadOptions binds flags into viper so ENGLISH_CHECK_* variables fill in
// anything not given on the command line.
func loadOptions(args []string) (*options, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	weights, err := fs.GetStringArray("weight")
	if err != nil {
		return nil, err
	}

	return &options{
		File:         v.GetString("file"),
		Question:     v.GetString("question"),
		Preset:       v.GetInt("preset"),
		Level:        v.GetString("level"),
		Criteria:     v.GetString("criteria"),
		Weights:      weights,
		Server:       v.GetString("server"),
		Webhook:      v.GetString("webhook"),
		Transcode:    v.GetBool("transcode"),
		FFmpeg:       v.GetString("ffmpeg"),
		JSON:         v.GetBool("json"),
		Async:        v.GetBool("async"),
		PollInterval: v.GetDuration("poll-interval"),
		PollTimeout:  v.GetDuration("poll-timeout"),
		ListPresets:  v.GetBool("list-presets"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := loadOptions(args)
	if err != nil {
		return err
	}

	if opts.ListPresets {
		for i, q := range assessment.PresetQuestions {
			fmt.Fprintf(stdout, "%d. %s\n", i+1, q)
		}
		return nil
	}

	if err := appLogger.Init(opts.LogLevel, "console", "stderr"); err != nil {
		return err
	}
	defer appLogger.Sync()
	log := appLogger.GetLogger()

	criteria, err := buildCriteria(opts.Criteria, opts.Weights)
	if err != nil {
		return err
	}
	sub, err := buildSubmission(ctx, opts, criteria, log)
	if err != nil {
		return err
	}

	c := client.New(client.Config{
		ServerURL:    opts.Server,
		WebhookURL:   opts.Webhook,
		Async:        opts.Async,
		PollInterval: opts.PollInterval,
		PollTimeout:  opts.PollTimeout,
		Logger:       log,
	})

	result, err := c.Submit(ctx, sub)
	if err != nil {
		return err
	}

	if opts.JSON {
		var out bytes.Buffer
		if err := json.Indent(&out, result.Raw, "", "  "); err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		out.WriteByte('\n')
		_, err := out.WriteTo(stdout)
		return err
	}
	return report.Render(stdout, report.Build(result, criteria))
}

func buildCriteria(raw string, weights []string) (assessment.Criteria, error) {
	criteria := assessment.DefaultCriteria()
	if raw != "" {
		parsed, err := assessment.ParseCriteria(raw)
		if err != nil {
			return nil, err
		}
		criteria = parsed
	}

	for _, w := range weights {
		name, value, ok := strings.Cut(w, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid weight %q, expected Name=N", w)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", w, err)
		}
		if !criteria.SetWeight(name, n) {
			if n < 0 {
				n = 0
			}
			criteria = append(criteria, assessment.Criterion{Name: name, Weight: n})
		}
	}
	return criteria, nil
}

func buildSubmission(ctx context.Context, opts *options, criteria assessment.Criteria, log *zap.Logger) (*assessment.Submission, error) {
	question := strings.TrimSpace(opts.Question)
	if opts.Preset > 0 {
		q, err := assessment.PresetQuestion(opts.Preset)
		if err != nil {
			return nil, err
		}
		question = q
	}
	if question == "" {
		return nil, fmt.Errorf("%w (use --question or --preset)", assessment.ErrEmptyQuestion)
	}

	level, err := assessment.ParseStudyLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	if opts.File == "" {
		return nil, fmt.Errorf("%w (use --file)", assessment.ErrNoAudio)
	}
	data, err := os.ReadFile(opts.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	name := filepath.Base(opts.File)
	info, err := audio.Probe(name, data)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(info.MIME, "audio/") {
		return nil, fmt.Errorf("%w: %s looks like %s", audio.ErrNotAudio, name, info.MIME)
	}

	mimeType := info.MIME
	if opts.Transcode && mimeType != "audio/mpeg" {
		t := audio.NewTranscoder(opts.FFmpeg, 0, log)
		converted := mimeType
		if info.DurationKnown {
			data, converted = t.ToMP3OrOriginal(ctx, data, mimeType)
		} else {
			// only the MP3 can be measured, so conversion is required here
			out, err := t.ToMP3(ctx, data)
			if err != nil {
				return nil, fmt.Errorf("failed to transcode %s: %w", name, err)
			}
			data, converted = out, "audio/mpeg"
		}
		if converted != mimeType {
			mimeType = converted
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ".mp3"
		}
		if !info.DurationKnown {
			if info, err = audio.Probe(name, data); err != nil {
				return nil, err
			}
		}
	}

	if err := audio.DefaultLimits().ValidateInfo(info); err != nil {
		return nil, err
	}
	log.Info("Audio validated",
		zap.String("file", name),
		zap.String("mime", mimeType),
		zap.Duration("duration", info.Duration),
	)

	return &assessment.Submission{
		Audio:      data,
		AudioName:  name,
		AudioType:  mimeType,
		Question:   question,
		StudyLevel: level,
		Criteria:   criteria,
	}, nil
}
