// Package config provides configuration and CLI argument parsing for the
// silent copilot, grounded on the teacher's internal/config.DefaultConfig
// / ParseFlags shape, extended with an optional file layer (viper).
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AudioSource names which input stream(s) feed the boundary FSM.
type AudioSource int

const (
	AudioSourceMic AudioSource = iota
	AudioSourceSystem
	AudioSourceMixed
)

func (s AudioSource) String() string {
	switch s {
	case AudioSourceMic:
		return "mic"
	case AudioSourceSystem:
		return "system"
	case AudioSourceMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ParseAudioSource converts a string flag value to an AudioSource.
func ParseAudioSource(s string) (AudioSource, error) {
	switch s {
	case "mic":
		return AudioSourceMic, nil
	case "system":
		return AudioSourceSystem, nil
	case "mixed":
		return AudioSourceMixed, nil
	default:
		return AudioSourceMic, fmt.Errorf("invalid audio source: %s (must be 'mic', 'system', or 'mixed')", s)
	}
}

// Config holds all tunables for the turn segmenter and dispatcher, per
// spec.md §6.
type Config struct {
	// Model paths (ASR/VAD backends)
	ModelDir       string
	VADModel       string
	WhisperEncoder string
	WhisperDecoder string
	WhisperTokens  string

	VADThreshold float32
	STTLanguage  string
	Provider     string
	NumThreads   int
	VADThreads   int
	STTThreads   int

	// Boundary FSM tuning (spec.md §6)
	OpenVoicedFrames  int
	CloseSilenceMs    int64
	MaxTurnMs         int64
	MinClauseTokens   int
	PermissiveClauses bool
	AsrPollMs         int64
	RingCapacity      int
	AsrPoolSize       int
	AsrTimeoutMs      int64

	// Turn dispatcher tuning
	FramesPerTurn       int
	ForceFrameTimeoutMs int64

	// Audio/video sourcing
	AudioSource AudioSource
	SampleRate  int
	VideoFPS    int
	JPEGQuality int

	// Wire transport
	RemoteURL string

	// Observer
	Record bool

	// Config file layering
	ConfigFile string

	Verbose bool
}

// DefaultConfig returns a configuration with spec.md §6's documented
// defaults (themselves carried over from SegConfig::default() in
// original_source/src/audio_seg.rs and SimpleTurnFsm's constants).
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultModelDir := filepath.Join(homeDir, ".silent-copilot", "models")

	return &Config{
		ModelDir:     defaultModelDir,
		SampleRate:   16000,
		VADThreshold: 0.5,
		STTLanguage:  "en",
		Provider:     "",
		NumThreads:   0,
		VADThreads:   1,
		STTThreads:   0,

		OpenVoicedFrames:  6,
		CloseSilenceMs:    300,
		MaxTurnMs:         5000,
		MinClauseTokens:   4,
		PermissiveClauses: false,
		AsrPollMs:         250,
		RingCapacity:      320_000,
		AsrPoolSize:       2,
		AsrTimeoutMs:      2000,

		FramesPerTurn:       2,
		ForceFrameTimeoutMs: 50,

		AudioSource: AudioSourceMic,
		VideoFPS:    2,
		JPEGQuality: 80,

		Record:  false,
		Verbose: false,
	}
}

// ParseFlags parses command-line flags (and, if -config is given, a
// layered YAML/TOML/JSON file read via viper before flags are applied) and
// returns a validated Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	var configFile string
	var audioSourceStr string

	flag.StringVar(&configFile, "config", "", "Optional path to a config file (yaml/toml/json) layered under flags")
	flag.StringVar(&cfg.ModelDir, "model-dir", cfg.ModelDir, "Directory containing VAD/Whisper model files")
	flag.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Audio sample rate")
	vadThreshold := float64(cfg.VADThreshold)
	flag.Float64Var(&vadThreshold, "vad-threshold", vadThreshold, "Voice activity detection threshold (0.0-1.0)")
	flag.StringVar(&cfg.STTLanguage, "stt-language", cfg.STTLanguage, "ASR language code (e.g. 'en', 'auto')")
	flag.StringVar(&cfg.Provider, "provider", cfg.Provider, "Hardware acceleration provider (cpu, cuda, coreml)")
	flag.IntVar(&cfg.NumThreads, "num-threads", cfg.NumThreads, "Default thread count for all models (0 = auto)")
	flag.IntVar(&cfg.VADThreads, "vad-threads", cfg.VADThreads, "VAD threads")
	flag.IntVar(&cfg.STTThreads, "stt-threads", cfg.STTThreads, "ASR threads (0 = use num-threads)")

	flag.IntVar(&cfg.OpenVoicedFrames, "open-voiced-frames", cfg.OpenVoicedFrames, "Voiced frames required to open a segment (not read by the boundary FSM, which opens at a fixed voiced-score threshold)")
	closeSilenceMs := cfg.CloseSilenceMs
	flag.Int64Var(&closeSilenceMs, "close-silence-ms", closeSilenceMs, "Silence duration (ms) that closes a segment")
	maxTurnMs := cfg.MaxTurnMs
	flag.Int64Var(&maxTurnMs, "max-turn-ms", maxTurnMs, "Maximum duration (ms) of a single turn")
	flag.IntVar(&cfg.MinClauseTokens, "min-clause-tokens", cfg.MinClauseTokens, "Minimum tokens for a valid ASR clause")
	flag.BoolVar(&cfg.PermissiveClauses, "permissive-clauses", cfg.PermissiveClauses, "Accept disfluency-terminated clauses (trailing comma/dash/and/but/because)")
	asrPollMs := cfg.AsrPollMs
	flag.Int64Var(&asrPollMs, "asr-poll-ms", asrPollMs, "Interval (ms) between ASR polls during an open segment")
	flag.IntVar(&cfg.RingCapacity, "ring-capacity", cfg.RingCapacity, "Ring buffer capacity in samples")
	flag.IntVar(&cfg.AsrPoolSize, "asr-pool-size", cfg.AsrPoolSize, "Number of ASR worker threads")
	asrTimeoutMs := cfg.AsrTimeoutMs
	flag.Int64Var(&asrTimeoutMs, "asr-timeout-ms", asrTimeoutMs, "Max wait (ms) for a transcript before emitting without one")

	flag.IntVar(&cfg.FramesPerTurn, "frames-per-turn", cfg.FramesPerTurn, "Unique video frames batched per idle turn (not read by the turn dispatcher, which always uses turn.FramesPerTurn = 2)")
	forceFrameTimeoutMs := cfg.ForceFrameTimeoutMs
	flag.Int64Var(&forceFrameTimeoutMs, "force-frame-timeout-ms", forceFrameTimeoutMs, "Max wait (ms) for a forced frame before closing an audio turn anyway (not read by the turn dispatcher, which always uses turn.ForceFrameTimeout = 50ms)")

	flag.StringVar(&audioSourceStr, "audio-source", cfg.AudioSource.String(), "Audio source: 'mic', 'system', or 'mixed'")
	flag.IntVar(&cfg.VideoFPS, "video-fps", cfg.VideoFPS, "Screen capture polling rate")
	flag.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "JPEG encode quality (1-100)")

	flag.StringVar(&cfg.RemoteURL, "remote-url", cfg.RemoteURL, "Websocket URL of the remote generative-model service")

	flag.BoolVar(&cfg.Record, "record", cfg.Record, "Record turns to disk under ./recordings")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	// explicit records which flags the user actually passed on the command
	// line, as opposed to ones left at their zero-value default. Without
	// this, a directly-cfg-bound flag and a file value are indistinguishable
	// from "flag left at default" once flag.Parse() has already written the
	// default into cfg, and the local-var-bound flags below would have no
	// way to tell a real override from an unset one either.
	explicit := map[string]bool{}
	flag.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })

	if configFile != "" {
		if err := layerConfigFile(cfg, configFile, explicit); err != nil {
			return nil, err
		}
	}

	// Local-var-bound flags only overwrite cfg when the user explicitly
	// passed them; otherwise whatever layerConfigFile (or the default
	// already sitting in cfg) set stands.
	if explicit["vad-threshold"] {
		cfg.VADThreshold = float32(vadThreshold)
	}
	if explicit["close-silence-ms"] {
		cfg.CloseSilenceMs = closeSilenceMs
	}
	if explicit["max-turn-ms"] {
		cfg.MaxTurnMs = maxTurnMs
	}
	if explicit["asr-poll-ms"] {
		cfg.AsrPollMs = asrPollMs
	}
	if explicit["asr-timeout-ms"] {
		cfg.AsrTimeoutMs = asrTimeoutMs
	}
	if explicit["force-frame-timeout-ms"] {
		cfg.ForceFrameTimeoutMs = forceFrameTimeoutMs
	}
	cfg.ConfigFile = configFile

	if explicit["audio-source"] {
		source, err := ParseAudioSource(audioSourceStr)
		if err != nil {
			return nil, err
		}
		cfg.AudioSource = source
	}

	cfg.normalizeThreadCounts()

	cfg.VADModel = filepath.Join(cfg.ModelDir, "silero_vad.onnx")
	cfg.WhisperEncoder = filepath.Join(cfg.ModelDir, "whisper", "whisper-small-encoder.int8.onnx")
	cfg.WhisperDecoder = filepath.Join(cfg.ModelDir, "whisper", "whisper-small-decoder.int8.onnx")
	cfg.WhisperTokens = filepath.Join(cfg.ModelDir, "whisper", "whisper-small-tokens.txt")

	return cfg, nil
}

// layerConfigFile reads a config file via viper and overwrites any Config
// field the file sets explicitly, except where explicit already marks that
// field's flag as passed on the command line — an explicit flag always
// wins over the file, never the other way around.
func layerConfigFile(cfg *Config, path string, explicit map[string]bool) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if v.IsSet("model_dir") && !explicit["model-dir"] {
		cfg.ModelDir = v.GetString("model_dir")
	}
	if v.IsSet("open_voiced_frames") && !explicit["open-voiced-frames"] {
		cfg.OpenVoicedFrames = v.GetInt("open_voiced_frames")
	}
	if v.IsSet("close_silence_ms") && !explicit["close-silence-ms"] {
		cfg.CloseSilenceMs = v.GetInt64("close_silence_ms")
	}
	if v.IsSet("max_turn_ms") && !explicit["max-turn-ms"] {
		cfg.MaxTurnMs = v.GetInt64("max_turn_ms")
	}
	if v.IsSet("min_clause_tokens") && !explicit["min-clause-tokens"] {
		cfg.MinClauseTokens = v.GetInt("min_clause_tokens")
	}
	if v.IsSet("permissive_clauses") && !explicit["permissive-clauses"] {
		cfg.PermissiveClauses = v.GetBool("permissive_clauses")
	}
	if v.IsSet("asr_poll_ms") && !explicit["asr-poll-ms"] {
		cfg.AsrPollMs = v.GetInt64("asr_poll_ms")
	}
	if v.IsSet("ring_capacity") && !explicit["ring-capacity"] {
		cfg.RingCapacity = v.GetInt("ring_capacity")
	}
	if v.IsSet("asr_pool_size") && !explicit["asr-pool-size"] {
		cfg.AsrPoolSize = v.GetInt("asr_pool_size")
	}
	if v.IsSet("asr_timeout_ms") && !explicit["asr-timeout-ms"] {
		cfg.AsrTimeoutMs = v.GetInt64("asr_timeout_ms")
	}
	if v.IsSet("frames_per_turn") && !explicit["frames-per-turn"] {
		cfg.FramesPerTurn = v.GetInt("frames_per_turn")
	}
	if v.IsSet("force_frame_timeout_ms") && !explicit["force-frame-timeout-ms"] {
		cfg.ForceFrameTimeoutMs = v.GetInt64("force_frame_timeout_ms")
	}
	if v.IsSet("audio_source") && !explicit["audio-source"] {
		source, err := ParseAudioSource(v.GetString("audio_source"))
		if err != nil {
			return err
		}
		cfg.AudioSource = source
	}
	if v.IsSet("record") && !explicit["record"] {
		cfg.Record = v.GetBool("record")
	}
	if v.IsSet("remote_url") && !explicit["remote-url"] {
		cfg.RemoteURL = v.GetString("remote_url")
	}

	return nil
}

// normalizeThreadCounts mirrors the teacher's approach of deriving
// model-specific thread counts from a single global default when unset.
func (c *Config) normalizeThreadCounts() {
	if c.STTThreads == 0 {
		c.STTThreads = c.NumThreads
	}
	if c.VADThreads == 0 {
		c.VADThreads = 1
	}
}
