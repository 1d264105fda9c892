package config

const (
	defaultStagingDir         = "~/.local/share/scribe/staging"
	defaultLogDir             = "~/.local/share/scribe/logs"
	defaultAPIBind            = "127.0.0.1:7517"
	defaultQueuePollInterval  = 1
	defaultErrorRetryInterval = 5
	defaultMaxWorkers         = 3
	defaultModel              = "base.en"
	defaultBeamSize           = 5
	defaultYtDlpBinary        = "yt-dlp"
	defaultFFmpegBinary       = "ffmpeg"
	defaultWhisperBinary      = "whisper-ctranslate2"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxWorkers:         defaultMaxWorkers,
		},
		Transcription: Transcription{
			Model:    defaultModel,
			BeamSize: defaultBeamSize,
		},
		Tools: Tools{
			YtDlp:   defaultYtDlpBinary,
			FFmpeg:  defaultFFmpegBinary,
			Whisper: defaultWhisperBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
