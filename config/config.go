package config

import (
	"database/sql"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"time"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Recorder    Recorder      `yaml:"recorder"`
	Dispatcher  Dispatcher    `yaml:"dispatcher"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
}

type Recorder struct {
	OutputDir    string        `yaml:"output_dir"`
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	FFprobePath  string        `yaml:"ffprobe_path"`
	MaxDuration  time.Duration `yaml:"max_duration"`
	StopGrace    time.Duration `yaml:"stop_grace"`
	PresignedTTL time.Duration `yaml:"presigned_ttl"`
}

type Dispatcher struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	Lookahead       time.Duration `yaml:"lookahead"`
	AutogenInterval time.Duration `yaml:"autogen_interval"`
	AutogenHorizon  time.Duration `yaml:"autogen_horizon"`
	KickoffLead     time.Duration `yaml:"kickoff_lead"`
	KickoffTrail    time.Duration `yaml:"kickoff_trail"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("recorder.output_dir", "recordings")
	viper.SetDefault("recorder.ffmpeg_path", "ffmpeg")
	viper.SetDefault("recorder.ffprobe_path", "ffprobe")
	viper.SetDefault("recorder.max_duration_minutes", 120)
	viper.SetDefault("recorder.stop_grace_seconds", 10)
	viper.SetDefault("recorder.presigned_ttl_minutes", 60)
	viper.SetDefault("dispatcher.tick_seconds", 60)
	viper.SetDefault("dispatcher.lookahead_minutes", 5)
	viper.SetDefault("dispatcher.autogen_interval_minutes", 60)
	viper.SetDefault("dispatcher.autogen_horizon_hours", 48)
	viper.SetDefault("dispatcher.kickoff_lead_minutes", 5)
	viper.SetDefault("dispatcher.kickoff_trail_minutes", 120)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		Kind:         viper.GetString("rabbitmq_kind"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
		},
		Recorder: Recorder{
			OutputDir:    viper.GetString("recorder.output_dir"),
			FFmpegPath:   viper.GetString("recorder.ffmpeg_path"),
			FFprobePath:  viper.GetString("recorder.ffprobe_path"),
			MaxDuration:  time.Duration(viper.GetInt("recorder.max_duration_minutes")) * time.Minute,
			StopGrace:    time.Duration(viper.GetInt("recorder.stop_grace_seconds")) * time.Second,
			PresignedTTL: time.Duration(viper.GetInt("recorder.presigned_ttl_minutes")) * time.Minute,
		},
		Dispatcher: Dispatcher{
			TickInterval:    time.Duration(viper.GetInt("dispatcher.tick_seconds")) * time.Second,
			Lookahead:       time.Duration(viper.GetInt("dispatcher.lookahead_minutes")) * time.Minute,
			AutogenInterval: time.Duration(viper.GetInt("dispatcher.autogen_interval_minutes")) * time.Minute,
			AutogenHorizon:  time.Duration(viper.GetInt("dispatcher.autogen_horizon_hours")) * time.Hour,
			KickoffLead:     time.Duration(viper.GetInt("dispatcher.kickoff_lead_minutes")) * time.Minute,
			KickoffTrail:    time.Duration(viper.GetInt("dispatcher.kickoff_trail_minutes")) * time.Minute,
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
