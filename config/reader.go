package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
}

type ConfigSchema struct {
	Databases struct {
		// Driver: "postgres" (master + реплики) или "sqlite" (локальная разработка)
		Driver     string     `yaml:"driver"`
		SQLitePath string     `yaml:"sqlite_path"`
		Master     DBConfig   `yaml:"master"`
		Replicas   []DBConfig `yaml:"replicas"`
	} `yaml:"databases"`
	Redis struct {
		Host       string        `yaml:"host"`
		Port       int           `yaml:"port"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		ProfileTTL time.Duration `yaml:"profile_ttl"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
		Queue    string `yaml:"queue"`
	} `yaml:"rabbitmq"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
	Feed struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"feed"`
	Media struct {
		PublicURL  string `yaml:"public_url"`
		MaxUpload  int64  `yaml:"max_upload_bytes"`
		PictureMax int    `yaml:"picture_max_px"`
	} `yaml:"media"`
	Backend struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"backend"`
	Logs struct {
		Level string `yaml:"level"`
	} `yaml:"logs"`
}

var AppConfig *ConfigSchema

// LoadConfig читает yaml-конфиг, затем накладывает переменные окружения (.env тоже подхватывается)
func LoadConfig(filePath string) error {
	// .env опционален
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	conf := &ConfigSchema{}
	if err = yaml.Unmarshal(data, conf); err != nil {
		return err
	}

	applyEnv(conf)
	applyDefaults(conf)
	AppConfig = conf
	return nil
}

// Default возвращает конфиг для локального запуска без файла
func Default() *ConfigSchema {
	conf := &ConfigSchema{}
	applyEnv(conf)
	applyDefaults(conf)
	return conf
}

func applyEnv(conf *ConfigSchema) {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		conf.RabbitMQ.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		conf.Auth.JWTSecret = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		conf.Mongo.URI = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		conf.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			conf.Redis.Port = port
		}
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		conf.Databases.Driver = v
	}
}

func applyDefaults(conf *ConfigSchema) {
	if conf.Databases.Driver == "" {
		conf.Databases.Driver = "postgres"
	}
	if conf.Databases.SQLitePath == "" {
		conf.Databases.SQLitePath = "newsjunkies.db"
	}
	if conf.Databases.Master.Port == 0 {
		conf.Databases.Master.Port = 5432
	}
	if conf.Redis.Port == 0 {
		conf.Redis.Port = 6379
	}
	if conf.Redis.ProfileTTL == 0 {
		conf.Redis.ProfileTTL = 10 * time.Minute
	}
	if conf.RabbitMQ.Exchange == "" {
		conf.RabbitMQ.Exchange = "junkies_events"
	}
	if conf.Mongo.Database == "" {
		conf.Mongo.Database = "newsjunkies"
	}
	if conf.Auth.TokenTTL == 0 {
		conf.Auth.TokenTTL = 24 * time.Hour
	}
	if conf.Feed.DefaultLimit <= 0 {
		conf.Feed.DefaultLimit = 50
	}
	if conf.Feed.MaxLimit <= 0 {
		conf.Feed.MaxLimit = 200
	}
	if conf.Media.MaxUpload <= 0 {
		conf.Media.MaxUpload = 10 << 20
	}
	if conf.Media.PictureMax <= 0 {
		conf.Media.PictureMax = 400
	}
	if conf.Backend.Port == 0 {
		conf.Backend.Port = 8080
	}
	if conf.Media.PublicURL == "" {
		conf.Media.PublicURL = fmt.Sprintf("http://localhost:%d", conf.Backend.Port)
	}
}
