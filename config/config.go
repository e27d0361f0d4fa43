package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// It is built once at startup and handed to every component that needs it.
type Config struct {
	HTTPAddr      string
	PublicBaseURL string // e.g. "http://localhost:8080", used by ResolveAssetURL

	FFmpegPath  string
	MusicDir    string // hot tier: primary assets, served as /assets/music/<file>
	VariantsDir string // renditions: VariantsDir/<trackId>/<tier>.m4a

	// 生成策略
	LazyGenerate     bool // info 请求发现无变体时是否后台触发生成
	EncodeTimeout    time.Duration
	BandwidthMaxSize int

	// 生命周期
	VariantMaxAgeDays int
	SweepInterval     time.Duration
	ArchiveAfter      time.Duration
	ArchiveInterval   time.Duration
	ArchiveFolder     string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	InfoCacheTTL  time.Duration

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MinioPublicURL string // optional, overrides the scheme://endpoint prefix of archived URLs

	// 日志配置
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("15m", "720h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	musicDir := getEnv("MUSIC_DIR", "music")

	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		MusicDir:    musicDir,
		VariantsDir: getEnv("VARIANTS_DIR", filepath.Join(musicDir, "variants")),

		LazyGenerate:     getEnvBool("LAZY_GENERATE", true),
		EncodeTimeout:    getEnvDuration("ENCODE_TIMEOUT", 10*time.Minute),
		BandwidthMaxSize: getEnvInt("BANDWIDTH_TEST_MAX_SIZE", 16<<20),

		VariantMaxAgeDays: getEnvInt("VARIANT_MAX_AGE_DAYS", 90),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 24*time.Hour),
		ArchiveAfter:      getEnvDuration("ARCHIVE_AFTER", 30*24*time.Hour),
		ArchiveInterval:   getEnvDuration("ARCHIVE_INTERVAL", 6*time.Hour),
		ArchiveFolder:     getEnv("ARCHIVE_FOLDER", "proyecto_cloud"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "undersounds"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),
		InfoCacheTTL:  getEnvDuration("INFO_CACHE_TTL", 5*time.Minute),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "undersounds"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioPublicURL: strings.TrimRight(getEnv("MINIO_PUBLIC_URL", ""), "/"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}
