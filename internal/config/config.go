package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	DatabaseURL        string
	AdminJWTSecret     string
	RateLimitRPS       float64
	RateLimitBurst     int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Language model providers. Keys live only on the server.
	LLMProvider         string
	LLMFallbackProvider string
	LLMTimeout          time.Duration
	GeminiAPIKey        string
	GeminiModel         string
	OpenAIAPIKey        string
	OpenAIModel         string
	BedrockModelID      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	PersonaProfile string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	LeadAlertEmail    string
	HotLeadThreshold  int

	Intake Intake
}

// Intake holds the conversation tuning knobs.
type Intake struct {
	SessionExpiry    time.Duration
	BookingThreshold int
	MaxMessages      int
	Phases           PhaseThresholds
	Weights          KeywordWeights
	DropOffAfter     time.Duration
}

// PhaseThresholds bound the LISTEN and EDUCATE phases by message count.
type PhaseThresholds struct {
	ListenMax  int
	EducateMax int
}

// KeywordWeights are the per-family lead score weights.
type KeywordWeights struct {
	Urgency    int
	Fit        int
	Readiness  int
	Engagement int
}

// DefaultIntake returns the stock tuning.
func DefaultIntake() Intake {
	return Intake{
		SessionExpiry:    24 * time.Hour,
		BookingThreshold: 3,
		MaxMessages:      50,
		Phases:           PhaseThresholds{ListenMax: 3, EducateMax: 8},
		Weights:          KeywordWeights{Urgency: 10, Fit: 10, Readiness: 10, Engagement: 10},
		DropOffAfter:     45 * time.Second,
	}
}

// Validate rejects tunings the session cannot honor.
func (i Intake) Validate() error {
	var errs []error
	if i.SessionExpiry <= 0 {
		errs = append(errs, errors.New("session expiry must be positive"))
	}
	if i.BookingThreshold < 0 {
		errs = append(errs, errors.New("booking threshold must not be negative"))
	}
	if i.MaxMessages <= 0 {
		errs = append(errs, errors.New("max messages must be positive"))
	}
	if i.Phases.ListenMax < 0 || i.Phases.ListenMax >= i.Phases.EducateMax {
		errs = append(errs, fmt.Errorf("phase thresholds must satisfy 0 <= listenMax < educateMax (got %d, %d)",
			i.Phases.ListenMax, i.Phases.EducateMax))
	}
	if i.DropOffAfter <= 0 {
		errs = append(errs, errors.New("drop-off threshold must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid intake settings: %w", errors.Join(errs...))
	}
	return nil
}

// Load reads configuration from environment variables
func Load() *Config {
	defaults := DefaultIntake()
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 10*time.Second),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		PersonaProfile: strings.ToLower(strings.TrimSpace(getEnv("PERSONA_PROFILE", "educational"))),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Movement Intake"),
		LeadAlertEmail:    getEnv("LEAD_ALERT_EMAIL", ""),
		HotLeadThreshold:  getEnvAsInt("HOT_LEAD_THRESHOLD", 60),

		Intake: Intake{
			SessionExpiry:    getEnvAsDuration("INTAKE_SESSION_EXPIRY", defaults.SessionExpiry),
			BookingThreshold: getEnvAsInt("INTAKE_BOOKING_THRESHOLD", defaults.BookingThreshold),
			MaxMessages:      getEnvAsInt("INTAKE_MAX_MESSAGES", defaults.MaxMessages),
			Phases: PhaseThresholds{
				ListenMax:  getEnvAsInt("INTAKE_PHASE_LISTEN_MAX", defaults.Phases.ListenMax),
				EducateMax: getEnvAsInt("INTAKE_PHASE_EDUCATE_MAX", defaults.Phases.EducateMax),
			},
			Weights: KeywordWeights{
				Urgency:    getEnvAsInt("INTAKE_WEIGHT_URGENCY", defaults.Weights.Urgency),
				Fit:        getEnvAsInt("INTAKE_WEIGHT_FIT", defaults.Weights.Fit),
				Readiness:  getEnvAsInt("INTAKE_WEIGHT_READINESS", defaults.Weights.Readiness),
				Engagement: getEnvAsInt("INTAKE_WEIGHT_ENGAGEMENT", defaults.Weights.Engagement),
			},
			DropOffAfter: getEnvAsDuration("INTAKE_DROPOFF_AFTER", defaults.DropOffAfter),
		},
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
