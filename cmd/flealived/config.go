package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flealive/flealive"
)

// daemonConfig is everything the daemon needs: the session parameters plus
// the collaborator endpoints the library itself stays agnostic about.
type daemonConfig struct {
	Session flealive.Config

	APIBase    string
	LogLevel   string
	DBPath     string
	WebhookURL string

	OpenAIBaseURL string
	OpenAIKey     string
	OpenAIModel   string
	OpenAIPrompt  string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("FLEALIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("heartbeat_interval", 15*time.Second)
	v.SetDefault("heartbeat_timeout", 5*time.Second)
	v.SetDefault("token_refresh_interval", time.Hour)
	v.SetDefault("token_retry_interval", 5*time.Minute)
	v.SetDefault("takeover_ttl", time.Hour)
	v.SetDefault("message_expire", 5*time.Minute)
	v.SetDefault("reconnect_delay", 5*time.Second)
	v.SetDefault("toggle_phrase", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "flealive.db")
	v.SetDefault("openai_model", "gpt-4o-mini")
	return v
}

func loadConfig(v *viper.Viper) (daemonConfig, error) {
	cfg := daemonConfig{
		Session: flealive.Config{
			Endpoint:             v.GetString("endpoint"),
			AppKey:               v.GetString("app_key"),
			UserID:               v.GetString("user_id"),
			DeviceID:             v.GetString("device_id"),
			SecretKey:            v.GetString("secret_key"),
			Cookie:               v.GetString("cookie"),
			HeartbeatInterval:    v.GetDuration("heartbeat_interval"),
			HeartbeatTimeout:     v.GetDuration("heartbeat_timeout"),
			TokenRefreshInterval: v.GetDuration("token_refresh_interval"),
			TokenRetryInterval:   v.GetDuration("token_retry_interval"),
			TakeoverTTL:          v.GetDuration("takeover_ttl"),
			MessageExpire:        v.GetDuration("message_expire"),
			ReconnectDelay:       v.GetDuration("reconnect_delay"),
			TogglePhrases:        strings.Fields(v.GetString("toggle_phrase")),
			Workers:              v.GetInt64("workers"),
			ProfileURLBase:       v.GetString("profile_url_base"),
		},
		APIBase:       v.GetString("api_base"),
		LogLevel:      v.GetString("log_level"),
		DBPath:        v.GetString("db_path"),
		WebhookURL:    v.GetString("webhook_url"),
		OpenAIBaseURL: v.GetString("openai_base_url"),
		OpenAIKey:     v.GetString("openai_api_key"),
		OpenAIModel:   v.GetString("openai_model"),
		OpenAIPrompt:  v.GetString("openai_prompt"),
	}

	var missing []string
	for _, f := range []struct{ key, val string }{
		{"FLEALIVE_ENDPOINT", cfg.Session.Endpoint},
		{"FLEALIVE_APP_KEY", cfg.Session.AppKey},
		{"FLEALIVE_USER_ID", cfg.Session.UserID},
		{"FLEALIVE_SECRET_KEY", cfg.Session.SecretKey},
		{"FLEALIVE_API_BASE", cfg.APIBase},
	} {
		if f.val == "" {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if len(cfg.Session.TogglePhrases) == 0 {
		return cfg, errors.New("toggle_phrase must not be blank")
	}
	return cfg, nil
}
