/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type fileConfig struct {
	LiveKit struct {
		URL           string `toml:"url"`
		APIKey        string `toml:"api_key"`
		APISecret     string `toml:"api_secret"`
		APISecretFile string `toml:"api_secret_file"`
		Room          string `toml:"room"`
		Identity      string `toml:"identity"`
		Name          string `toml:"name"`
		CanPublish    bool   `toml:"can_publish"`
		TokenTTL      string `toml:"token_ttl"`
	} `toml:"livekit"`

	Storage struct {
		Endpoint       string `toml:"endpoint"`
		Bucket         string `toml:"bucket"`
		Region         string `toml:"region"`
		AccessKey      string `toml:"access_key"`
		Secret         string `toml:"secret"`
		ForcePathStyle *bool  `toml:"force_path_style"`
		KeyPrefix      string `toml:"key_prefix"`
	} `toml:"storage"`

	Recorder struct {
		PollInterval string `toml:"poll_interval"`
		StartTimeout string `toml:"start_timeout"`
		StopTimeout  string `toml:"stop_timeout"`
	} `toml:"recorder"`

	History struct {
		Database string `toml:"database"`
	} `toml:"history"`
}

// LoadDotEnv loads the provided .env file into the process environment.
// Variables which are already set are not overwritten.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("could not load env file %s: %w", path, err)
	}
	return nil
}

// LoadFile applies the settings of the TOML file at path. Empty values in the
// file keep the current settings.
func (c *Config) LoadFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", path, err)
	}

	setString(&c.LiveKit.URL, fc.LiveKit.URL)
	setString(&c.LiveKit.APIKey, fc.LiveKit.APIKey)
	setString(&c.LiveKit.APISecret, fc.LiveKit.APISecret)
	if fc.LiveKit.APISecretFile != "" {
		secret, err := readSecretFile(fc.LiveKit.APISecretFile)
		if err != nil {
			return err
		}
		c.LiveKit.APISecret = secret
	}
	setString(&c.LiveKit.Room, fc.LiveKit.Room)
	setString(&c.LiveKit.Identity, fc.LiveKit.Identity)
	setString(&c.LiveKit.Name, fc.LiveKit.Name)
	if fc.LiveKit.CanPublish {
		c.LiveKit.CanPublish = true
	}
	if err := setDuration(&c.LiveKit.TokenTTL, fc.LiveKit.TokenTTL, "livekit.token_ttl"); err != nil {
		return err
	}

	setString(&c.Storage.Endpoint, fc.Storage.Endpoint)
	setString(&c.Storage.Bucket, fc.Storage.Bucket)
	setString(&c.Storage.Region, fc.Storage.Region)
	setString(&c.Storage.AccessKey, fc.Storage.AccessKey)
	setString(&c.Storage.Secret, fc.Storage.Secret)
	setString(&c.Storage.KeyPrefix, fc.Storage.KeyPrefix)
	if fc.Storage.ForcePathStyle != nil {
		c.Storage.ForcePathStyle = fc.Storage.ForcePathStyle
	}

	if err := setDuration(&c.Recorder.PollInterval, fc.Recorder.PollInterval, "recorder.poll_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.Recorder.StartTimeout, fc.Recorder.StartTimeout, "recorder.start_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.Recorder.StopTimeout, fc.Recorder.StopTimeout, "recorder.stop_timeout"); err != nil {
		return err
	}

	setString(&c.HistoryDBPath, fc.History.Database)

	return nil
}

// LoadEnv applies settings from environment variables.
func (c *Config) LoadEnv() error {
	setString(&c.LiveKit.URL, os.Getenv("LIVEKIT_URL"))
	setString(&c.LiveKit.APIKey, os.Getenv("LIVEKIT_API_KEY"))
	setString(&c.LiveKit.APISecret, os.Getenv("LIVEKIT_API_SECRET"))
	if secretFile := os.Getenv("LIVEKIT_API_SECRET_FILE"); secretFile != "" {
		secret, err := readSecretFile(secretFile)
		if err != nil {
			return err
		}
		c.LiveKit.APISecret = secret
	}
	setString(&c.LiveKit.Room, os.Getenv("LIVEKIT_ROOM_NAME"))

	setString(&c.Storage.Endpoint, os.Getenv("S3_ENDPOINT"))
	setString(&c.Storage.Bucket, os.Getenv("S3_BUCKET_NAME"))
	setString(&c.Storage.AccessKey, os.Getenv("S3_ACCESS_KEY"))
	setString(&c.Storage.Secret, os.Getenv("S3_ACCESS_SECRET"))
	setString(&c.Storage.Region, os.Getenv("S3_REGION"))
	if v := os.Getenv("S3_FORCE_PATH_STYLE"); v != "" {
		pathStyle, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid S3_FORCE_PATH_STYLE value %q: %w", v, err)
		}
		c.Storage.ForcePathStyle = &pathStyle
	}
	setString(&c.Storage.KeyPrefix, os.Getenv("RECORDER_KEY_PREFIX"))

	if err := setDuration(&c.Recorder.PollInterval, os.Getenv("RECORDER_POLL_INTERVAL"), "RECORDER_POLL_INTERVAL"); err != nil {
		return err
	}

	return nil
}

// Validate checks that all required settings are present.
func (c *Config) Validate() error {
	var missing []string
	for _, required := range []struct {
		name  string
		value string
	}{
		{"LIVEKIT_URL", c.LiveKit.URL},
		{"LIVEKIT_API_KEY", c.LiveKit.APIKey},
		{"LIVEKIT_API_SECRET", c.LiveKit.APISecret},
		{"LIVEKIT_ROOM_NAME", c.LiveKit.Room},
		{"S3_ENDPOINT", c.Storage.Endpoint},
		{"S3_BUCKET_NAME", c.Storage.Bucket},
		{"S3_REGION", c.Storage.Region},
		{"S3_ACCESS_KEY", c.Storage.AccessKey},
		{"S3_ACCESS_SECRET", c.Storage.Secret},
	} {
		if required.value == "" {
			missing = append(missing, required.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.LiveKit.Identity == "" {
		return errors.New("recorder identity must not be empty")
	}
	if c.Recorder.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Recorder.StartTimeout <= 0 || c.Recorder.StopTimeout <= 0 {
		return errors.New("start and stop timeouts must be positive")
	}

	return nil
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, value string, name string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", name, err)
	}
	*target = d
	return nil
}

func readSecretFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
