package config

import (
	"encoding/base64"
	"fmt"
	"os"
)

// Literal fallbacks for the media host, used when the environment does
// not override them.
const (
	defaultMediaCloudName    = "daz2pyisr"
	defaultMediaUploadPreset = "chat_uploads"

	mediaCloudNameEnv    = "CLOUDINARY_CLOUD_NAME"
	mediaUploadPresetEnv = "CLOUDINARY_UPLOAD_PRESET"
)

type Config struct {
	ServerAddr     string
	MongoURI       string
	MongoDatabase  string
	SigningKey     []byte
	AllowedOrigins []string

	// Media host settings, resolved from the environment at process start.
	MediaCloudName    string
	MediaUploadPreset string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewConfig(serverAddr, mongoURI, mongoDatabase, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if mongoURI == "" {
		return nil, fmt.Errorf("mongo URI cannot be empty")
	}
	if mongoDatabase == "" {
		return nil, fmt.Errorf("mongo database cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:        serverAddr,
		MongoURI:          mongoURI,
		MongoDatabase:     mongoDatabase,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		MediaCloudName:    envOrDefault(mediaCloudNameEnv, defaultMediaCloudName),
		MediaUploadPreset: envOrDefault(mediaUploadPresetEnv, defaultMediaUploadPreset),
	}, nil
}
