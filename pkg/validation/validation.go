package validation

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	MinFramerate    = 1
	MaxFramerate    = 60
	MinAudioBitrate = 32000
	MaxAudioBitrate = 320000
)

// ValidatePort validates a TCP port number
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateQuality validates quality level
func ValidateQuality(quality string) error {
	validQualities := map[string]bool{
		"low":    true,
		"medium": true,
		"high":   true,
	}
	if !validQualities[quality] {
		return fmt.Errorf("invalid quality level (must be low, medium, or high)")
	}
	return nil
}

// ValidateFramerate validates capture frame rate
func ValidateFramerate(fps int) error {
	if fps < MinFramerate {
		return fmt.Errorf("framerate must be at least %d fps", MinFramerate)
	}
	if fps > MaxFramerate {
		return fmt.Errorf("framerate is too high (max %d fps)", MaxFramerate)
	}
	return nil
}

// ValidateAudioBitrate validates audio bitrate in bits per second
func ValidateAudioBitrate(bps int) error {
	if bps < MinAudioBitrate {
		return fmt.Errorf("audio bitrate must be at least %d bps", MinAudioBitrate)
	}
	if bps > MaxAudioBitrate {
		return fmt.Errorf("audio bitrate is too high (max %d bps)", MaxAudioBitrate)
	}
	return nil
}

// ValidateThreshold validates a detection threshold in (0, 1]
func ValidateThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1]")
	}
	return nil
}

// ValidateStreamSettings validates the user-editable stream preferences
func ValidateStreamSettings(quality string, framerate, audioBitrate, port int) error {
	if err := ValidateQuality(quality); err != nil {
		return err
	}
	if err := ValidateFramerate(framerate); err != nil {
		return err
	}
	if err := ValidateAudioBitrate(audioBitrate); err != nil {
		return err
	}
	return ValidatePort(port)
}

// ValidateBrokerURL validates an MQTT broker URL
func ValidateBrokerURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("broker URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("invalid broker URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
