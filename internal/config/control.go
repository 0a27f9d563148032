package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Recognized keys of the persisted control file.
const (
	KeyAPIID         = "API_ID"
	KeyAPIHash       = "API_HASH"
	KeyStringSession = "STRING_SESSION"
	KeySession       = "SESSION"
	KeyVoice         = "VOICE"

	DefaultVoice = "ta-IN-ValluvarNeural"
)

// Voice is a selectable TTS voice profile.
type Voice struct {
	ID    string `json:"voice_id"`
	Label string `json:"label"`
}

// Voices lists the profiles offered by the setup form.
var Voices = []Voice{
	{ID: "ta-IN-ValluvarNeural", Label: "Tamil (Male) - Valluvar"},
	{ID: "ta-IN-PallaviNeural", Label: "Tamil (Female) - Pallavi"},
}

// ErrConfigMissing means no usable control file exists yet; the setup form resolves it.
var ErrConfigMissing = errors.New("control configuration missing")

// ControlConfig holds the messaging credentials and voice profile. It is read-only after load.
type ControlConfig struct {
	APIID        int
	APIHash      string
	SessionToken string
	Voice        string
}

// LoadControl reads the KEY=VALUE control file at path.
func LoadControl(path string) (ControlConfig, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ControlConfig{}, ErrConfigMissing
		}
		return ControlConfig{}, fmt.Errorf("read control file %s: %w", path, err)
	}
	if len(values) == 0 {
		return ControlConfig{}, ErrConfigMissing
	}
	return ParseControl(values)
}

// ParseControl validates raw key/value pairs. SESSION is accepted as an alias of STRING_SESSION.
func ParseControl(values map[string]string) (ControlConfig, error) {
	get := func(key string) string { return strings.TrimSpace(values[key]) }

	rawID := get(KeyAPIID)
	if rawID == "" {
		return ControlConfig{}, fmt.Errorf("%w: %s is not set", ErrConfigMissing, KeyAPIID)
	}
	apiID, err := strconv.Atoi(rawID)
	if err != nil || apiID <= 0 {
		return ControlConfig{}, fmt.Errorf("%s must be a positive integer", KeyAPIID)
	}

	cc := ControlConfig{
		APIID:        apiID,
		APIHash:      get(KeyAPIHash),
		SessionToken: get(KeyStringSession),
		Voice:        get(KeyVoice),
	}
	if cc.SessionToken == "" {
		cc.SessionToken = get(KeySession)
	}
	if cc.APIHash == "" {
		return ControlConfig{}, fmt.Errorf("%w: %s is not set", ErrConfigMissing, KeyAPIHash)
	}
	if cc.SessionToken == "" {
		return ControlConfig{}, fmt.Errorf("%w: %s is not set", ErrConfigMissing, KeyStringSession)
	}
	if cc.Voice == "" {
		cc.Voice = DefaultVoice
	}
	return cc, nil
}

// SaveControl persists cc as a KEY=VALUE file, creating parent directories as needed.
func SaveControl(path string, cc ControlConfig) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create control dir: %w", err)
		}
	}
	values := map[string]string{
		KeyAPIID:         strconv.Itoa(cc.APIID),
		KeyAPIHash:       cc.APIHash,
		KeyStringSession: cc.SessionToken,
		KeyVoice:         cc.Voice,
	}
	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("write control file %s: %w", path, err)
	}
	// The file carries the session string.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod control file: %w", err)
	}
	return nil
}
