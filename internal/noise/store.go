package noise

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// profileDoc is the on-disk form of a Profile. Type and level are persisted
// as their string tags so saved files stay readable and diffable.
type profileDoc struct {
	Name               string          `yaml:"name"`
	Type               string          `yaml:"type"`
	Level              string          `yaml:"level"`
	Characteristics    Characteristics `yaml:"characteristics"`
	ReductionStrength  float64         `yaml:"reduction_strength"`
	PreserveSpeech     bool            `yaml:"preserve_speech"`
	DetectionThreshold float64         `yaml:"detection_threshold"`
	AvgSpectrum        []float64       `yaml:"avg_spectrum,omitempty"`
	SampleRate         int             `yaml:"sample_rate,omitempty"`
	FFTSize            int             `yaml:"fft_size,omitempty"`
	Stats              ProfileStats    `yaml:"stats"`
}

// Store persists calibration profiles as YAML files under a base directory,
// one file per profile.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) path(name string) string {
	safe := strings.ReplaceAll(strings.ToLower(name), " ", "-")
	return filepath.Join(s.baseDir, safe+".yaml")
}

func (s *Store) SaveProfile(p Profile) (string, error) {
	doc := profileDoc{
		Name:               p.Name,
		Type:               p.Type.String(),
		Level:              p.Level.String(),
		Characteristics:    p.Characteristics,
		ReductionStrength:  p.ReductionStrength,
		PreserveSpeech:     p.PreserveSpeech,
		DetectionThreshold: p.DetectionThreshold,
		AvgSpectrum:        p.AvgSpectrum,
		SampleRate:         p.SampleRate,
		FFTSize:            p.FFTSize,
		Stats:              p.Stats,
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}

	path := s.path(p.Name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}

	log.Info().
		Str("profile", p.Name).
		Str("type", p.Type.String()).
		Str("file", path).
		Msg("Saved noise profile")

	return path, nil
}

func (s *Store) LoadProfile(name string) (Profile, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile file: %w", err)
	}
	return decodeProfile(data)
}

// LoadAll reads every profile in the store. Files that fail to parse are
// skipped with a warning rather than failing the whole load.
func (s *Store) LoadAll() ([]Profile, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile directory: %w", err)
	}

	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read profile file")
			continue
		}
		p, err := decodeProfile(data)
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse profile file")
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Database builds an injected profile table from the stored calibration
// profiles layered over the builtins.
func (s *Store) Database() (*Database, error) {
	profiles, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	return NewDatabaseWith(profiles...), nil
}

func decodeProfile(data []byte) (Profile, error) {
	var doc profileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Profile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	t, err := ParseType(doc.Type)
	if err != nil {
		return Profile{}, err
	}
	l, err := ParseLevel(doc.Level)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Name:               doc.Name,
		Type:               t,
		Level:              l,
		Characteristics:    doc.Characteristics,
		ReductionStrength:  doc.ReductionStrength,
		PreserveSpeech:     doc.PreserveSpeech,
		DetectionThreshold: doc.DetectionThreshold,
		AvgSpectrum:        doc.AvgSpectrum,
		SampleRate:         doc.SampleRate,
		FFTSize:            doc.FFTSize,
		Stats:              doc.Stats,
	}, nil
}
