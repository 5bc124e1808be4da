package repo

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kolbeh/desktop/internal/devapi/model"
	kmodel "github.com/kolbeh/desktop/internal/model"
)

//go:embed default_seed.yaml
var defaultSeed []byte

// SeedDesktop is one desktop entry in a seed file.
type SeedDesktop struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	CPU         int    `yaml:"cpu"`
	RAM         int    `yaml:"ram"`
	Storage     int    `yaml:"storage"`
	Status      string `yaml:"status"`
	StatusTitle string `yaml:"status_title"`
	Image       string `yaml:"image"`
	Plan        string `yaml:"plan"`
	Country     string `yaml:"country"`
	VDIURL      string `yaml:"vdi_url"`
}

// SeedUser is one account with its desktops.
type SeedUser struct {
	Phone        string        `yaml:"phone"`
	FirstName    string        `yaml:"first_name"`
	LastName     string        `yaml:"last_name"`
	Balance      int64         `yaml:"balance"`
	PointBalance int64         `yaml:"point_balance"`
	Desktops     []SeedDesktop `yaml:"desktops"`
}

// Seed is the parsed form of a seed file.
type Seed struct {
	Users []SeedUser `yaml:"users"`
}

// LoadSeed parses and validates a YAML seed document.
func LoadSeed(r io.Reader) (*Seed, error) {
	var s Seed
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}

	ids := make(map[string]string)
	for _, u := range s.Users {
		if !kmodel.ValidPhone(u.Phone) {
			return nil, fmt.Errorf("seed user %q: phone must be 11 digits", u.Phone)
		}
		for _, d := range u.Desktops {
			if d.ID == "" {
				return nil, fmt.Errorf("seed user %s: desktop without id", u.Phone)
			}
			if owner, dup := ids[d.ID]; dup {
				return nil, fmt.Errorf("seed desktop %s: already assigned to %s", d.ID, owner)
			}
			ids[d.ID] = u.Phone
		}
	}
	return &s, nil
}

// LoadSeedFile reads a seed from path, or the built-in seed when path is empty.
func LoadSeedFile(path string) (*Seed, error) {
	if path == "" {
		return DefaultSeed()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed %s: %w", path, err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// DefaultSeed returns the seed bundled with the binary.
func DefaultSeed() (*Seed, error) {
	return LoadSeed(bytes.NewReader(defaultSeed))
}

// Apply writes every user and desktop in the seed to stores.
func (s *Seed) Apply(ctx context.Context, stores Stores) error {
	for _, su := range s.Users {
		_, err := stores.Users.UpsertProfile(ctx, model.User{
			PhoneNumber:  su.Phone,
			FirstName:    su.FirstName,
			LastName:     su.LastName,
			Balance:      su.Balance,
			PointBalance: su.PointBalance,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", su.Phone, err)
		}
		for _, sd := range su.Desktops {
			d := model.Desktop{
				ID:          sd.ID,
				OwnerPhone:  su.Phone,
				Title:       sd.Title,
				CPU:         sd.CPU,
				RAM:         sd.RAM,
				Storage:     sd.Storage,
				Status:      sd.Status,
				StatusTitle: sd.StatusTitle,
				ImageTitle:  sd.Image,
				PlanTitle:   sd.Plan,
				CountryName: sd.Country,
				VDIURL:      sd.VDIURL,
			}
			if err := stores.Desktops.Upsert(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}
