package config

import "path/filepath"

type Storage struct {
	DataFolder            string `env:"DATA_FOLDER" envDefault:"./data" validate:"required"`
	CredentialsPassphrase string `env:"CREDENTIALS_PASSPHRASE" validate:"required,min=8"`
	PrefsDB               string `env:"PREFS_DB" envDefault:"prefs.db" validate:"required"`
}

var _ StorageConfig = Storage{}

func (s Storage) GetDataFolder() string {
	return s.DataFolder
}

func (s Storage) GetCredentialsPassphrase() string {
	return s.CredentialsPassphrase
}

// GetPrefsDBPath resolves relative database names against the data folder.
func (s Storage) GetPrefsDBPath() string {
	if filepath.IsAbs(s.PrefsDB) {
		return s.PrefsDB
	}
	return filepath.Join(s.DataFolder, s.PrefsDB)
}
