package storage

import (
	"fmt"

	"github.com/illegalcall/emoji-maker/internal/config"
	"github.com/illegalcall/emoji-maker/internal/pkg/supabase"
)

// Open returns the object store selected by STORAGE_DRIVER.
func Open(cfg config.StorageConfig, supa config.SupabaseConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case config.StorageDriverSupabase:
		client := supabase.NewStorageClient(supa.URL, supa.ServiceKey)
		return NewSupabaseStorage(client, cfg.Bucket), nil
	case config.StorageDriverLocal:
		return NewLocalStorage(cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
