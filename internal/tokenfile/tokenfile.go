// Package tokenfile stores one OAuth token per user as a JSON file. File
// names are the sha256 of the user id, so arbitrary chat identities map to
// safe paths.
package tokenfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the tokens directory.
const DirPerms = 0o700

// File is the on-disk format. The user id is kept for operators inspecting
// the directory; lookups go by file name.
type File struct {
	Token   *oauth2.Token `json:"token"`
	UserID  string        `json:"user_id"`
	SavedAt time.Time     `json:"saved_at"`
}

// Dir is a TokenPersister backed by a directory of token files.
type Dir struct {
	root   string
	logger *slog.Logger

	nowFunc func() time.Time
}

// NewDir creates a persister rooted at dir. The directory is created on the
// first save.
func NewDir(dir string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dir{root: dir, logger: logger, nowFunc: time.Now}
}

// Path returns the token file path for userID.
func (d *Dir) Path(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return filepath.Join(d.root, "token_"+hex.EncodeToString(sum[:16])+".json")
}

// LoadToken reads the user's token. Returns (nil, nil) if none is stored.
func (d *Dir) LoadToken(_ context.Context, userID string) (*oauth2.Token, error) {
	tf, err := Load(d.Path(userID))
	if err != nil || tf == nil {
		return nil, err
	}

	return tf.Token, nil
}

// SaveToken writes the user's token atomically. Never logs token values.
func (d *Dir) SaveToken(_ context.Context, userID string, tok *oauth2.Token) error {
	path := d.Path(userID)

	if err := Save(path, &File{Token: tok, UserID: userID, SavedAt: d.nowFunc().UTC()}); err != nil {
		return err
	}

	d.logger.Debug("token saved", slog.String("path", path), slog.Time("expiry", tok.Expiry))

	return nil
}

// DeleteToken removes the user's token file. A missing file is not an error.
func (d *Dir) DeleteToken(_ context.Context, userID string) error {
	path := d.Path(userID)

	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		d.logger.Debug("no token file to remove", slog.String("path", path))
		return nil
	}

	if err != nil {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	d.logger.Info("token file removed", slog.String("path", path))

	return nil
}

// Load reads a token file. Returns (nil, nil) if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has no token (sign in again)", path)
	}

	return &tf, nil
}

// Save writes a token file atomically (temp file + rename) with 0600
// permissions.
func Save(path string, tf *File) error {
	if tf == nil || tf.Token == nil {
		return errors.New("tokenfile: refusing to save an empty token")
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// Flush before rename so a crash cannot leave a partial file behind.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}
