package keys

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
)

const (
	manifestFile   = "manifest.json"
	backupDir      = "backups"
	backupSuffix   = ".json.zst"
	defaultBackups = 5
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("keys: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("keys: zstd decoder initialization failed: " + err.Error())
	}
}

// FileStoreOptions tunes a FileStore.
type FileStoreOptions struct {
	// Identity is an age X25519 secret key ("AGE-SECRET-KEY-1..."). When set,
	// private keys are sealed to its recipient; otherwise they are written as
	// base64 with 0600 permissions.
	Identity string
	// Backups is how many compressed manifest generations to keep. Zero means
	// the default of 5; a negative value disables backups.
	Backups int
	// Now defaults to time.Now and names backup files.
	Now func() time.Time
}

// FileStore persists keys under a directory:
//
//	manifest.json             public manifest
//	private_v{N}.key|.age     private key per version
//	backups/*.json.zst        previous manifests
type FileStore struct {
	dir      string
	identity *age.X25519Identity
	backups  int
	now      func() time.Time
}

// NewFileStore prepares dir and parses the optional sealing identity.
func NewFileStore(dir string, opts FileStoreOptions) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keys: file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	s := &FileStore{dir: dir, backups: opts.Backups, now: opts.Now}
	if s.backups == 0 {
		s.backups = defaultBackups
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Identity != "" {
		id, err := age.ParseX25519Identity(strings.TrimSpace(opts.Identity))
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		s.identity = id
	}
	return s, nil
}

func (s *FileStore) Load(context.Context) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, ErrNoManifest
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode: %v", ErrInvalidManifest, err)
	}
	return m, nil
}

func (s *FileStore) SaveManifest(_ context.Context, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(s.dir, manifestFile)
	if err := s.backup(path); err != nil {
		return err
	}
	return atomicWriteFile(path, data, 0o644)
}

// Backups lists stored manifest backups, oldest first.
func (s *FileStore) Backups() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, backupDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), backupSuffix) {
			out = append(out, filepath.Join(s.dir, backupDir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

// ReadBackup decompresses and decodes one backup file.
func (s *FileStore) ReadBackup(path string) (Manifest, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("zstd decompress: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode backup: %v", ErrInvalidManifest, err)
	}
	return m, nil
}

func (s *FileStore) backup(manifestPath string) error {
	if s.backups < 0 {
		return nil
	}
	prev, err := os.ReadFile(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest for backup: %w", err)
	}
	name := fmt.Sprintf("manifest-%020d%s", s.now().UnixNano(), backupSuffix)
	target := filepath.Join(s.dir, backupDir, name)
	if err := atomicWriteFile(target, zstdEncoder.EncodeAll(prev, nil), 0o644); err != nil {
		return fmt.Errorf("write manifest backup: %w", err)
	}

	existing, err := s.Backups()
	if err != nil {
		return fmt.Errorf("list manifest backups: %w", err)
	}
	for len(existing) > s.backups {
		_ = os.Remove(existing[0])
		existing = existing[1:]
	}
	return nil
}

func (s *FileStore) SavePrivateKey(_ context.Context, version uint32, key ed25519.PrivateKey) error {
	if s.identity == nil {
		encoded := base64.StdEncoding.EncodeToString(key)
		return atomicWriteFile(s.privatePath(version), []byte(encoded), 0o600)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(key); err != nil {
		return fmt.Errorf("writing private key to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}
	return atomicWriteFile(s.privatePath(version), sealed.Bytes(), 0o600)
}

func (s *FileStore) LoadPrivateKey(_ context.Context, version uint32) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(s.privatePath(version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: private key v%d", ErrKeyNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("read private key v%d: %w", version, err)
	}

	var raw []byte
	if s.identity == nil {
		raw, err = base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode private key v%d: %w", version, err)
		}
	} else {
		r, err := age.Decrypt(bytes.NewReader(data), s.identity)
		if err != nil {
			return nil, fmt.Errorf("decrypting private key v%d: %w", version, err)
		}
		raw, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading private key v%d: %w", version, err)
		}
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key v%d has %d bytes", ErrInvalidManifest, version, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

func (s *FileStore) DeletePrivateKey(_ context.Context, version uint32) error {
	err := os.Remove(s.privatePath(version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) privatePath(version uint32) string {
	ext := ".key"
	if s.identity != nil {
		ext = ".age"
	}
	return filepath.Join(s.dir, fmt.Sprintf("private_v%d%s", version, ext))
}
